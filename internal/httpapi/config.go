package httpapi

const defaultMaxBodyBytes int64 = 1 << 20

// CORS lists what cross-origin callers may do. Empty Methods or Headers
// fall back to the go-chi/cors defaults.
type CORS struct {
	Origins []string
	Methods []string
	Headers []string
}

// Settings read by NewMux. They apply to muxes built after the change.
var (
	// maxBodyBytes caps request bodies on control-plane endpoints only.
	maxBodyBytes = defaultMaxBodyBytes
	corsOpts     *CORS
)

// SetMaxBodyBytes sets the body cap; n <= 0 restores the 1 MiB default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		n = defaultMaxBodyBytes
	}
	maxBodyBytes = n
}

// SetCORS turns CORS on with c, or off when c is nil or lists no origins.
func SetCORS(c *CORS) {
	if c == nil || len(c.Origins) == 0 {
		corsOpts = nil
		return
	}
	cp := CORS{
		Origins: append([]string(nil), c.Origins...),
		Methods: append([]string(nil), c.Methods...),
		Headers: append([]string(nil), c.Headers...),
	}
	corsOpts = &cp
}
