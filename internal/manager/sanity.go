package manager

import (
	"os/exec"
	"sort"
)

// BinaryCheck is the lookup result for one runtime executable.
type BinaryCheck struct {
	Name  string `json:"name"`
	Bin   string `json:"bin"`
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// SanityReport describes runtime checks for external dependencies.
type SanityReport struct {
	OK       bool          `json:"ok"`
	Binaries []BinaryCheck `json:"binaries"`
}

// SanityCheck validates that the configured runtime binaries are available.
// It does not mutate state and is safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{OK: true}
	names := make([]string, 0, len(m.runtimeBins))
	for name := range m.runtimeBins {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bin := m.runtimeBins[name]
		c := BinaryCheck{Name: name, Bin: bin}
		if p, err := exec.LookPath(bin); err != nil {
			c.Error = err.Error()
			r.OK = false
		} else {
			c.Found = true
			c.Path = p
		}
		r.Binaries = append(r.Binaries, c)
	}
	return r
}
