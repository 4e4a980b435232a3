package manager

import (
	"errors"
	"net/http"

	"deployd/internal/deployments"
	"deployd/internal/launcher"
	"deployd/internal/ports"
	"deployd/internal/registry"
	"deployd/internal/store"
)

var (
	// ErrNotFound marks unknown deployments.
	ErrNotFound = errors.New("not found")
	// ErrUpstream marks failures of an external dependency (model registry).
	ErrUpstream = errors.New("upstream error")
	// ErrInvalid marks malformed requests (empty model name or version).
	ErrInvalid = errors.New("invalid argument")
)

// OpError reports which manager operation failed and for which id.
type OpError struct {
	Op  string
	ID  string
	Err error
}

func (e *OpError) Error() string {
	if e.ID == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.ID + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// StatusCode lets the HTTP layer map the error without importing this package's helpers.
func (e *OpError) StatusCode() int { return StatusCode(e.Err) }

func opErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, ID: id, Err: err}
}

// IsInvalid reports a malformed request or a record the registry refused.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid) || errors.Is(err, deployments.ErrInvalidRecord)
}

// IsNotFound reports whether err is an unknown model, version or deployment.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, store.ErrNotFound) || errors.Is(err, registry.ErrNotFound)
}

// IsPortExhausted reports whether no port was left in the range.
func IsPortExhausted(err error) bool { return errors.Is(err, ports.ErrPortExhausted) }

// IsLaunchFailed reports environment preparation or process start failures.
func IsLaunchFailed(err error) bool { return launcher.IsLaunchFailed(err) }

// IsReadinessTimeout reports a process that never accepted connections.
func IsReadinessTimeout(err error) bool { return launcher.IsReadinessTimeout(err) }

// IsStorageError reports a failure of the durable deployment store.
func IsStorageError(err error) bool { return errors.Is(err, store.ErrStorage) }

// IsUpstream reports a failure talking to an external dependency.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstream) || errors.Is(err, registry.ErrUnavailable)
}

// StatusCode maps err to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsInvalid(err):
		return http.StatusBadRequest
	case IsStorageError(err):
		return http.StatusInternalServerError
	case IsNotFound(err):
		return http.StatusNotFound
	case IsPortExhausted(err):
		return http.StatusServiceUnavailable
	case IsReadinessTimeout(err):
		return http.StatusGatewayTimeout
	case IsLaunchFailed(err), IsUpstream(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
