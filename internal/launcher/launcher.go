// Package launcher starts and stops model serving processes and waits for
// them to accept connections.
//
// The control plane only depends on the narrow Launcher interface; the
// Subprocess implementation shells out to an external serving runtime.
package launcher

import (
	"context"
	"errors"
)

var (
	// ErrLaunchFailed covers environment preparation failures, start errors
	// and processes that exit before becoming ready.
	ErrLaunchFailed = errors.New("launch failed")
	// ErrReadinessTimeout is returned when the process never accepted a
	// connection within the probe budget.
	ErrReadinessTimeout = errors.New("readiness timeout")
)

// Spec describes one serving process to launch.
type Spec struct {
	ID           string
	ModelName    string
	Version      string
	RunReference string
	Port         int
}

// Target identifies a process to terminate. PID is the persisted process id
// and is only consulted when the launcher is not tracking ID itself. When PID
// cannot be verified the launcher looks for a process serving the model on
// Port instead.
type Target struct {
	ID           string
	ModelName    string
	Version      string
	RunReference string
	Port         int
	PID          int
}

var (
	// ErrTerminateFailed is returned when the port is still served after
	// termination, or no process could be matched to a live port.
	ErrTerminateFailed = errors.New("terminate failed")
)

// Handle is a launched process.
type Handle interface {
	PID() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err is the exit error; only meaningful after Done is closed.
	Err() error
}

// Launcher is the capability the orchestrator needs from a process runtime.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
	Terminate(ctx context.Context, t Target) error
}

// IsLaunchFailed reports whether err is (or wraps) ErrLaunchFailed.
func IsLaunchFailed(err error) bool { return errors.Is(err, ErrLaunchFailed) }

// IsReadinessTimeout reports whether err is (or wraps) ErrReadinessTimeout.
func IsReadinessTimeout(err error) bool { return errors.Is(err, ErrReadinessTimeout) }
