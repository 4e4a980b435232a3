package launcher

import (
	"context"
	"fmt"
	"time"

	"deployd/internal/ports"
)

// Prober polls a TCP port until it accepts connections.
type Prober struct {
	// Host dialled by the probe; defaults to 127.0.0.1.
	Host string
	// Attempts is the number of connection attempts (default 60).
	Attempts int
	// Interval between attempts (default 1s).
	Interval time.Duration
	// DialTimeout bounds each attempt (default 500ms).
	DialTimeout time.Duration
}

func (p Prober) withDefaults() Prober {
	if p.Host == "" {
		p.Host = "127.0.0.1"
	}
	if p.Attempts <= 0 {
		p.Attempts = 60
	}
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	if p.DialTimeout <= 0 {
		p.DialTimeout = 500 * time.Millisecond
	}
	return p
}

// Alive performs a single connection attempt.
func (p Prober) Alive(port int) bool {
	p = p.withDefaults()
	return ports.Listening(p.Host, port, p.DialTimeout)
}

// AwaitReady returns nil as soon as port accepts a connection while the
// process behind h is still running. If h exits first, or has exited by the
// time the port answers (someone else owns it), the result wraps
// ErrLaunchFailed. After Attempts failed dials it returns
// ErrReadinessTimeout. A nil h skips the ownership check.
func (p Prober) AwaitReady(ctx context.Context, port int, h Handle) error {
	p = p.withDefaults()
	var done <-chan struct{}
	if h != nil {
		done = h.Done()
	}
	for i := 0; i < p.Attempts; i++ {
		if ports.Listening(p.Host, port, p.DialTimeout) {
			select {
			case <-done:
				return fmt.Errorf("%w: process %d exited but port %d answers: %v", ErrLaunchFailed, h.PID(), port, h.Err())
			default:
				return nil
			}
		}
		if i == p.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return fmt.Errorf("%w: process %d exited before ready: %v", ErrLaunchFailed, h.PID(), h.Err())
		case <-time.After(p.Interval):
		}
	}
	return fmt.Errorf("%w: port %d not accepting connections after %d attempts", ErrReadinessTimeout, port, p.Attempts)
}
