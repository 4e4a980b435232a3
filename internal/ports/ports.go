// Package ports hands out TCP ports for serving processes.
//
// Allocation probes each candidate by binding it on the wildcard address and
// releasing it straight away. Between that probe and the serving process
// binding the port another process may take it; callers treat the resulting
// launch failure as retryable.
package ports

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ErrPortExhausted is returned when no port in the range can be allocated.
var ErrPortExhausted = errors.New("port range exhausted")

// Range is the half-open interval [Start, End) of allocatable ports.
type Range struct {
	Start int `json:"start" yaml:"start" toml:"start"`
	End   int `json:"end" yaml:"end" toml:"end"`
}

// Validate checks that the range is non-empty and inside the TCP port space.
func (r Range) Validate() error {
	if r.Start <= 0 || r.End <= 0 {
		return fmt.Errorf("port range is required (start=%d end=%d)", r.Start, r.End)
	}
	if r.Start >= r.End {
		return fmt.Errorf("port range start %d must be below end %d", r.Start, r.End)
	}
	if r.End > 65536 {
		return fmt.Errorf("port range end %d exceeds 65536", r.End)
	}
	return nil
}

// Size is the number of ports in the range.
func (r Range) Size() int { return r.End - r.Start }

// Contains reports whether port lies in [Start, End).
func (r Range) Contains(port int) bool { return port >= r.Start && port < r.End }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// Allocator scans a Range for the lowest free port.
type Allocator struct {
	Range Range
	// BindHost is the address probed with a transient listener. Empty means
	// the wildcard address, which is what the serving processes bind.
	BindHost string
}

// NewAllocator returns an allocator probing the wildcard address.
func NewAllocator(r Range) *Allocator { return &Allocator{Range: r} }

// Allocate returns the lowest port in the range that is not reserved and
// can currently be bound. reserved maps port -> holder (deployment id).
func (a *Allocator) Allocate(reserved map[int]string) (int, error) {
	for p := a.Range.Start; p < a.Range.End; p++ {
		if _, held := reserved[p]; held {
			continue
		}
		if a.canBind(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: no free port in %s", ErrPortExhausted, a.Range)
}

// Free counts the ports Allocate could hand out right now.
func (a *Allocator) Free(reserved map[int]string) int {
	n := 0
	for p := a.Range.Start; p < a.Range.End; p++ {
		if _, held := reserved[p]; held {
			continue
		}
		if a.canBind(p) {
			n++
		}
	}
	return n
}

func (a *Allocator) canBind(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort(a.BindHost, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Listening reports whether something accepts TCP connections on host:port.
func Listening(host string, port int, timeout time.Duration) bool {
	if host == "" {
		host = "127.0.0.1"
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
