package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deployd/internal/deployments"
	"deployd/internal/launcher"
	"deployd/internal/monitor"
	"deployd/internal/ports"
	"deployd/internal/registry"
	"deployd/internal/store"
	"deployd/pkg/types"
)

// fakeProc is a "serving process" backed by a TCP listener.
type fakeProc struct {
	pid  int
	l    net.Listener
	done chan struct{}
	once sync.Once
}

func (p *fakeProc) PID() int              { return p.pid }
func (p *fakeProc) Done() <-chan struct{} { return p.done }
func (p *fakeProc) Err() error            { return nil }

func (p *fakeProc) stop() {
	p.once.Do(func() {
		if p.l != nil {
			_ = p.l.Close()
		}
		close(p.done)
	})
}

type fakeLauncher struct {
	mu           sync.Mutex
	nextPID      int
	procs        map[string]*fakeProc
	launched     []launcher.Spec
	terminated   []launcher.Target
	launchErr    error
	terminateErr error
	neverListen  bool
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{nextPID: 1000, procs: make(map[string]*fakeProc)}
}

func (f *fakeLauncher) Launch(_ context.Context, spec launcher.Spec) (launcher.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, spec)
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	f.nextPID++
	p := &fakeProc{pid: f.nextPID, done: make(chan struct{})}
	if !f.neverListen {
		l, err := net.Listen("tcp", ":"+strconv.Itoa(spec.Port))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", launcher.ErrLaunchFailed, err)
		}
		p.l = l
		go func() {
			for {
				c, err := l.Accept()
				if err != nil {
					return
				}
				_ = c.Close()
			}
		}()
	}
	f.procs[spec.ID] = p
	return p, nil
}

func (f *fakeLauncher) Terminate(_ context.Context, t launcher.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, t)
	if f.terminateErr != nil {
		return f.terminateErr
	}
	if p := f.procs[t.ID]; p != nil {
		p.stop()
		delete(f.procs, t.ID)
	}
	return nil
}

// crash stops the process for id without going through Terminate.
func (f *fakeLauncher) crash(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.procs[id]; p != nil {
		p.stop()
		delete(f.procs, id)
	}
}

func (f *fakeLauncher) stopAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.procs {
		p.stop()
		delete(f.procs, id)
	}
}

func (f *fakeLauncher) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launched)
}

func (f *fakeLauncher) terminatedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.terminated))
	for _, t := range f.terminated {
		out = append(out, t.ID)
	}
	return out
}

type fakeModels struct {
	runs map[string]map[string]string
	err  error
}

func (f *fakeModels) ListModels(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, 0, len(f.runs))
	for name := range f.runs {
		out = append(out, name)
	}
	return out, nil
}

func (f *fakeModels) ListVersions(_ context.Context, name string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	vs, ok := f.runs[name]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", name, registry.ErrNotFound)
	}
	out := make([]string, 0, len(vs))
	for v := range vs {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeModels) Resolve(_ context.Context, name, version string) (registry.ModelVersion, error) {
	if f.err != nil {
		return registry.ModelVersion{}, f.err
	}
	run, ok := f.runs[name][version]
	if !ok {
		return registry.ModelVersion{}, fmt.Errorf("%s/%s: %w", name, version, registry.ErrNotFound)
	}
	return registry.ModelVersion{Name: name, Version: version, RunReference: run}, nil
}

type fakeMonitor struct {
	mu           sync.Mutex
	registered   []monitor.Endpoint
	unregistered []string
	err          error
}

func (f *fakeMonitor) Register(_ context.Context, ep monitor.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, ep)
	return f.err
}

func (f *fakeMonitor) Unregister(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, id)
	return f.err
}

type harness struct {
	m        *Manager
	store    *store.MemoryStore
	reg      *deployments.Registry
	launcher *fakeLauncher
	models   *fakeModels
	monitor  *fakeMonitor
	pub      *MemoryPublisher
}

func testModels() *fakeModels {
	return &fakeModels{runs: map[string]map[string]string{
		"iris":  {"1": "run-iris-1", "2": "run-iris-2", "3": "run-iris-3"},
		"wine":  {"7": "run-wine-7"},
		"blank": {"1": ""},
	}}
}

// newHarness wires a Manager over fakes. seed rows are written to the store
// before the registry mirror is loaded.
func newHarness(t *testing.T, r ports.Range, seed ...types.Deployment) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	for _, d := range seed {
		if err := st.Upsert(context.Background(), d); err != nil {
			t.Fatalf("seed %s: %v", d.ID, err)
		}
	}
	reg, err := deployments.Open(context.Background(), st)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	h := &harness{
		store:    st,
		reg:      reg,
		launcher: newFakeLauncher(),
		models:   testModels(),
		monitor:  &fakeMonitor{},
		pub:      NewMemoryPublisher(),
	}
	m, err := NewWithConfig(ManagerConfig{
		Deployments:    reg,
		Models:         h.models,
		Allocator:      ports.NewAllocator(r),
		Launcher:       h.launcher,
		Prober:         launcher.Prober{Attempts: 20, Interval: 10 * time.Millisecond, DialTimeout: 100 * time.Millisecond},
		Monitor:        h.monitor,
		Publisher:      h.pub,
		Logger:         zerolog.Nop(),
		MonitorTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	h.m = m
	t.Cleanup(h.launcher.stopAll)
	return h
}

// requireFree skips the test when any port of r is bound on this host.
func requireFree(t *testing.T, r ports.Range) {
	t.Helper()
	a := ports.NewAllocator(r)
	if n := a.Free(nil); n != r.Size() {
		t.Skipf("ports %s partly in use on this host", r)
	}
}

func hasEvent(p *MemoryPublisher, name, id string) bool {
	evs := p.Events()
	if id != "" {
		evs = p.For(id)
	}
	for _, e := range evs {
		if e.Name == name {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")
