package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"deployd/internal/deployments"
	"deployd/internal/launcher"
	"deployd/internal/monitor"
	"deployd/internal/ports"
	"deployd/internal/registry"
	"deployd/pkg/types"
)

type Manager struct {
	deployments *deployments.Registry
	models      registry.ModelRegistry
	alloc       *ports.Allocator
	launcher    launcher.Launcher
	prober      ReadinessProber
	monitor     monitor.Registrar
	pub         EventPublisher
	log         zerolog.Logger

	monitorTimeout   time.Duration
	terminateTimeout time.Duration
	runtimeBins      map[string]string

	// opMu serializes Deploy, Undeploy and Reconcile.
	opMu sync.Mutex

	mu        sync.RWMutex
	reconcile State
	report    ReconcileReport
	lastErr   string

	startTime time.Time
	deploys   atomic.Uint64
	undeploys atomic.Uint64
}

// Ready reports whether the boot-time reconciliation has finished (or was skipped).
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconcile == StateDone || m.reconcile == StateSkipped
}

// SkipReconcile marks reconciliation as skipped so Ready reports true.
func (m *Manager) SkipReconcile() {
	m.mu.Lock()
	m.reconcile = StateSkipped
	m.mu.Unlock()
}

// ListModels passes through to the model registry.
func (m *Manager) ListModels(ctx context.Context) ([]string, error) {
	out, err := m.models.ListModels(ctx)
	if err != nil {
		return nil, opErr("list models", "", err)
	}
	return out, nil
}

// ListVersions passes through to the model registry.
func (m *Manager) ListVersions(ctx context.Context, name string) ([]string, error) {
	out, err := m.models.ListVersions(ctx, name)
	if err != nil {
		return nil, opErr("list versions", name, err)
	}
	return out, nil
}

// Deployments returns all registered deployments sorted by id.
func (m *Manager) Deployments() []types.Deployment {
	return m.deployments.List()
}

// Lookup returns the deployment registered under id. It never blocks on
// in-flight operations.
func (m *Manager) Lookup(id string) (types.Deployment, bool) {
	return m.deployments.Lookup(id)
}

// FreePorts counts ports in the range that could be allocated right now.
func (m *Manager) FreePorts() int {
	return m.alloc.Free(m.deployments.ReservedPorts())
}

// PortRange returns the configured allocation range.
func (m *Manager) PortRange() ports.Range { return m.alloc.Range }

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	if err == nil {
		m.lastErr = ""
	} else {
		m.lastErr = err.Error()
	}
	m.mu.Unlock()
}

// notify runs fn against the monitor on a context detached from the caller,
// bounded by the monitor timeout. Failures are logged and never returned.
func (m *Manager) notify(ctx context.Context, id, op string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.monitorTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		m.log.Warn().Err(err).Str("event", EventMonitorError).Str("id", id).Str("op", op).Msg("monitor notification failed")
		m.pub.Publish(Event{Name: EventMonitorError, DeploymentID: id, Fields: map[string]any{"op": op, "error": err.Error()}})
	}
}

// cleanup terminates a process that must not outlive a failed operation.
func (m *Manager) cleanup(ctx context.Context, t launcher.Target) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.terminateTimeout)
	defer cancel()
	if err := m.launcher.Terminate(ctx, t); err != nil {
		m.log.Error().Err(err).Str("id", t.ID).Int("pid", t.PID).Msg("failed to terminate serving process")
	}
}

// targetFor describes the process serving d, using pid instead of d.PID.
func targetFor(d types.Deployment, pid int) launcher.Target {
	return launcher.Target{
		ID:           d.ID,
		ModelName:    d.ModelName,
		Version:      d.Version,
		RunReference: d.RunReference,
		Port:         d.Port,
		PID:          pid,
	}
}

// portTaken fails with ErrLaunchFailed when something already answers on
// port, so readiness cannot mistake it for the new process.
func (m *Manager) portTaken(port int) error {
	if m.prober.Alive(port) {
		return fmt.Errorf("%w: port %d is already in use by another process", launcher.ErrLaunchFailed, port)
	}
	return nil
}

func endpointFor(d types.Deployment) monitor.Endpoint {
	return monitor.Endpoint{ID: d.ID, ModelName: d.ModelName, Version: d.Version, Port: d.Port}
}
