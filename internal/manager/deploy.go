package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deployd/internal/launcher"
	"deployd/internal/registry"
	"deployd/pkg/types"
)

// Deploy makes model name at version reachable on a dedicated port.
//
// If the deployment is already registered and its port accepts connections
// the existing record is returned unchanged (created is false). Otherwise a
// fresh port is allocated, the runtime launched and awaited, and the record
// written. The process is terminated whenever a later step fails, so a
// failed deploy leaves neither a record nor a process behind.
func (m *Manager) Deploy(ctx context.Context, name, version string) (d types.Deployment, created bool, err error) {
	id := types.DeploymentID(name, version)
	start := time.Now()
	defer func() {
		deploysTotal.WithLabelValues(outcomeLabel(err)).Inc()
		if err != nil {
			m.setLastError(err)
			m.pub.Publish(Event{Name: EventDeployFailed, DeploymentID: id, Fields: map[string]any{"error": err.Error()}})
			m.log.Error().Err(err).Str("event", EventDeployFailed).Str("id", id).Int64("dur_ms", time.Since(start).Milliseconds()).Msg("deploy failed")
		}
	}()
	if strings.TrimSpace(name) == "" || strings.TrimSpace(version) == "" {
		return types.Deployment{}, false, opErr("deploy", id, fmt.Errorf("%w: model name and version are required", ErrInvalid))
	}

	// Registry round-trips happen outside the operation lock.
	mv, err := m.models.Resolve(ctx, name, version)
	if err != nil {
		return types.Deployment{}, false, opErr("deploy", id, err)
	}
	if mv.RunReference == "" {
		return types.Deployment{}, false, opErr("deploy", id, fmt.Errorf("%w: no run reference for %s/%s", registry.ErrNotFound, name, version))
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	reserved := m.deployments.ReservedPorts()
	if prev, ok := m.deployments.Lookup(id); ok {
		if m.prober.Alive(prev.Port) {
			m.pub.Publish(Event{Name: EventDeployNoop, DeploymentID: id, Fields: map[string]any{"port": prev.Port}})
			m.log.Info().Str("event", EventDeployNoop).Str("id", id).Int("port", prev.Port).Msg("already deployed")
			return prev, false, nil
		}
		// Dead record: stop any leftover and release its port for reuse.
		m.cleanup(ctx, targetFor(prev, prev.PID))
		delete(reserved, prev.Port)
	}

	port, err := m.alloc.Allocate(reserved)
	if err != nil {
		return types.Deployment{}, false, opErr("deploy", id, err)
	}
	m.pub.Publish(Event{Name: EventDeployStart, DeploymentID: id, Fields: map[string]any{"port": port, "run_reference": mv.RunReference}})
	m.log.Info().Str("event", EventDeployStart).Str("id", id).Int("port", port).Str("run_reference", mv.RunReference).Msg("deploying")

	if err := m.portTaken(port); err != nil {
		return types.Deployment{}, false, opErr("deploy", id, err)
	}
	spec := launcher.Spec{ID: id, ModelName: name, Version: version, RunReference: mv.RunReference, Port: port}
	h, err := m.launcher.Launch(ctx, spec)
	if err != nil {
		return types.Deployment{}, false, opErr("deploy", id, err)
	}
	target := launcher.Target{ID: id, ModelName: name, Version: version, RunReference: mv.RunReference, Port: port, PID: h.PID()}
	if err := m.prober.AwaitReady(ctx, port, h); err != nil {
		m.cleanup(ctx, target)
		return types.Deployment{}, false, opErr("deploy", id, err)
	}

	d = types.Deployment{
		ID:           id,
		ModelName:    name,
		Version:      version,
		Port:         port,
		RunReference: mv.RunReference,
		PID:          h.PID(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := m.deployments.Upsert(ctx, d); err != nil {
		m.cleanup(ctx, target)
		return types.Deployment{}, false, opErr("deploy", id, err)
	}
	if stored, ok := m.deployments.Lookup(id); ok {
		d = stored
	}
	activeDeployments.Set(float64(m.deployments.Len()))
	m.notify(ctx, id, "register", func(ctx context.Context) error {
		return m.monitor.Register(ctx, endpointFor(d))
	})

	m.deploys.Add(1)
	dur := time.Since(start)
	deployDuration.Observe(dur.Seconds())
	m.setLastError(nil)
	m.pub.Publish(Event{Name: EventDeployReady, DeploymentID: id, Fields: map[string]any{"port": port, "pid": d.PID}})
	m.log.Info().Str("event", EventDeployReady).Str("id", id).Int("port", port).Int("pid", d.PID).Int64("dur_ms", dur.Milliseconds()).Msg("deployed")
	return d, true, nil
}

