package manager

import (
	"context"
	"time"

	"deployd/internal/launcher"
	"deployd/pkg/types"
)

// Reconcile runs once at startup. Deployments whose port accepts
// connections are kept; dead ones are relaunched on their persisted port
// with their persisted run reference. A deployment that cannot be brought
// back is logged and left untouched: its id, port and run reference never
// change here. Only the bookkeeping PID is updated on success.
//
// Reconcile holds the operation lock for the whole pass, so deploys and
// undeploys issued meanwhile wait for it.
func (m *Manager) Reconcile(ctx context.Context) ReconcileReport {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.reconcile = StateRunning
	m.mu.Unlock()

	rep := ReconcileReport{Failed: map[string]string{}, Started: time.Now()}
	for _, d := range m.deployments.List() {
		if ctx.Err() != nil {
			rep.Failed[d.ID] = ctx.Err().Error()
			continue
		}
		if m.prober.Alive(d.Port) {
			rep.Alive = append(rep.Alive, d.ID)
			reconcileTotal.WithLabelValues("alive").Inc()
			m.pub.Publish(Event{Name: EventReconcileAlive, DeploymentID: d.ID, Fields: map[string]any{"port": d.Port}})
			continue
		}
		if err := m.relaunch(ctx, d); err != nil {
			rep.Failed[d.ID] = err.Error()
			reconcileTotal.WithLabelValues("failed").Inc()
			m.pub.Publish(Event{Name: EventReconcileFailed, DeploymentID: d.ID, Fields: map[string]any{"port": d.Port, "error": err.Error()}})
			m.log.Error().Err(err).Str("event", EventReconcileFailed).Str("id", d.ID).Int("port", d.Port).Msg("relaunch failed")
			continue
		}
		rep.Relaunched = append(rep.Relaunched, d.ID)
		reconcileTotal.WithLabelValues("relaunched").Inc()
	}
	rep.Finished = time.Now()

	m.mu.Lock()
	m.reconcile = StateDone
	m.report = rep
	m.mu.Unlock()
	m.pub.Publish(Event{Name: EventReconcileDone, Fields: map[string]any{
		"alive": len(rep.Alive), "relaunched": len(rep.Relaunched), "failed": len(rep.Failed),
	}})
	m.log.Info().Str("event", EventReconcileDone).
		Int("alive", len(rep.Alive)).Int("relaunched", len(rep.Relaunched)).Int("failed", len(rep.Failed)).
		Int64("dur_ms", rep.Finished.Sub(rep.Started).Milliseconds()).
		Msg("reconciliation finished")
	return rep
}

func (m *Manager) relaunch(ctx context.Context, d types.Deployment) error {
	// A stale process may still hold the persisted PID while not serving.
	m.cleanup(ctx, targetFor(d, d.PID))
	if err := m.portTaken(d.Port); err != nil {
		return err
	}

	spec := launcher.Spec{ID: d.ID, ModelName: d.ModelName, Version: d.Version, RunReference: d.RunReference, Port: d.Port}
	h, err := m.launcher.Launch(ctx, spec)
	if err != nil {
		return err
	}
	if err := m.prober.AwaitReady(ctx, d.Port, h); err != nil {
		m.cleanup(ctx, targetFor(d, h.PID()))
		return err
	}
	upd := d
	upd.PID = h.PID()
	upd.UpdatedAt = time.Now().UTC()
	if err := m.deployments.Upsert(ctx, upd); err != nil {
		// The process serves on its persisted port; only bookkeeping is stale.
		m.log.Warn().Err(err).Str("id", d.ID).Int("pid", upd.PID).Msg("failed to record relaunched pid")
	}
	m.notify(ctx, d.ID, "register", func(ctx context.Context) error {
		return m.monitor.Register(ctx, endpointFor(d))
	})
	m.pub.Publish(Event{Name: EventReconcileRelaunched, DeploymentID: d.ID, Fields: map[string]any{"port": d.Port, "pid": upd.PID}})
	m.log.Info().Str("event", EventReconcileRelaunched).Str("id", d.ID).Int("port", d.Port).Int("pid", upd.PID).Msg("relaunched")
	return nil
}

// LastReconcile returns the report of the last reconciliation pass.
func (m *Manager) LastReconcile() (ReconcileReport, State) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.report, m.reconcile
}
