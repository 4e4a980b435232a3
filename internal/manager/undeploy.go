package manager

import (
	"context"
	"fmt"
	"time"
)

// Undeploy terminates the serving process for id and removes its record.
// The process is stopped before the record is deleted; if termination
// fails the record is kept so the port is not handed out twice.
func (m *Manager) Undeploy(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() {
		undeploysTotal.WithLabelValues(outcomeLabel(err)).Inc()
		if err != nil && !IsNotFound(err) {
			m.setLastError(err)
			m.pub.Publish(Event{Name: EventUndeployFailed, DeploymentID: id, Fields: map[string]any{"error": err.Error()}})
			m.log.Error().Err(err).Str("event", EventUndeployFailed).Str("id", id).Msg("undeploy failed")
		}
	}()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	d, ok := m.deployments.Lookup(id)
	if !ok {
		return opErr("undeploy", id, fmt.Errorf("%w: deployment %s", ErrNotFound, id))
	}
	if err := m.launcher.Terminate(ctx, targetFor(d, d.PID)); err != nil {
		return opErr("undeploy", id, err)
	}
	if err := m.deployments.Delete(ctx, id); err != nil {
		return opErr("undeploy", id, err)
	}
	activeDeployments.Set(float64(m.deployments.Len()))
	m.notify(ctx, id, "unregister", func(ctx context.Context) error {
		return m.monitor.Unregister(ctx, id)
	})

	m.undeploys.Add(1)
	m.pub.Publish(Event{Name: EventUndeploy, DeploymentID: id, Fields: map[string]any{"port": d.Port}})
	m.log.Info().Str("event", EventUndeploy).Str("id", id).Int("port", d.Port).Int64("dur_ms", time.Since(start).Milliseconds()).Msg("undeployed")
	return nil
}
