package manager

import (
	"sort"
	"time"

	"deployd/pkg/types"
)

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Reconcile: m.reconcile, Deployments: m.deployments.Len(), LastError: m.lastErr}
}

// Status builds a detailed status response for /status. Liveness is probed
// with a single dial per deployment.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	rep, state, lastErr := m.report, m.reconcile, m.lastErr
	m.mu.RUnlock()

	list := m.deployments.List()
	r := m.alloc.Range
	resp := types.StatusResponse{
		Deployments:    make([]types.DeploymentStatus, 0, len(list)),
		PortStart:      r.Start,
		PortEnd:        r.End,
		FreePorts:      m.FreePorts(),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		LastError:      lastErr,
		DeploysTotal:   m.deploys.Load(),
		UndeploysTotal: m.undeploys.Load(),
	}
	for _, d := range list {
		resp.Deployments = append(resp.Deployments, types.DeploymentStatus{
			ID:    d.ID,
			Port:  d.Port,
			PID:   d.PID,
			Alive: m.prober.Alive(d.Port),
		})
	}
	resp.Reconcile = types.ReconcileStatus{
		Done:       state == StateDone || state == StateSkipped,
		Alive:      rep.Alive,
		Relaunched: rep.Relaunched,
	}
	for id := range rep.Failed {
		resp.Reconcile.Failed = append(resp.Reconcile.Failed, id)
	}
	sort.Strings(resp.Reconcile.Failed)
	return resp
}
