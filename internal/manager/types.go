package manager

import "time"

// State is the lifecycle state of the reconciliation pass.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateSkipped State = "skipped"
)

// ReconcileReport is the outcome of one reconciliation pass.
type ReconcileReport struct {
	// Alive lists deployments whose port was already accepting connections.
	Alive []string
	// Relaunched lists deployments started again on their persisted port.
	Relaunched []string
	// Failed maps deployment id to the reason it is still dead.
	Failed   map[string]string
	Started  time.Time
	Finished time.Time
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	Reconcile   State
	Deployments int
	LastError   string
}
