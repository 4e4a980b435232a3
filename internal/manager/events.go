package manager

import "github.com/rs/zerolog"

// Event represents a deployment lifecycle event.
// Minimal and stable: name + deployment id and optional fields.
type Event struct {
	Name         string
	DeploymentID string
	Fields       map[string]any
}

// Event names.
const (
	EventDeployStart         = "deploy_start"
	EventDeployReady         = "deploy_ready"
	EventDeployNoop          = "deploy_noop"
	EventDeployFailed        = "deploy_failed"
	EventUndeploy            = "undeploy"
	EventUndeployFailed      = "undeploy_failed"
	EventReconcileAlive      = "reconcile_alive"
	EventReconcileRelaunched = "reconcile_relaunched"
	EventReconcileFailed     = "reconcile_failed"
	EventReconcileDone       = "reconcile_done"
	EventMonitorError        = "monitor_error"
)

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes every event as a structured debug log line.
type LogPublisher struct{ Logger zerolog.Logger }

func (p LogPublisher) Publish(e Event) {
	ev := p.Logger.Debug().Str("event", e.Name)
	if e.DeploymentID != "" {
		ev = ev.Str("id", e.DeploymentID)
	}
	ev.Fields(e.Fields).Msg("manager event")
}

// fanout publishes to several publishers in order.
type fanout []EventPublisher

func (f fanout) Publish(e Event) {
	for _, p := range f {
		p.Publish(e)
	}
}
