package manager

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"deployd/internal/launcher"
)

var (
	deploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deployd",
			Subsystem: "manager",
			Name:      "deploys_total",
			Help:      "Deploy operations by outcome",
		},
		[]string{"outcome"},
	)

	undeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deployd",
			Subsystem: "manager",
			Name:      "undeploys_total",
			Help:      "Undeploy operations by outcome",
		},
		[]string{"outcome"},
	)

	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deployd",
			Subsystem: "manager",
			Name:      "reconcile_deployments_total",
			Help:      "Deployments visited by reconciliation, by result",
		},
		[]string{"result"},
	)

	deployDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "deployd",
			Subsystem: "manager",
			Name:      "deploy_duration_seconds",
			Help:      "Wall time of successful deploys",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		},
	)

	activeDeployments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deployd",
			Subsystem: "manager",
			Name:      "active_deployments",
			Help:      "Deployment records currently registered",
		},
	)
)

func init() {
	prometheus.MustRegister(deploysTotal, undeploysTotal, reconcileTotal, deployDuration, activeDeployments)
}

// outcomeLabel classifies err for the outcome label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsInvalid(err):
		return "invalid"
	case IsNotFound(err):
		return "not_found"
	case IsPortExhausted(err):
		return "port_exhausted"
	case IsReadinessTimeout(err):
		return "readiness_timeout"
	case IsLaunchFailed(err):
		return "launch_failed"
	case IsStorageError(err):
		return "storage_error"
	case errors.Is(err, launcher.ErrTerminateFailed):
		return "terminate_failed"
	case IsUpstream(err):
		return "upstream_error"
	default:
		return "error"
	}
}
