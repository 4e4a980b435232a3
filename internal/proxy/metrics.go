package proxy

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeForwarded     = "forwarded"
	outcomeNotFound      = "not_found"
	outcomeUpstreamError = "upstream_error"
)

var (
	proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deployd",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxied requests by deployment and outcome",
		},
		[]string{"deployment", "outcome"},
	)

	inferenceLogged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deployd",
			Subsystem: "proxy",
			Name:      "inference_logged_total",
			Help:      "Inference request bodies written to the log store",
		},
		[]string{"deployment"},
	)

	inferenceLogErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deployd",
			Subsystem: "proxy",
			Name:      "inference_log_errors_total",
			Help:      "Inference log writes that failed",
		},
	)
)

func init() {
	prometheus.MustRegister(proxyRequests, inferenceLogged, inferenceLogErrors)
}
