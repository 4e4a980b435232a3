package types

// DeploymentStatus summarises one deployment for GET /status.
type DeploymentStatus struct {
	// example: iris-3
	ID string `json:"id" example:"iris-3"`
	// example: 8001
	Port int `json:"port" example:"8001"`
	// Process id of the serving runtime, when known.
	// example: 12345
	PID int `json:"pid,omitempty" example:"12345"`
	// Whether the port accepted a TCP connection when status was built.
	// example: true
	Alive bool `json:"alive" example:"true"`
}

// ReconcileStatus reports the outcome of the boot-time reconciliation pass.
type ReconcileStatus struct {
	// example: true
	Done bool `json:"done" example:"true"`
	// Deployments that were already serving.
	Alive []string `json:"alive,omitempty"`
	// Deployments that were relaunched on their persisted port.
	Relaunched []string `json:"relaunched,omitempty"`
	// Deployments that are still dead after the retry budget.
	Failed []string `json:"failed,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Deployments []DeploymentStatus `json:"deployments"`
	// example: 8001
	PortStart int `json:"port_start" example:"8001"`
	// example: 8101
	PortEnd int `json:"port_end" example:"8101"`
	// example: 97
	FreePorts int `json:"free_ports" example:"97"`
	// Uptime of the control plane in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Last operation error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	Reconcile ReconcileStatus `json:"reconcile"`
	// Total successful deploys since start.
	// example: 4
	DeploysTotal uint64 `json:"deploys_total" example:"4"`
	// Total successful undeploys since start.
	// example: 1
	UndeploysTotal uint64 `json:"undeploys_total" example:"1"`
}
