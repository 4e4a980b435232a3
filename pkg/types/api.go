package types

// DeploymentView is the per-deployment value returned by GET /deployments.
type DeploymentView struct {
	// example: iris
	ModelName string `json:"model_name" example:"iris"`
	// example: 3
	Version string `json:"version" example:"3"`
	// example: 8001
	Port int `json:"port" example:"8001"`
	// example: 0f3c2a8d4b6e4f0e9a1b2c3d4e5f6a7b
	RunReference string `json:"run_reference" example:"0f3c2a8d4b6e4f0e9a1b2c3d4e5f6a7b"`
}

// DeploymentsResponse maps deployment id to its view.
type DeploymentsResponse map[string]DeploymentView

// DeployResponse is returned by POST /deploy/{name}/{version}.
type DeployResponse struct {
	// example: iris-3
	ID string `json:"id" example:"iris-3"`
	// example: 8001
	Port int `json:"port" example:"8001"`
	// example: Model iris version 3 deployed on port 8001
	Message string `json:"message" example:"Model iris version 3 deployed on port 8001"`
}

// UndeployResponse is returned by POST /undeploy/{id}.
type UndeployResponse struct {
	// example: iris-3
	ID string `json:"id" example:"iris-3"`
	// example: Model iris-3 undeployed
	Message string `json:"message" example:"Model iris-3 undeployed"`
}

// ModelsResponse wraps the list of model names returned by GET /models.
type ModelsResponse struct {
	// Registered model names.
	Models []string `json:"models"`
}

// VersionsResponse wraps the versions returned by GET /models/{name}/versions.
type VersionsResponse struct {
	// example: iris
	Model string `json:"model" example:"iris"`
	// Known versions, in registry order.
	Versions []string `json:"versions"`
}

// FreePortsResponse is returned by GET /deployments/free-ports.
type FreePortsResponse struct {
	// Number of ports the allocator could hand out right now.
	// example: 97
	Free int `json:"free" example:"97"`
	// First port of the range (inclusive).
	// example: 8001
	Start int `json:"start" example:"8001"`
	// End of the range (exclusive).
	// example: 8101
	End int `json:"end" example:"8101"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: deployment not found: iris-3
	Error string `json:"error" example:"deployment not found: iris-3"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
