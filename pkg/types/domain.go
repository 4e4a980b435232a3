package types

import "time"

// Deployment is the durable record of one running model version.
// ID, Port and RunReference never change for the lifetime of a record;
// a re-deploy replaces the whole row.
type Deployment struct {
	// Canonical id, "{model_name}-{version}".
	// example: iris-3
	ID string `json:"id" example:"iris-3"`
	// Model name in the external registry.
	// example: iris
	ModelName string `json:"model_name" example:"iris"`
	// Model version in the external registry.
	// example: 3
	Version string `json:"version" example:"3"`
	// TCP port the serving process listens on.
	// example: 8001
	Port int `json:"port" example:"8001"`
	// Opaque handle of the trained artifact, as returned by the registry.
	// example: 0f3c2a8d4b6e4f0e9a1b2c3d4e5f6a7b
	RunReference string `json:"run_reference" example:"0f3c2a8d4b6e4f0e9a1b2c3d4e5f6a7b"`
	// Last known process id of the serving process (0 when unknown).
	PID int `json:"pid,omitempty"`
	// Time the row was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// DeploymentID builds the canonical deployment id for a model version.
func DeploymentID(modelName, version string) string {
	return modelName + "-" + version
}

// View projects a Deployment onto the public /deployments shape.
func (d Deployment) View() DeploymentView {
	return DeploymentView{
		ModelName:    d.ModelName,
		Version:      d.Version,
		Port:         d.Port,
		RunReference: d.RunReference,
	}
}
