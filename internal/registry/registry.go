// Package registry reads trained models from an external model registry.
package registry

import (
	"context"
	"errors"
)

// ErrNotFound is returned for unknown models or versions.
var ErrNotFound = errors.New("model not found")

// ErrUnavailable wraps transport and server failures of the registry.
var ErrUnavailable = errors.New("model registry unavailable")

// ModelVersion is one registered version of a model.
type ModelVersion struct {
	Name    string
	Version string
	// RunReference is the opaque artifact handle handed to the launcher.
	RunReference string
}

// ModelRegistry lists models and resolves a (name, version) pair to the run
// reference of its artifact.
type ModelRegistry interface {
	ListModels(ctx context.Context) ([]string, error)
	ListVersions(ctx context.Context, name string) ([]string, error)
	Resolve(ctx context.Context, name, version string) (ModelVersion, error)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
