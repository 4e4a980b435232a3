// Package store persists deployment records.
//
// SQLStore keeps them in SQLite (default) or PostgreSQL with the schema
// managed by goose; MemoryStore is a process-local stand-in.
package store

import (
	"context"
	"errors"

	"deployd/pkg/types"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("deployment not found")
	// ErrStorage wraps every failure of the durable backend.
	ErrStorage = errors.New("storage error")
	// ErrPortConflict marks an attempt to store a port already held by a
	// different deployment. It is always reported together with ErrStorage.
	ErrPortConflict = errors.New("port already assigned")
)

// Store is the durable half of the deployment registry.
type Store interface {
	List(ctx context.Context) ([]types.Deployment, error)
	Get(ctx context.Context, id string) (types.Deployment, error)
	// Upsert inserts d or atomically replaces the row with the same id.
	Upsert(ctx context.Context, d types.Deployment) error
	// Delete removes id; ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}
