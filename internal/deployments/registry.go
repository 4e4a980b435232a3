// Package deployments owns the set of deployment records: the durable store
// and the in-memory mirror the proxy reads on every request.
//
// Reads take a read lock on the mirror only. Writes are serialized, go to
// the store first, and touch the mirror only once the store accepted them,
// so a failed write never leaves the two out of step.
package deployments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"deployd/internal/store"
	"deployd/pkg/types"
)

// ErrInvalidRecord marks a record the registry refuses to store.
var ErrInvalidRecord = errors.New("invalid deployment record")

// Registry is the deployment registry aggregate.
type Registry struct {
	store store.Store

	writeMu sync.Mutex // serializes Upsert/Delete

	mu     sync.RWMutex
	byID   map[string]types.Deployment
	byPort map[int]string
}

// Open builds a Registry and loads the mirror from s.
func Open(ctx context.Context, s store.Store) (*Registry, error) {
	r := &Registry{store: s}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the mirror with the store's current content.
func (r *Registry) Reload(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	rows, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load deployments: %w", err)
	}
	byID := make(map[string]types.Deployment, len(rows))
	byPort := make(map[int]string, len(rows))
	for _, d := range rows {
		byID[d.ID] = d
		byPort[d.Port] = d.ID
	}
	r.mu.Lock()
	r.byID, r.byPort = byID, byPort
	r.mu.Unlock()
	return nil
}

// List returns a snapshot of all records ordered by id.
func (r *Registry) List() []types.Deployment {
	r.mu.RLock()
	out := make([]types.Deployment, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the record for id or store.ErrNotFound.
func (r *Registry) Get(id string) (types.Deployment, error) {
	d, ok := r.Lookup(id)
	if !ok {
		return types.Deployment{}, fmt.Errorf("deployment %q: %w", id, store.ErrNotFound)
	}
	return d, nil
}

// Lookup is the proxy's hot path.
func (r *Registry) Lookup(id string) (types.Deployment, bool) {
	r.mu.RLock()
	d, ok := r.byID[id]
	r.mu.RUnlock()
	return d, ok
}

// ReservedPorts returns port -> deployment id for every record.
func (r *Registry) ReservedPorts() map[int]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]string, len(r.byPort))
	for p, id := range r.byPort {
		out[p] = id
	}
	return out
}

// Len is the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Upsert writes d to the store and then to the mirror. A port held by a
// different id is rejected before the store is touched.
func (r *Registry) Upsert(ctx context.Context, d types.Deployment) error {
	if d.ID == "" {
		return fmt.Errorf("%w: deployment id is required", ErrInvalidRecord)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	holder, held := r.byPort[d.Port]
	r.mu.RUnlock()
	if held && holder != d.ID {
		return fmt.Errorf("%w: %w: port %d is held by %q", store.ErrStorage, store.ErrPortConflict, d.Port, holder)
	}
	if err := r.store.Upsert(ctx, d); err != nil {
		return err
	}
	// Re-read so the mirror carries exactly what the store holds.
	if stored, err := r.store.Get(ctx, d.ID); err == nil {
		d = stored
	}

	r.mu.Lock()
	if prev, ok := r.byID[d.ID]; ok && r.byPort[prev.Port] == d.ID {
		delete(r.byPort, prev.Port)
	}
	r.byID[d.ID] = d
	r.byPort[d.Port] = d.ID
	r.mu.Unlock()
	return nil
}

// Delete removes id from the store and then from the mirror.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	prev, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("deployment %q: %w", id, store.ErrNotFound)
	}
	if err := r.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	r.mu.Lock()
	delete(r.byID, id)
	if r.byPort[prev.Port] == id {
		delete(r.byPort, prev.Port)
	}
	r.mu.Unlock()
	return nil
}
