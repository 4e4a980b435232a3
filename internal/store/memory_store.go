package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"deployd/pkg/types"
)

// MemoryStore is a non-durable [Store]. It enforces the same id and port
// uniqueness as the SQL schema.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]types.Deployment
	// FailWrites makes Upsert and Delete return ErrStorage; used to
	// exercise storage failure paths.
	FailWrites bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]types.Deployment)}
}

func (m *MemoryStore) List(_ context.Context) ([]types.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Deployment, 0, len(m.rows))
	for _, d := range m.rows {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (types.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return types.Deployment{}, fmt.Errorf("deployment %q: %w", id, ErrNotFound)
	}
	return d, nil
}

func (m *MemoryStore) Upsert(_ context.Context, d types.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("%w: upsert deployment %q: writes disabled", ErrStorage, d.ID)
	}
	for id, other := range m.rows {
		if id != d.ID && other.Port == d.Port {
			return fmt.Errorf("%w: %w: port %d for %q", ErrStorage, ErrPortConflict, d.Port, d.ID)
		}
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	d.UpdatedAt = d.UpdatedAt.UTC().Truncate(time.Millisecond)
	m.rows[d.ID] = d
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("%w: delete deployment %q: writes disabled", ErrStorage, id)
	}
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("deployment %q: %w", id, ErrNotFound)
	}
	delete(m.rows, id)
	return nil
}
