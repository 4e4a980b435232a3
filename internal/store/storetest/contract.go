// Package storetest provides contract tests for [store.Store]
// implementations.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"deployd/internal/store"
	"deployd/pkg/types"
)

// Factory creates a fresh, empty [store.Store] for each test.
type Factory func(t *testing.T) store.Store

func sample(name, version string, port int) types.Deployment {
	return types.Deployment{
		ID:           types.DeploymentID(name, version),
		ModelName:    name,
		Version:      version,
		Port:         port,
		RunReference: "run-" + name + "-" + version,
		PID:          4242,
		UpdatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Run exercises the [store.Store] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("UpsertAndGet", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		d := sample("iris", "1", 8001)
		if err := s.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, err := s.Get(ctx, d.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if diff := cmp.Diff(d, got); diff != "" {
			t.Fatalf("Get mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := factory(t)
		_, err := s.Get(context.Background(), "nope-1")
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListSortedByID", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		b := sample("wine", "2", 8002)
		a := sample("iris", "1", 8001)
		for _, d := range []types.Deployment{b, a} {
			if err := s.Upsert(ctx, d); err != nil {
				t.Fatalf("Upsert %s: %v", d.ID, err)
			}
		}
		got, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if diff := cmp.Diff([]types.Deployment{a, b}, got); diff != "" {
			t.Fatalf("List mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ListEmpty", func(t *testing.T) {
		s := factory(t)
		got, err := s.List(context.Background())
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("List = %v, want empty", got)
		}
	})

	t.Run("UpsertReplacesRow", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		d := sample("iris", "1", 8001)
		if err := s.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		d.Port = 8005
		d.RunReference = "run-new"
		d.PID = 99
		if err := s.Upsert(ctx, d); err != nil {
			t.Fatalf("second Upsert: %v", err)
		}
		got, err := s.Get(ctx, d.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if diff := cmp.Diff(d, got); diff != "" {
			t.Fatalf("replaced row mismatch (-want +got):\n%s", diff)
		}
		all, _ := s.List(ctx)
		if len(all) != 1 {
			t.Fatalf("List len = %d, want 1", len(all))
		}
	})

	t.Run("UpsertPortConflict", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		if err := s.Upsert(ctx, sample("iris", "1", 8001)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		err := s.Upsert(ctx, sample("wine", "1", 8001))
		if !errors.Is(err, store.ErrStorage) || !errors.Is(err, store.ErrPortConflict) {
			t.Fatalf("Upsert: got %v, want ErrStorage+ErrPortConflict", err)
		}
		if _, err := s.Get(ctx, "wine-1"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("conflicting row was stored: %v", err)
		}
	})

	t.Run("DeleteAndNotFound", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		d := sample("iris", "1", 8001)
		if err := s.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if err := s.Delete(ctx, d.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, d.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("Get after Delete: got %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, d.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("second Delete: got %v, want ErrNotFound", err)
		}
	})

	t.Run("PortReusableAfterDelete", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		if err := s.Upsert(ctx, sample("iris", "1", 8001)); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if err := s.Delete(ctx, "iris-1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Upsert(ctx, sample("wine", "1", 8001)); err != nil {
			t.Fatalf("Upsert on freed port: %v", err)
		}
	})
}
