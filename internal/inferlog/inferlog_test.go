package inferlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"deployd/internal/store"
)

func TestNewEntry(t *testing.T) {
	e := NewEntry("iris-1", "POST", "/invocations", "application/json", []byte(`{"x":1}`))
	if e.ID == "" || e.ReceivedAt.IsZero() {
		t.Fatalf("entry not stamped: %+v", e)
	}
	if e.ReceivedAt.Location() != time.UTC {
		t.Fatalf("ReceivedAt not UTC")
	}
}

func TestObjectKey(t *testing.T) {
	e := Entry{ID: "abc", DeploymentID: "iris-1", ReceivedAt: time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)}
	got := ObjectKey("logs/", e)
	want := "logs/iris-1/2024-01-02T03:04:05.0000006Z-abc.json"
	if got != want {
		t.Fatalf("ObjectKey=%q, want %q", got, want)
	}
}

func TestSQLStorePutAndList(t *testing.T) {
	s := &SQLStore{DB: store.OpenTestDB(t), Dialect: store.SQLite}
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	a := Entry{ID: "a", DeploymentID: "iris-1", ReceivedAt: base, Method: "POST", Path: "/invocations", ContentType: "application/json", Body: []byte(`{"a":1}`)}
	b := Entry{ID: "b", DeploymentID: "iris-1", ReceivedAt: base.Add(time.Second), Method: "POST", Path: "/invocations", Body: []byte(`{"b":2}`)}
	other := Entry{ID: "c", DeploymentID: "wine-1", ReceivedAt: base, Method: "POST", Path: "/invocations", Body: []byte(`x`)}
	for _, e := range []Entry{b, a, other} {
		if err := s.Put(ctx, e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	got, err := s.List(ctx, "iris-1", base)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([]Entry{a, b}, got); diff != "" {
		t.Fatalf("List (-want +got):\n%s", diff)
	}
}

type recordingStore struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
	block   chan struct{}
}

func (r *recordingStore) Put(_ context.Context, e Entry) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("boom")
	}
	r.entries = append(r.entries, e)
	return nil
}

func TestAsyncWriterDrainsOnClose(t *testing.T) {
	rec := &recordingStore{}
	w := NewAsyncWriter(rec, 16, zerolog.Nop())
	for i := 0; i < 10; i++ {
		if err := w.Put(context.Background(), Entry{ID: strings.Repeat("x", i+1)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(rec.entries) != 10 {
		t.Fatalf("written=%d, want 10", len(rec.entries))
	}
	if err := w.Put(context.Background(), Entry{}); err == nil {
		t.Fatalf("Put after Close should fail")
	}
}

func TestAsyncWriterQueueFull(t *testing.T) {
	rec := &recordingStore{block: make(chan struct{})}
	w := NewAsyncWriter(rec, 1, zerolog.Nop())
	// The first entry is taken by the writer and blocks; the next fills the queue.
	_ = w.Put(context.Background(), Entry{ID: "1"})
	deadline := time.Now().Add(time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = w.Put(context.Background(), Entry{ID: "n"}); errors.Is(err, ErrQueueFull) {
			break
		}
	}
	close(rec.block)
	_ = w.Close()
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestAsyncWriterSwallowsStoreErrors(t *testing.T) {
	w := NewAsyncWriter(&recordingStore{fail: true}, 4, zerolog.Nop())
	if err := w.Put(context.Background(), Entry{ID: "1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = w.Close()
}
