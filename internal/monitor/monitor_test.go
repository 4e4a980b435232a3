package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWebhookRegisterAndUnregister(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []Event
		auth []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, ev)
		auth = append(auth, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL, Token: "t0k"})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	ctx := context.Background()
	if err := wh.Register(ctx, Endpoint{ID: "iris-1", ModelName: "iris", Version: "1", Port: 8001}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := wh.Unregister(ctx, "iris-1"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	want := []Event{
		{Event: EventRegister, Endpoint: Endpoint{ID: "iris-1", ModelName: "iris", Version: "1", Port: 8001, URL: "http://localhost:8001/ping"}},
		{Event: EventUnregister, Endpoint: Endpoint{ID: "iris-1"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
	if auth[0] != "Bearer t0k" {
		t.Fatalf("Authorization=%q", auth[0])
	}
}

func TestWebhookNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	wh, _ := NewWebhook(WebhookConfig{URL: srv.URL})
	if err := wh.Register(context.Background(), Endpoint{ID: "x-1", Port: 1}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestNewWebhookRequiresURL(t *testing.T) {
	if _, err := NewWebhook(WebhookConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNop(t *testing.T) {
	var r Registrar = Nop{}
	if err := r.Register(context.Background(), Endpoint{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Unregister(context.Background(), "x"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
}
