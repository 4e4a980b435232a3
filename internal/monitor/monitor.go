// Package monitor notifies an external uptime monitor when deployments come
// and go. Failures are reported to the caller, which logs them; they never
// fail a deploy or undeploy.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Endpoint describes a deployed serving process to watch.
type Endpoint struct {
	ID        string `json:"id"`
	ModelName string `json:"model_name"`
	Version   string `json:"version"`
	Port      int    `json:"port"`
	// URL is the address the monitor should probe.
	URL string `json:"url"`
}

// Registrar registers and removes monitors.
type Registrar interface {
	Register(ctx context.Context, ep Endpoint) error
	Unregister(ctx context.Context, id string) error
}

// Nop discards every call.
type Nop struct{}

func (Nop) Register(context.Context, Endpoint) error { return nil }
func (Nop) Unregister(context.Context, string) error { return nil }

// WebhookConfig configures the webhook registrar.
type WebhookConfig struct {
	URL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	// ProbeHost is used to build Endpoint.URL when the caller leaves it empty.
	ProbeHost string
}

// Webhook POSTs monitor events as JSON to a fixed URL.
type Webhook struct {
	cfg  WebhookConfig
	http *http.Client
}

// NewWebhook returns a Webhook registrar.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("monitor webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ProbeHost == "" {
		cfg.ProbeHost = "localhost"
	}
	return &Webhook{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Event is the webhook payload.
type Event struct {
	Event string `json:"event"`
	Endpoint
}

const (
	EventRegister   = "register"
	EventUnregister = "unregister"
)

func (w *Webhook) Register(ctx context.Context, ep Endpoint) error {
	if ep.URL == "" && ep.Port > 0 {
		ep.URL = fmt.Sprintf("http://%s:%d/ping", w.cfg.ProbeHost, ep.Port)
	}
	return w.post(ctx, Event{Event: EventRegister, Endpoint: ep})
}

func (w *Webhook) Unregister(ctx context.Context, id string) error {
	return w.post(ctx, Event{Event: EventUnregister, Endpoint: Endpoint{ID: id}})
}

func (w *Webhook) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("monitor %s %s: %w", ev.Event, ev.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("monitor %s %s: %s: %s", ev.Event, ev.ID, resp.Status, strings.TrimSpace(string(b)))
	}
	return nil
}
