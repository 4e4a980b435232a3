package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MLflowConfig points the client at an MLflow tracking server.
type MLflowConfig struct {
	// TrackingURI is the server base URL, e.g. http://mlflow:5000.
	TrackingURI string
	Username    string
	Password    string
	// Token is sent as a bearer token when set (takes precedence over basic auth).
	Token    string
	PageSize int
	Timeout  time.Duration
}

// MLflow talks to the MLflow model registry REST API.
type MLflow struct {
	base     string
	cfg      MLflowConfig
	http     *http.Client
	pageSize int
}

// NewMLflow returns a client for cfg.TrackingURI.
func NewMLflow(cfg MLflowConfig) (*MLflow, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.TrackingURI), "/")
	if base == "" {
		return nil, fmt.Errorf("mlflow tracking uri is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("mlflow tracking uri: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	size := cfg.PageSize
	if size <= 0 {
		size = 100
	}
	return &MLflow{base: base, cfg: cfg, http: &http.Client{Timeout: timeout}, pageSize: size}, nil
}

type registeredModelsPage struct {
	RegisteredModels []struct {
		Name string `json:"name"`
	} `json:"registered_models"`
	NextPageToken string `json:"next_page_token"`
}

type modelVersionsPage struct {
	ModelVersions []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		RunID   string `json:"run_id"`
	} `json:"model_versions"`
	NextPageToken string `json:"next_page_token"`
}

type mlflowError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// ListModels returns every registered model name.
func (m *MLflow) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	token := ""
	for {
		q := url.Values{"max_results": {strconv.Itoa(m.pageSize)}}
		if token != "" {
			q.Set("page_token", token)
		}
		var page registeredModelsPage
		if err := m.get(ctx, "/api/2.0/mlflow/registered-models/search", q, &page); err != nil {
			return nil, err
		}
		for _, rm := range page.RegisteredModels {
			names = append(names, rm.Name)
		}
		if page.NextPageToken == "" {
			return names, nil
		}
		token = page.NextPageToken
	}
}

func (m *MLflow) versions(ctx context.Context, name string) ([]ModelVersion, error) {
	var out []ModelVersion
	token := ""
	filter := "name='" + strings.ReplaceAll(name, "'", "\\'") + "'"
	for {
		q := url.Values{"filter": {filter}, "max_results": {strconv.Itoa(m.pageSize)}}
		if token != "" {
			q.Set("page_token", token)
		}
		var page modelVersionsPage
		if err := m.get(ctx, "/api/2.0/mlflow/model-versions/search", q, &page); err != nil {
			return nil, err
		}
		for _, mv := range page.ModelVersions {
			out = append(out, ModelVersion{Name: mv.Name, Version: mv.Version, RunReference: mv.RunID})
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}

// ListVersions returns the versions of name in registry order.
// An unknown model yields ErrNotFound.
func (m *MLflow) ListVersions(ctx context.Context, name string) ([]string, error) {
	vs, err := m.versions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Version)
	}
	return out, nil
}

// Resolve returns the run id of name/version.
func (m *MLflow) Resolve(ctx context.Context, name, version string) (ModelVersion, error) {
	vs, err := m.versions(ctx, name)
	if err != nil {
		return ModelVersion{}, err
	}
	for _, v := range vs {
		if v.Version == version {
			if v.RunReference == "" {
				return ModelVersion{}, fmt.Errorf("model %q version %q has no run: %w", name, version, ErrNotFound)
			}
			return v, nil
		}
	}
	return ModelVersion{}, fmt.Errorf("model %q version %q: %w", name, version, ErrNotFound)
}

func (m *MLflow) get(ctx context.Context, path string, q url.Values, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	switch {
	case m.cfg.Token != "":
		req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
	case m.cfg.Username != "":
		req.SetBasicAuth(m.cfg.Username, m.cfg.Password)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var me mlflowError
		_ = json.Unmarshal(body, &me)
		if resp.StatusCode == http.StatusNotFound || me.ErrorCode == "RESOURCE_DOES_NOT_EXIST" {
			return fmt.Errorf("%s: %w", strings.TrimSpace(me.Message), ErrNotFound)
		}
		msg := me.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("%w: %s %s: %s", ErrUnavailable, path, resp.Status, msg)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}
