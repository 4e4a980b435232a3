// Package client is a typed Go client for the deployd control-plane API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deployd/pkg/types"
)

// APIError is a non-2xx response from deployd.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("deployd: %d: %s", e.Status, e.Message) }

// StatusCode lets callers map the error back to HTTP semantics.
func (e *APIError) StatusCode() int { return e.Status }

// Client talks to one deployd instance.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for baseURL. A nil hc uses a client with a timeout
// long enough for deploys that prepare a fresh environment.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Minute}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e types.ErrorResponse
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: e.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) Models(ctx context.Context) ([]string, error) {
	var r types.ModelsResponse
	if err := c.do(ctx, http.MethodGet, "/models", nil, &r); err != nil {
		return nil, err
	}
	return r.Models, nil
}

func (c *Client) Versions(ctx context.Context, model string) ([]string, error) {
	var r types.VersionsResponse
	if err := c.do(ctx, http.MethodGet, "/models/"+url.PathEscape(model)+"/versions", nil, &r); err != nil {
		return nil, err
	}
	return r.Versions, nil
}

// Deploy blocks until the deployment is serving or failed.
func (c *Client) Deploy(ctx context.Context, model, version string) (types.DeployResponse, error) {
	var r types.DeployResponse
	err := c.do(ctx, http.MethodPost, "/deploy/"+url.PathEscape(model)+"/"+url.PathEscape(version), nil, &r)
	return r, err
}

func (c *Client) Undeploy(ctx context.Context, id string) (types.UndeployResponse, error) {
	var r types.UndeployResponse
	err := c.do(ctx, http.MethodPost, "/undeploy/"+url.PathEscape(id), nil, &r)
	return r, err
}

func (c *Client) Deployments(ctx context.Context) (types.DeploymentsResponse, error) {
	var r types.DeploymentsResponse
	err := c.do(ctx, http.MethodGet, "/deployments", nil, &r)
	return r, err
}

func (c *Client) FreePorts(ctx context.Context) (types.FreePortsResponse, error) {
	var r types.FreePortsResponse
	err := c.do(ctx, http.MethodGet, "/deployments/free-ports", nil, &r)
	return r, err
}

func (c *Client) Status(ctx context.Context) (types.StatusResponse, error) {
	var r types.StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, &r)
	return r, err
}

// Ready reports whether /readyz answers 200.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	err := c.do(ctx, http.MethodGet, "/readyz", nil, nil)
	if err == nil {
		return true, nil
	}
	if ae, ok := err.(*APIError); ok && ae.Status == http.StatusServiceUnavailable {
		return false, nil
	}
	return false, err
}

// Invoke POSTs a JSON payload to path on deployment id through the router
// and returns the raw response body.
func (c *Client) Invoke(ctx context.Context, id, path string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+url.PathEscape(id)+"/"+strings.TrimLeft(path, "/"), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return out, &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(out))}
	}
	return out, nil
}
