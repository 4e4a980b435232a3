// Package proxy routes public traffic to deployed serving processes.
//
// A request for /{deployment-id}/{rest} is forwarded to
// http://{backend-host}:{port}/{rest} where port comes from the deployment
// registry. Backend status, headers and body are passed through unmodified.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"deployd/internal/inferlog"
	"deployd/pkg/types"
)

// Lookup resolves a deployment id to its record. The registry mirror
// implements it without touching storage.
type Lookup interface {
	Lookup(id string) (types.Deployment, bool)
}

// Config tunes the router.
type Config struct {
	// BackendHost is where serving processes are reached (default localhost).
	BackendHost string
	// InferenceRoutes are backend paths whose bodies are logged
	// (default /invocations).
	InferenceRoutes []string
	// MaxLogBody caps the bytes of a body written to the inference log.
	MaxLogBody int64
	// CacheSize bounds the number of cached per-port proxy handlers.
	CacheSize int
	// DialTimeout bounds connecting to a backend.
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BackendHost == "" {
		c.BackendHost = "localhost"
	}
	if len(c.InferenceRoutes) == 0 {
		c.InferenceRoutes = []string{"/invocations"}
	}
	if c.MaxLogBody <= 0 {
		c.MaxLogBody = 16 << 20
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 128
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// Router is the public data-plane handler.
type Router struct {
	lookup    Lookup
	logs      inferlog.Store
	cfg       Config
	log       zerolog.Logger
	transport http.RoundTripper
	proxies   *lru.Cache[int, http.Handler]
	inference map[string]struct{}
}

// New builds a Router. logs may be nil to disable inference logging.
func New(lookup Lookup, logs inferlog.Store, cfg Config, logger zerolog.Logger) *Router {
	cfg = cfg.withDefaults()
	if logs == nil {
		logs = inferlog.Nop{}
	}
	cache, _ := lru.New[int, http.Handler](cfg.CacheSize) // only errors on size <= 0
	routes := make(map[string]struct{}, len(cfg.InferenceRoutes))
	for _, r := range cfg.InferenceRoutes {
		routes[normalizeRoute(r)] = struct{}{}
	}
	return &Router{
		lookup: lookup,
		logs:   logs,
		cfg:    cfg,
		log:    logger.With().Str("component", "proxy").Logger(),
		transport: &http.Transport{
			Proxy:               nil,
			DialContext:         (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
		proxies:   cache,
		inference: routes,
	}
}

func normalizeRoute(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// SplitPath splits an escaped request path into the deployment key and the
// backend path. The backend path is "/" when nothing follows the key.
func SplitPath(escaped string) (key, rest string) {
	trimmed := strings.TrimPrefix(escaped, "/")
	key, rest, found := strings.Cut(trimmed, "/")
	if !found {
		return key, "/"
	}
	return key, "/" + rest
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawKey, rest := SplitPath(r.URL.EscapedPath())
	key, err := url.PathUnescape(rawKey)
	if err != nil {
		key = rawKey
	}
	d, ok := rt.lookup.Lookup(key)
	if key == "" || !ok {
		proxyRequests.WithLabelValues("unknown", outcomeNotFound).Inc()
		writeError(w, http.StatusNotFound, fmt.Sprintf("deployment %s not deployed", key))
		return
	}

	out := r.Clone(context.WithValue(r.Context(), deploymentKey{}, d.ID))
	out.URL.RawPath = rest
	if p, err := url.PathUnescape(rest); err == nil {
		out.URL.Path = p
	} else {
		out.URL.Path = rest
	}
	if out.URL.RawPath == out.URL.Path {
		out.URL.RawPath = ""
	}

	if rt.isInferenceRoute(out.URL.Path) {
		rt.captureBody(out, d.ID)
	}
	rt.handlerFor(d.Port).ServeHTTP(w, out)
}

func (rt *Router) isInferenceRoute(p string) bool {
	_, ok := rt.inference[normalizeRoute(p)]
	return ok
}

// captureBody buffers the request body, writes it to the inference log and
// restores it for forwarding. Log failures are logged, never returned.
func (rt *Router) captureBody(r *http.Request, deploymentID string) {
	if r.Body == nil || r.Body == http.NoBody {
		return
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	if err != nil {
		rt.log.Warn().Err(err).Str("id", deploymentID).Msg("read inference body")
		return
	}
	logged := body
	if int64(len(logged)) > rt.cfg.MaxLogBody {
		logged = logged[:rt.cfg.MaxLogBody]
	}
	e := inferlog.NewEntry(deploymentID, r.Method, r.URL.Path, r.Header.Get("Content-Type"), logged)
	if err := rt.logs.Put(r.Context(), e); err != nil {
		inferenceLogErrors.Inc()
		rt.log.Warn().Err(err).Str("id", deploymentID).Msg("inference log write failed")
		return
	}
	inferenceLogged.WithLabelValues(deploymentID).Inc()
}

// handlerFor returns the cached reverse proxy for a backend port.
func (rt *Router) handlerFor(port int) http.Handler {
	if h, ok := rt.proxies.Get(port); ok {
		return h
	}
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(rt.cfg.BackendHost, strconv.Itoa(port))}
	p := httputil.NewSingleHostReverseProxy(u)
	p.Transport = rt.transport
	p.ModifyResponse = func(resp *http.Response) error {
		proxyRequests.WithLabelValues(deploymentFromRequest(resp.Request), outcomeForwarded).Inc()
		return nil
	}
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		id := deploymentFromRequest(r)
		proxyRequests.WithLabelValues(id, outcomeUpstreamError).Inc()
		rt.log.Warn().Err(err).Str("id", id).Int("port", port).Msg("upstream error")
		writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream error: %v", err))
	}
	rt.proxies.Add(port, p)
	return p
}

type deploymentKey struct{}

func deploymentFromRequest(r *http.Request) string {
	if r != nil {
		if id, ok := r.Context().Value(deploymentKey{}).(string); ok {
			return id
		}
	}
	return "unknown"
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
