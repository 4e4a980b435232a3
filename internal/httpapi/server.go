package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deployd/internal/ports"
	"deployd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels(ctx context.Context) ([]string, error)
	ListVersions(ctx context.Context, name string) ([]string, error)
	Deploy(ctx context.Context, name, version string) (types.Deployment, bool, error)
	Undeploy(ctx context.Context, id string) error
	Deployments() []types.Deployment
	FreePorts() int
	PortRange() ports.Range
	Status() types.StatusResponse
	Ready() bool
}

// NewMux builds the control-plane router. Requests that match no
// control-plane route are handed to fallback, the deployment proxy.
// CORS and security headers apply to control-plane routes only, so proxied
// responses reach the caller as the deployment wrote them.
func NewMux(svc Service, fallback http.Handler) http.Handler {
	if fallback == nil {
		fallback = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSONError(w, http.StatusNotFound, "not found")
		})
	}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(AccessLog)

	cp := r.Group(func(r chi.Router) {
		if c := corsOpts; c != nil {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: c.Origins,
				AllowedMethods: c.Methods,
				AllowedHeaders: c.Headers,
			}))
		}
		// Security headers
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Content-Type-Options", "nosniff")
				next.ServeHTTP(w, r)
			})
		})
		mountControlPlane(r, svc)
	})
	if corsOpts != nil {
		mountPreflight(r, cp)
	}

	// Everything else belongs to a deployment.
	r.NotFound(fallback.ServeHTTP)
	r.MethodNotAllowed(fallback.ServeHTTP)
	return r
}

func mountControlPlane(r chi.Router, svc Service) {
	h := &handlers{svc: svc}
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
				next.ServeHTTP(w, r)
			})
		})
		r.Use(middleware.Compress(5))

		r.Get("/models", h.listModels)
		r.Get("/models/{name}/versions", h.listVersions)
		r.Post("/deploy/{name}/{version}", h.deploy)
		r.Post("/undeploy/{id}", h.undeploy)
		r.Get("/deployments", h.listDeployments)
		r.Delete("/deployments/{id}", h.undeploy)
		r.Get("/deployments/free-ports", h.freePorts)
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.Status())
		})

		// Routes kept for clients of the earlier service.
		r.Get("/get_model_list", h.legacyModels)
		r.Get("/get_model_version_list/{name}", h.legacyVersions)
		r.Get("/get_deployed_models", h.listDeployments)
		r.Get("/get_number_free_ports", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, svc.FreePorts())
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("reconciling"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
}

// mountPreflight adds OPTIONS routes for every control-plane path on cp.
// Group middleware only runs for matched routes, so without them a
// preflight would fall through to the deployment proxy.
func mountPreflight(routes chi.Routes, cp chi.Router) {
	seen := map[string]bool{}
	var paths []string
	_ = chi.Walk(routes, func(_ string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if !seen[route] {
			seen[route] = true
			paths = append(paths, route)
		}
		return nil
	})
	for _, p := range paths {
		cp.Options(p, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

type handlers struct {
	svc Service
}

// param returns the unescaped chi URL parameter.
func param(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}

func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.svc.ListModels(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: nonNil(models)})
}

func (h *handlers) listVersions(w http.ResponseWriter, r *http.Request) {
	name := param(r, "name")
	versions, err := h.svc.ListVersions(r.Context(), name)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.VersionsResponse{Model: name, Versions: nonNil(versions)})
}

func (h *handlers) legacyModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.svc.ListModels(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(models))
}

func (h *handlers) legacyVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.svc.ListVersions(r.Context(), param(r, "name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(versions))
}

func (h *handlers) deploy(w http.ResponseWriter, r *http.Request) {
	name, version := param(r, "name"), param(r, "version")
	ctx, cancel := operationContext(r)
	defer cancel()
	d, created, err := h.svc.Deploy(ctx, name, version)
	if err != nil {
		h.fail(w, err)
		return
	}
	msg := fmt.Sprintf("Model %s version %s deployed on port %d", d.ModelName, d.Version, d.Port)
	if !created {
		msg = fmt.Sprintf("Model %s version %s already deployed on port %d", d.ModelName, d.Version, d.Port)
	}
	writeJSON(w, http.StatusOK, types.DeployResponse{ID: d.ID, Port: d.Port, Message: msg})
}

func (h *handlers) undeploy(w http.ResponseWriter, r *http.Request) {
	id := param(r, "id")
	ctx, cancel := operationContext(r)
	defer cancel()
	if err := h.svc.Undeploy(ctx, id); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.UndeployResponse{ID: id, Message: fmt.Sprintf("Model %s undeployed", id)})
}

func (h *handlers) listDeployments(w http.ResponseWriter, r *http.Request) {
	list := h.svc.Deployments()
	out := make(types.DeploymentsResponse, len(list))
	for _, d := range list {
		out[d.ID] = d.View()
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) freePorts(w http.ResponseWriter, r *http.Request) {
	pr := h.svc.PortRange()
	writeJSON(w, http.StatusOK, types.FreePortsResponse{Free: h.svc.FreePorts(), Start: pr.Start, End: pr.End})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
