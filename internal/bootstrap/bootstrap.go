// Package bootstrap wires deployd's components from configuration and runs
// the control plane.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"deployd/internal/config"
	"deployd/internal/deployments"
	"deployd/internal/httpapi"
	"deployd/internal/inferlog"
	"deployd/internal/launcher"
	"deployd/internal/manager"
	"deployd/internal/monitor"
	"deployd/internal/ports"
	"deployd/internal/proxy"
	"deployd/internal/registry"
	"deployd/internal/store"
)

// ControlPlane is a fully wired deployd instance.
type ControlPlane struct {
	Config   config.Config
	Manager  *manager.Manager
	Launcher *launcher.Subprocess
	Router   *proxy.Router
	Handler  http.Handler

	log        zerolog.Logger
	db         *sql.DB
	closers    []func() error
	reconciled bool
}

// Build opens the store, loads the registry mirror and wires every
// component. cfg must already carry defaults and pass Validate.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*ControlPlane, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cp := &ControlPlane{Config: cfg, log: logger}
	ok := false
	defer func() {
		if !ok {
			_ = cp.Close()
		}
	}()

	st, err := cp.openStore(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := deployments.Open(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	models, err := newModelRegistry(cfg.Registry)
	if err != nil {
		return nil, err
	}
	mon, err := newMonitor(cfg.Monitor, cfg.Proxy.BackendHost)
	if err != nil {
		return nil, err
	}
	logs, err := cp.newInferenceLog(ctx)
	if err != nil {
		return nil, err
	}

	lc := cfg.Launcher
	cp.Launcher = launcher.NewSubprocess(launcher.SubprocessConfig{
		WorkDir:          lc.WorkDir,
		ServeBin:         lc.ServeBin,
		PythonBin:        lc.PythonBin,
		EnvManager:       lc.EnvManager,
		Packages:         lc.Packages,
		ModelURITemplate: lc.ModelURITemplate,
		BindHost:         lc.BindHost,
		ExtraArgs:        lc.ExtraArgs,
		Env:              lc.Env,
		StopTimeout:      lc.StopTimeout.Duration,
		PrepareTimeout:   lc.PrepareTimeout.Duration,
		ProbeHost:        lc.ProbeHost,
	}, logger)

	m, err := manager.NewWithConfig(manager.ManagerConfig{
		Deployments: reg,
		Models:      models,
		Allocator:   ports.NewAllocator(cfg.Ports),
		Launcher:    cp.Launcher,
		Prober: launcher.Prober{
			Host:     lc.ProbeHost,
			Attempts: lc.ProbeAttempts,
			Interval: lc.ProbeInterval.Duration,
		},
		Monitor:     mon,
		Logger:      logger,
		RuntimeBins: runtimeBins(cp.Launcher.Config()),
	})
	if err != nil {
		return nil, err
	}
	cp.Manager = m

	cp.Router = proxy.New(reg, logs, proxy.Config{
		BackendHost:     cfg.Proxy.BackendHost,
		InferenceRoutes: cfg.Proxy.InferenceRoutes,
		MaxLogBody:      cfg.Proxy.MaxLogBody,
		CacheSize:       cfg.Proxy.CacheSize,
	}, logger)

	httpapi.SetLogger(logger)
	httpapi.SetMaxBodyBytes(cfg.HTTP.MaxBodyBytes)
	if cc := cfg.HTTP.CORS; cc.Enabled {
		httpapi.SetCORS(&httpapi.CORS{Origins: cc.Origins, Methods: cc.Methods, Headers: cc.Headers})
	} else {
		httpapi.SetCORS(nil)
	}
	cp.Handler = httpapi.NewMux(m, cp.Router)

	ok = true
	return cp, nil
}

func (cp *ControlPlane) openStore(ctx context.Context) (store.Store, error) {
	sc := cp.Config.Store
	if sc.Driver == config.DriverMemory {
		cp.log.Warn().Msg("using in-memory deployment store; deployments will not survive a restart")
		return store.NewMemoryStore(), nil
	}
	dialect, err := store.ParseDialect(sc.Driver)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, dialect, sc.DSN)
	if err != nil {
		return nil, err
	}
	cp.db = db
	cp.closers = append(cp.closers, db.Close)
	return &store.SQLStore{DB: db, Dialect: dialect}, nil
}

func (cp *ControlPlane) newInferenceLog(ctx context.Context) (inferlog.Store, error) {
	ic := cp.Config.InferenceLog
	var s inferlog.Store
	switch ic.Kind {
	case "none":
		return inferlog.Nop{}, nil
	case "sql":
		if cp.db == nil {
			return nil, errors.New("inference log: sql requires a sql store")
		}
		dialect, _ := store.ParseDialect(cp.Config.Store.Driver)
		s = &inferlog.SQLStore{DB: cp.db, Dialect: dialect}
	case "minio":
		ms, err := inferlog.NewMinIOStore(ctx, inferlog.MinIOConfig{
			Endpoint:  ic.MinIO.Endpoint,
			AccessKey: ic.MinIO.AccessKey,
			SecretKey: ic.MinIO.SecretKey,
			Bucket:    ic.MinIO.Bucket,
			UseSSL:    ic.MinIO.UseSSL,
			Prefix:    ic.MinIO.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("inference log: %w", err)
		}
		s = ms
	default:
		return nil, fmt.Errorf("inference log: unknown kind %q", ic.Kind)
	}
	if ic.Async {
		aw := inferlog.NewAsyncWriter(s, ic.QueueSize, cp.log)
		// Prepended so the queue drains before the database closes.
		cp.closers = append([]func() error{aw.Close}, cp.closers...)
		return aw, nil
	}
	return s, nil
}

func newModelRegistry(rc config.RegistryConfig) (registry.ModelRegistry, error) {
	switch rc.Kind {
	case "mlflow":
		return registry.NewMLflow(registry.MLflowConfig{
			TrackingURI: rc.TrackingURI,
			Username:    rc.Username,
			Password:    rc.Password,
			Token:       rc.Token,
			PageSize:    rc.PageSize,
			Timeout:     rc.Timeout.Duration,
		})
	case "dir":
		return registry.NewDir(rc.Dir)
	default:
		return nil, fmt.Errorf("registry: unknown kind %q", rc.Kind)
	}
}

func newMonitor(mc config.MonitorConfig, probeHost string) (monitor.Registrar, error) {
	if mc.Kind != "webhook" {
		return monitor.Nop{}, nil
	}
	return monitor.NewWebhook(monitor.WebhookConfig{
		URL:       mc.URL,
		Token:     mc.Token,
		Timeout:   mc.Timeout.Duration,
		ProbeHost: probeHost,
	})
}

func runtimeBins(c launcher.SubprocessConfig) map[string]string {
	if c.EnvManager == launcher.EnvManagerVenv {
		return map[string]string{"python": c.PythonBin}
	}
	return map[string]string{"serve": c.ServeBin}
}

// Run reconciles according to the configured mode, listens on Config.Addr
// and serves until ctx is cancelled. In blocking mode the listener only
// opens once reconciliation has finished.
func (cp *ControlPlane) Run(ctx context.Context) error {
	if cp.Config.Reconcile.Mode == config.ReconcileBlocking {
		cp.reconcile(ctx)
	}
	l, err := net.Listen("tcp", cp.Config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cp.Config.Addr, err)
	}
	return cp.Serve(ctx, l)
}

// Serve runs the HTTP server on l until ctx is cancelled, then shuts down
// gracefully. Serving processes are left running; the next start
// reconciles them.
func (cp *ControlPlane) Serve(ctx context.Context, l net.Listener) error {
	httpapi.SetBaseContext(ctx)
	srv := &http.Server{
		Handler:           cp.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)

	switch cp.Config.Reconcile.Mode {
	case config.ReconcileOff:
		cp.Manager.SkipReconcile()
	case config.ReconcileBackground:
		g.Go(func() error {
			cp.reconcile(gctx)
			return nil
		})
	default:
		if !cp.reconciled {
			cp.reconcile(ctx)
		}
	}

	g.Go(func() error {
		cp.log.Info().Str("addr", l.Addr().String()).Str("ports", cp.Config.Ports.String()).Msg("deployd listening")
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := cp.Config.HTTP.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			cp.log.Error().Err(err).Msg("graceful shutdown error")
			return err
		}
		cp.log.Info().Msg("deployd stopped")
		return nil
	})
	return g.Wait()
}

func (cp *ControlPlane) reconcile(ctx context.Context) {
	cp.reconciled = true
	cp.Manager.Reconcile(ctx)
}

// Close releases the inference log writer and the database.
func (cp *ControlPlane) Close() error {
	var errs []error
	for _, c := range cp.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	cp.closers = nil
	return errors.Join(errs...)
}
