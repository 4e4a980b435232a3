package manager

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"deployd/internal/deployments"
	"deployd/internal/launcher"
	"deployd/internal/monitor"
	"deployd/internal/ports"
	"deployd/internal/registry"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMonitorTimeout   = 5 * time.Second
	defaultTerminateTimeout = 10 * time.Second
)

// ReadinessProber is what the manager needs from launcher.Prober.
type ReadinessProber interface {
	AwaitReady(ctx context.Context, port int, h launcher.Handle) error
	Alive(port int) bool
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Deployments *deployments.Registry
	Models      registry.ModelRegistry
	Allocator   *ports.Allocator
	Launcher    launcher.Launcher
	// Prober defaults to launcher.Prober{} (60 attempts, 1s apart).
	Prober ReadinessProber
	// Monitor defaults to monitor.Nop.
	Monitor monitor.Registrar
	// Publisher receives lifecycle events in addition to the debug log.
	Publisher EventPublisher
	Logger    zerolog.Logger
	// MonitorTimeout bounds each monitor notification.
	MonitorTimeout time.Duration
	// TerminateTimeout bounds cleanup of a process after a failed deploy.
	TerminateTimeout time.Duration
	// RuntimeBins maps a label to an executable checked by SanityCheck.
	RuntimeBins map[string]string
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) (*Manager, error) {
	switch {
	case cfg.Deployments == nil:
		return nil, errors.New("manager: deployment registry is required")
	case cfg.Models == nil:
		return nil, errors.New("manager: model registry is required")
	case cfg.Allocator == nil:
		return nil, errors.New("manager: port allocator is required")
	case cfg.Launcher == nil:
		return nil, errors.New("manager: launcher is required")
	}
	m := &Manager{
		deployments: cfg.Deployments,
		models:      cfg.Models,
		alloc:       cfg.Allocator,
		launcher:    cfg.Launcher,
		prober:      cfg.Prober,
		monitor:     cfg.Monitor,
		log:         cfg.Logger.With().Str("component", "manager").Logger(),
		runtimeBins: cfg.RuntimeBins,
		reconcile:   StatePending,
		startTime:   time.Now(),
	}
	if m.prober == nil {
		m.prober = launcher.Prober{}
	}
	if m.monitor == nil {
		m.monitor = monitor.Nop{}
	}
	if cfg.MonitorTimeout <= 0 {
		m.monitorTimeout = defaultMonitorTimeout
	} else {
		m.monitorTimeout = cfg.MonitorTimeout
	}
	if cfg.TerminateTimeout <= 0 {
		m.terminateTimeout = defaultTerminateTimeout
	} else {
		m.terminateTimeout = cfg.TerminateTimeout
	}
	logPub := LogPublisher{Logger: m.log}
	if cfg.Publisher != nil {
		m.pub = fanout{logPub, cfg.Publisher}
	} else {
		m.pub = logPub
	}
	activeDeployments.Set(float64(m.deployments.Len()))
	return m, nil
}
