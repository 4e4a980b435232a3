package config

import (
	"errors"
	"fmt"
	"time"

	"deployd/internal/store"
)

// Store drivers accepted in addition to the SQL dialects.
const DriverMemory = "memory"

// Reconcile modes.
const (
	ReconcileBlocking   = "blocking"
	ReconcileBackground = "background"
	ReconcileOff        = "off"
)

// Defaults fills optional values. It never invents a port range.
func (c *Config) Defaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = string(store.SQLite)
	}
	if c.Store.DSN == "" && c.Store.Driver == string(store.SQLite) {
		c.Store.DSN = "deployd.db"
	}
	if c.Registry.Kind == "" {
		c.Registry.Kind = "mlflow"
	}
	if c.Registry.Kind == "mlflow" && c.Registry.TrackingURI == "" {
		c.Registry.TrackingURI = "http://localhost:5000"
	}
	if c.InferenceLog.Kind == "" {
		if c.Store.Driver == DriverMemory {
			c.InferenceLog.Kind = "none"
		} else {
			c.InferenceLog.Kind = "sql"
		}
	}
	if c.InferenceLog.Async && c.InferenceLog.QueueSize <= 0 {
		c.InferenceLog.QueueSize = 1024
	}
	if c.Monitor.Kind == "" {
		c.Monitor.Kind = "none"
	}
	if c.Reconcile.Mode == "" {
		c.Reconcile.Mode = ReconcileBlocking
	}
	if c.HTTP.ShutdownTimeout.Duration <= 0 {
		c.HTTP.ShutdownTimeout.Duration = 10 * time.Second
	}
}

// Validate reports configuration that cannot be started. A missing or
// invalid port range is always fatal.
func (c *Config) Validate() error {
	var errs []error
	if c.Ports.Start == 0 && c.Ports.End == 0 {
		errs = append(errs, errors.New("ports: start and end are required"))
	} else if err := c.Ports.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ports: %w", err))
	}
	if c.Store.Driver != DriverMemory {
		if _, err := store.ParseDialect(c.Store.Driver); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store: dsn is required"))
		}
	}
	switch c.Registry.Kind {
	case "mlflow":
		if c.Registry.TrackingURI == "" {
			errs = append(errs, errors.New("registry: tracking_uri is required"))
		}
	case "dir":
		if c.Registry.Dir == "" {
			errs = append(errs, errors.New("registry: dir is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry: unknown kind %q", c.Registry.Kind))
	}
	switch c.InferenceLog.Kind {
	case "none":
	case "sql":
		if c.Store.Driver == DriverMemory {
			errs = append(errs, errors.New("inference_log: sql requires a sql store"))
		}
	case "minio":
		if c.InferenceLog.MinIO.Endpoint == "" || c.InferenceLog.MinIO.Bucket == "" {
			errs = append(errs, errors.New("inference_log: minio endpoint and bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("inference_log: unknown kind %q", c.InferenceLog.Kind))
	}
	switch c.Monitor.Kind {
	case "none":
	case "webhook":
		if c.Monitor.URL == "" {
			errs = append(errs, errors.New("monitor: url is required for webhook"))
		}
	default:
		errs = append(errs, fmt.Errorf("monitor: unknown kind %q", c.Monitor.Kind))
	}
	switch c.Reconcile.Mode {
	case ReconcileBlocking, ReconcileBackground, ReconcileOff:
	default:
		errs = append(errs, fmt.Errorf("reconcile: unknown mode %q", c.Reconcile.Mode))
	}
	return errors.Join(errs...)
}
