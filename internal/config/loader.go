// Package config loads deployd configuration from YAML, JSON or TOML files
// and overlays DEPLOYD_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"deployd/internal/ports"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Defaults; the port
// range is the exception and must always be configured.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	Ports        ports.Range     `json:"ports" yaml:"ports" toml:"ports"`
	Store        StoreConfig     `json:"store" yaml:"store" toml:"store"`
	Registry     RegistryConfig  `json:"registry" yaml:"registry" toml:"registry"`
	Launcher     LauncherConfig  `json:"launcher" yaml:"launcher" toml:"launcher"`
	Proxy        ProxyConfig     `json:"proxy" yaml:"proxy" toml:"proxy"`
	InferenceLog InferLogConfig  `json:"inference_log" yaml:"inference_log" toml:"inference_log"`
	Monitor      MonitorConfig   `json:"monitor" yaml:"monitor" toml:"monitor"`
	Reconcile    ReconcileConfig `json:"reconcile" yaml:"reconcile" toml:"reconcile"`
	HTTP         HTTPConfig      `json:"http" yaml:"http" toml:"http"`
}

// StoreConfig selects the durable deployment store.
type StoreConfig struct {
	// Driver is sqlite, postgres or memory.
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

// RegistryConfig selects the external model registry.
type RegistryConfig struct {
	// Kind is mlflow or dir.
	Kind        string   `json:"kind" yaml:"kind" toml:"kind"`
	TrackingURI string   `json:"tracking_uri" yaml:"tracking_uri" toml:"tracking_uri"`
	Username    string   `json:"username" yaml:"username" toml:"username"`
	Password    string   `json:"password" yaml:"password" toml:"password"`
	Token       string   `json:"token" yaml:"token" toml:"token"`
	PageSize    int      `json:"page_size" yaml:"page_size" toml:"page_size"`
	Timeout     Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	// Dir is the models root for kind dir.
	Dir string `json:"dir" yaml:"dir" toml:"dir"`
}

// LauncherConfig configures serving processes and the readiness probe.
type LauncherConfig struct {
	WorkDir          string            `json:"work_dir" yaml:"work_dir" toml:"work_dir"`
	ServeBin         string            `json:"serve_bin" yaml:"serve_bin" toml:"serve_bin"`
	PythonBin        string            `json:"python_bin" yaml:"python_bin" toml:"python_bin"`
	EnvManager       string            `json:"env_manager" yaml:"env_manager" toml:"env_manager"`
	Packages         []string          `json:"packages" yaml:"packages" toml:"packages"`
	ModelURITemplate string            `json:"model_uri_template" yaml:"model_uri_template" toml:"model_uri_template"`
	BindHost         string            `json:"bind_host" yaml:"bind_host" toml:"bind_host"`
	ExtraArgs        []string          `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
	Env              map[string]string `json:"env" yaml:"env" toml:"env"`
	StopTimeout      Duration          `json:"stop_timeout" yaml:"stop_timeout" toml:"stop_timeout"`
	PrepareTimeout   Duration          `json:"prepare_timeout" yaml:"prepare_timeout" toml:"prepare_timeout"`
	ProbeHost        string            `json:"probe_host" yaml:"probe_host" toml:"probe_host"`
	ProbeAttempts    int               `json:"probe_attempts" yaml:"probe_attempts" toml:"probe_attempts"`
	ProbeInterval    Duration          `json:"probe_interval" yaml:"probe_interval" toml:"probe_interval"`
}

// ProxyConfig configures the reverse proxy router.
type ProxyConfig struct {
	BackendHost     string   `json:"backend_host" yaml:"backend_host" toml:"backend_host"`
	InferenceRoutes []string `json:"inference_routes" yaml:"inference_routes" toml:"inference_routes"`
	MaxLogBody      int64    `json:"max_log_body" yaml:"max_log_body" toml:"max_log_body"`
	CacheSize       int      `json:"cache_size" yaml:"cache_size" toml:"cache_size"`
}

// InferLogConfig selects where proxied inference requests are recorded.
type InferLogConfig struct {
	// Kind is sql, minio or none.
	Kind      string      `json:"kind" yaml:"kind" toml:"kind"`
	Async     bool        `json:"async" yaml:"async" toml:"async"`
	QueueSize int         `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	MinIO     MinIOConfig `json:"minio" yaml:"minio" toml:"minio"`
}

// MinIOConfig configures the object-store inference log.
type MinIOConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key" toml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key" toml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket" toml:"bucket"`
	Prefix    string `json:"prefix" yaml:"prefix" toml:"prefix"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl" toml:"use_ssl"`
}

// MonitorConfig selects the uptime monitor integration.
type MonitorConfig struct {
	// Kind is webhook or none.
	Kind    string   `json:"kind" yaml:"kind" toml:"kind"`
	URL     string   `json:"url" yaml:"url" toml:"url"`
	Token   string   `json:"token" yaml:"token" toml:"token"`
	Timeout Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// ReconcileConfig controls the boot-time reconciliation pass.
type ReconcileConfig struct {
	// Mode is blocking, background or off.
	Mode string `json:"mode" yaml:"mode" toml:"mode"`
}

// HTTPConfig configures the control-plane listener.
type HTTPConfig struct {
	MaxBodyBytes    int64      `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	ShutdownTimeout Duration   `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	CORS            CORSConfig `json:"cors" yaml:"cors" toml:"cors"`
}

// CORSConfig is opt-in.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Duration reads "1.5s" style strings from every supported format.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.Duration.String()), nil }

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
