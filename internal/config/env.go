package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ApplyEnv overlays environment variables on cfg. getenv is usually
// os.Getenv. Empty variables are ignored. The MLFLOW_TRACKING_* variables
// understood by MLflow clients are honoured as well.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str(&cfg.Addr, "DEPLOYD_ADDR")
	str(&cfg.LogLevel, "DEPLOYD_LOG_LEVEL")
	str(&cfg.LogFormat, "DEPLOYD_LOG_FORMAT")
	if err := num(&cfg.Ports.Start, "DEPLOYD_PORT_START"); err != nil {
		return err
	}
	if err := num(&cfg.Ports.End, "DEPLOYD_PORT_END"); err != nil {
		return err
	}
	str(&cfg.Store.Driver, "DEPLOYD_STORE_DRIVER")
	str(&cfg.Store.DSN, "DEPLOYD_STORE_DSN")
	str(&cfg.Registry.Kind, "DEPLOYD_REGISTRY_KIND")
	str(&cfg.Registry.TrackingURI, "DEPLOYD_MLFLOW_TRACKING_URI", "MLFLOW_TRACKING_URI")
	str(&cfg.Registry.Username, "DEPLOYD_MLFLOW_USERNAME", "MLFLOW_TRACKING_USERNAME")
	str(&cfg.Registry.Password, "DEPLOYD_MLFLOW_PASSWORD", "MLFLOW_TRACKING_PASSWORD")
	str(&cfg.Registry.Token, "DEPLOYD_MLFLOW_TOKEN", "MLFLOW_TRACKING_TOKEN")
	str(&cfg.Registry.Dir, "DEPLOYD_MODELS_DIR")
	str(&cfg.Launcher.WorkDir, "DEPLOYD_WORK_DIR")
	str(&cfg.Launcher.ServeBin, "DEPLOYD_SERVE_BIN")
	str(&cfg.Launcher.EnvManager, "DEPLOYD_ENV_MANAGER")
	str(&cfg.InferenceLog.Kind, "DEPLOYD_INFERENCE_LOG")
	str(&cfg.InferenceLog.MinIO.Endpoint, "DEPLOYD_MINIO_ENDPOINT")
	str(&cfg.InferenceLog.MinIO.AccessKey, "DEPLOYD_MINIO_ACCESS_KEY")
	str(&cfg.InferenceLog.MinIO.SecretKey, "DEPLOYD_MINIO_SECRET_KEY")
	str(&cfg.InferenceLog.MinIO.Bucket, "DEPLOYD_MINIO_BUCKET")
	str(&cfg.Monitor.URL, "DEPLOYD_MONITOR_URL")
	str(&cfg.Monitor.Token, "DEPLOYD_MONITOR_TOKEN")
	if cfg.Monitor.URL != "" && cfg.Monitor.Kind == "" {
		cfg.Monitor.Kind = "webhook"
	}
	str(&cfg.Reconcile.Mode, "DEPLOYD_RECONCILE_MODE")
	return nil
}
