package bootstrap

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deployd/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	models := t.TempDir()
	if err := os.MkdirAll(filepath.Join(models, "iris", "1"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfg := config.Config{
		Addr:      "127.0.0.1:0",
		Store:     config.StoreConfig{Driver: config.DriverMemory},
		Registry:  config.RegistryConfig{Kind: "dir", Dir: models},
		Reconcile: config.ReconcileConfig{Mode: config.ReconcileOff},
	}
	cfg.Ports.Start, cfg.Ports.End = 33400, 33410
	cfg.Launcher.WorkDir = t.TempDir()
	cfg.Launcher.EnvManager = "none"
	cfg.Defaults()
	return cfg
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ports.Start, cfg.Ports.End = 0, 0
	if _, err := Build(context.Background(), cfg, zerolog.Nop()); err == nil || !strings.Contains(err.Error(), "ports") {
		t.Fatalf("expected port range error, got %v", err)
	}
}

func TestServeAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cp, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer cp.Close()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cp.Serve(ctx, l) }()

	base := "http://" + l.Addr().String()
	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}
	if code, _ := get("/healthz"); code != http.StatusOK {
		t.Fatalf("/healthz=%d", code)
	}
	if code, _ := get("/readyz"); code != http.StatusOK {
		t.Fatalf("/readyz=%d with reconcile off", code)
	}
	if code, body := get("/models"); code != http.StatusOK || !strings.Contains(body, "iris") {
		t.Fatalf("/models=%d %s", code, body)
	}
	if code, body := get("/unknown-1/invocations"); code != http.StatusNotFound || !strings.Contains(body, "not deployed") {
		t.Fatalf("proxy miss=%d %s", code, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}

func TestBuildSQLiteWithInferenceLog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "deployd.db")}
	cfg.InferenceLog = config.InferLogConfig{Kind: "sql", Async: true}
	cfg.Defaults()

	cp, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cp.db == nil {
		t.Fatalf("sql store not opened")
	}
	if len(cp.closers) != 2 {
		t.Fatalf("closers=%d, want async writer and db", len(cp.closers))
	}
	if err := cp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBackgroundReconcileBecomesReady(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reconcile.Mode = config.ReconcileBackground
	cp, err := Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer cp.Close()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = cp.Serve(ctx, l) }()

	deadline := time.Now().Add(3 * time.Second)
	for !cp.Manager.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("manager never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRuntimeBins(t *testing.T) {
	cp, err := Build(context.Background(), testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer cp.Close()
	rep := cp.Manager.SanityCheck()
	if len(rep.Binaries) != 1 || rep.Binaries[0].Name != "serve" || rep.Binaries[0].Bin != "mlflow" {
		t.Fatalf("sanity report=%+v", rep)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger("debug", "json", &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Debug().Str("event", "x").Msg("hello")
	if !strings.Contains(buf.String(), `"service":"deployd"`) || !strings.Contains(buf.String(), `"event":"x"`) {
		t.Fatalf("log line=%q", buf.String())
	}
	if _, err := NewLogger("loud", "json", &buf); err == nil {
		t.Fatalf("expected error for bad level")
	}
	if _, err := NewLogger("info", "xml", &buf); err == nil {
		t.Fatalf("expected error for bad format")
	}
	if _, err := NewLogger("", "console", &buf); err != nil {
		t.Fatalf("console logger: %v", err)
	}
}

