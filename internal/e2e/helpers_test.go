//go:build !windows

// Package e2e drives a fully wired control plane against a fake serving
// runtime built from the launcher's testdata.
package e2e

import (
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"deployd/internal/bootstrap"
	"deployd/internal/client"
	"deployd/internal/config"
)

// buildFakeServe compiles the fake serving runtime once per test.
func buildFakeServe(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e in -short mode")
	}
	bin := filepath.Join(t.TempDir(), "fake_serve")
	cmd := exec.Command("go", "build", "-o", bin, "../launcher/testdata/fake_serve.go")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build fake serve: %v: %s", err, out)
	}
	return bin
}

// createModelsDir lays out <root>/<name>/<version> for the dir registry.
func createModelsDir(t *testing.T, versions map[string][]string) string {
	t.Helper()
	root := t.TempDir()
	for name, vs := range versions {
		for _, v := range vs {
			if err := os.MkdirAll(filepath.Join(root, name, v), 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
		}
	}
	return root
}

type env struct {
	bin     string
	models  string
	dbPath  string
	workDir string
	start   int
	end     int
}

func newEnv(t *testing.T, start, end int) *env {
	t.Helper()
	return &env{
		bin:     buildFakeServe(t),
		models:  createModelsDir(t, map[string][]string{"iris": {"1", "2"}, "wine": {"7"}}),
		dbPath:  filepath.Join(t.TempDir(), "deployd.db"),
		workDir: t.TempDir(),
		start:   start,
		end:     end,
	}
}

func (e *env) config(mode string) config.Config {
	cfg := config.Config{
		Addr:         "127.0.0.1:0",
		Store:        config.StoreConfig{Driver: "sqlite", DSN: e.dbPath},
		Registry:     config.RegistryConfig{Kind: "dir", Dir: e.models},
		InferenceLog: config.InferLogConfig{Kind: "sql", Async: true},
		Reconcile:    config.ReconcileConfig{Mode: mode},
	}
	cfg.Ports.Start, cfg.Ports.End = e.start, e.end
	cfg.Launcher.WorkDir = e.workDir
	cfg.Launcher.ServeBin = e.bin
	cfg.Launcher.EnvManager = "none"
	cfg.Launcher.BindHost = "127.0.0.1"
	cfg.Launcher.ProbeAttempts = 100
	cfg.Launcher.ProbeInterval = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Launcher.StopTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.Defaults()
	return cfg
}

type running struct {
	cp     *bootstrap.ControlPlane
	client *client.Client
	stop   func()
}

// start builds a control plane on e's database and serves it on a loopback
// port. stop shuts the server down and closes the store, leaving serving
// processes running.
func (e *env) start(t *testing.T, mode string) *running {
	t.Helper()
	cp, err := bootstrap.Build(context.Background(), e.config(mode), zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cp.Serve(ctx, l) }()

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Errorf("Serve did not return after cancel")
		}
		if err := cp.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}
	t.Cleanup(stop)

	c := client.New("http://"+l.Addr().String(), nil)
	deadline := time.Now().Add(10 * time.Second)
	for {
		if ok, _ := c.Ready(context.Background()); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("control plane never became ready")
		}
		time.Sleep(20 * time.Millisecond)
	}
	return &running{cp: cp, client: c, stop: stop}
}

// killOnCleanup makes sure no serving process outlives the test.
func killOnCleanup(t *testing.T, pid int) {
	t.Helper()
	t.Cleanup(func() {
		if pid > 0 {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	})
}

func waitPortClosed(t *testing.T, port int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", itoa(port)), 100*time.Millisecond)
		if err != nil {
			return
		}
		_ = c.Close()
		if time.Now().After(deadline) {
			t.Fatalf("port %d still accepting connections", port)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
