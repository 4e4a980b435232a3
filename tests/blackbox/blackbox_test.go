//go:build !windows

package blackbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func projectRootFromThisFile(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// this file: <root>/tests/blackbox/blackbox_test.go
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

func goBuild(t *testing.T, out, pkg string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping blackbox in -short mode")
	}
	bin := filepath.Join(t.TempDir(), out)
	cmd := exec.Command("go", "build", "-o", bin, pkg)
	cmd.Dir = projectRootFromThisFile(t)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build %s failed: %v\n%s", pkg, err, b)
	}
	return bin
}

type serverProc struct {
	cmd  *exec.Cmd
	base string // http base URL, e.g. http://127.0.0.1:18080
}

func startServer(t *testing.T, bin, configPath string, port, start, end int) *serverProc {
	t.Helper()
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	cmd := exec.Command(bin,
		"--config", configPath,
		"--addr", fmt.Sprintf("127.0.0.1:%d", port),
		"--port-start", fmt.Sprint(start),
		"--port-end", fmt.Sprint(end),
		"--log-format", "console",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "DEPLOYD_LOG_LEVEL=warn")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = cmd.Process.Kill(); _, _ = cmd.Process.Wait() })

	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/readyz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become ready in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
	return &serverProc{cmd: cmd, base: base}
}

func do(t *testing.T, method, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func TestBlackbox_Flow(t *testing.T) {
	bin := goBuild(t, "deployd", "./cmd/deployd")
	serve := goBuild(t, "fake_serve", "./internal/launcher/testdata/fake_serve.go")

	models := t.TempDir()
	for _, v := range []string{"1", "2"} {
		if err := os.MkdirAll(filepath.Join(models, "iris", v), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	state := t.TempDir()
	cfgPath := filepath.Join(state, "deployd.yaml")
	cfg := fmt.Sprintf(`store:
  driver: sqlite
  dsn: %s
registry:
  kind: dir
  dir: %s
launcher:
  work_dir: %s
  serve_bin: %s
  env_manager: none
  bind_host: 127.0.0.1
  probe_interval: 50ms
  probe_attempts: 100
`, filepath.Join(state, "deployd.db"), models, filepath.Join(state, "work"), serve)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	sp := startServer(t, bin, cfgPath, findFreePort(t), 33700, 33702)

	resp, body := do(t, http.MethodGet, sp.base+"/models")
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		t.Fatalf("/models %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, sp.base+"/get_model_version_list/iris")
	var versions []string
	if err := json.Unmarshal(body, &versions); err != nil || len(versions) != 2 {
		t.Fatalf("legacy versions %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, sp.base+"/deploy/iris/2")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "deployed on port 33700") {
		t.Fatalf("/deploy %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, sp.base+"/get_number_free_ports")
	if strings.TrimSpace(string(body)) != "1" {
		t.Fatalf("free ports %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, sp.base+"/iris-2/invocations")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("proxy %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, sp.base+"/deploy/iris/9")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing version %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, sp.base+"/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "deployd_manager_deploys_total") {
		t.Fatalf("/metrics %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodPost, sp.base+"/undeploy/iris-2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/undeploy %d %s", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodGet, sp.base+"/deployments")
	if strings.TrimSpace(string(body)) != "{}" {
		t.Fatalf("/deployments after undeploy %d %s", resp.StatusCode, body)
	}

	// SIGTERM shuts down gracefully with exit status 0.
	if err := sp.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- sp.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server exit: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server did not exit after SIGTERM")
	}
}

func TestBlackbox_MissingPortRange(t *testing.T) {
	bin := goBuild(t, "deployd", "./cmd/deployd")
	out, err := exec.Command(bin, "--addr", "127.0.0.1:0").CombinedOutput()
	if err == nil || !strings.Contains(string(out), "ports") {
		t.Fatalf("expected port range error, err=%v out=%s", err, out)
	}
}
