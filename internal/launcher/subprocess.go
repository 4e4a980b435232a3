package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"deployd/internal/common/fsutil"
	"deployd/internal/ports"
)

// Environment managers understood by SubprocessConfig.EnvManager.
const (
	EnvManagerVenv = "venv"
	EnvManagerNone = "none"
)

// SubprocessConfig controls how serving processes are prepared and started.
type SubprocessConfig struct {
	// WorkDir holds one directory per deployment (venv and serve.log).
	WorkDir string
	// ServeBin is the serving runtime executable. With the venv manager a
	// bare name is resolved inside the deployment's venv/bin.
	ServeBin string
	// PythonBin creates the per-deployment virtualenv.
	PythonBin string
	// EnvManager is "venv" (default) or "none".
	EnvManager string
	// Packages installed into a fresh venv (default: mlflow).
	Packages []string
	// ModelURITemplate is expanded with {run}, {name} and {version}.
	ModelURITemplate string
	// BindHost is passed to the runtime as --host (default 0.0.0.0).
	BindHost string
	// ExtraArgs are appended to the serve command.
	ExtraArgs []string
	// Env is added to the inherited environment of the serving process.
	Env map[string]string
	// StopTimeout is how long Terminate waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration
	// PrepareTimeout bounds venv creation and package installation.
	PrepareTimeout time.Duration
	// ProbeHost is dialled to confirm a terminated port is released
	// (default 127.0.0.1).
	ProbeHost string
}

func (c SubprocessConfig) withDefaults() SubprocessConfig {
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "deployd")
	}
	if wd, err := fsutil.ExpandHome(c.WorkDir); err == nil {
		c.WorkDir = wd
	}
	if c.ServeBin == "" {
		c.ServeBin = "mlflow"
	}
	if c.PythonBin == "" {
		c.PythonBin = "python3"
	}
	if c.EnvManager == "" {
		c.EnvManager = EnvManagerVenv
	}
	if len(c.Packages) == 0 {
		c.Packages = []string{"mlflow"}
	}
	if c.ModelURITemplate == "" {
		c.ModelURITemplate = "runs:/{run}/model"
	}
	if c.BindHost == "" {
		c.BindHost = "0.0.0.0"
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 2 * time.Second
	}
	if c.PrepareTimeout <= 0 {
		c.PrepareTimeout = 10 * time.Minute
	}
	if c.ProbeHost == "" {
		c.ProbeHost = "127.0.0.1"
	}
	return c
}

// Subprocess launches one detached OS process per deployment.
type Subprocess struct {
	cfg SubprocessConfig
	log zerolog.Logger

	mu    sync.Mutex
	procs map[string]*process
}

// NewSubprocess builds a Subprocess launcher with defaults applied.
func NewSubprocess(cfg SubprocessConfig, logger zerolog.Logger) *Subprocess {
	return &Subprocess{
		cfg:   cfg.withDefaults(),
		log:   logger.With().Str("component", "launcher").Logger(),
		procs: make(map[string]*process),
	}
}

// Config returns the effective configuration.
func (s *Subprocess) Config() SubprocessConfig { return s.cfg }

type process struct {
	cmd  *exec.Cmd
	pid  int
	done chan struct{}

	mu  sync.Mutex
	err error
}

func (p *process) PID() int              { return p.pid }
func (p *process) Done() <-chan struct{} { return p.done }
func (p *process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// ModelURI expands the configured template for spec.
func (s *Subprocess) ModelURI(spec Spec) string {
	r := strings.NewReplacer("{run}", spec.RunReference, "{name}", spec.ModelName, "{version}", spec.Version)
	return r.Replace(s.cfg.ModelURITemplate)
}

func (s *Subprocess) deploymentDir(id string) string {
	return filepath.Join(s.cfg.WorkDir, id)
}

// Launch prepares the environment for spec and starts the serving runtime.
// It does not wait for readiness.
func (s *Subprocess) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return nil, fmt.Errorf("%w: empty deployment id", ErrLaunchFailed)
	}
	dir := s.deploymentDir(spec.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrLaunchFailed, dir, err)
	}
	bin := s.cfg.ServeBin
	env := os.Environ()
	if s.cfg.EnvManager == EnvManagerVenv {
		venv := filepath.Join(dir, "venv")
		if err := s.prepareVenv(ctx, spec.ID, venv); err != nil {
			return nil, err
		}
		if !strings.ContainsRune(bin, os.PathSeparator) {
			bin = filepath.Join(venv, "bin", bin)
		}
		env = append(env,
			"VIRTUAL_ENV="+venv,
			"PATH="+filepath.Join(venv, "bin")+string(os.PathListSeparator)+os.Getenv("PATH"),
		)
	}
	env = append(env, "MLFLOW_DISABLE_ENV_CREATION=true")
	for k, v := range s.cfg.Env {
		env = append(env, k+"="+v)
	}

	args := []string{
		"models", "serve",
		"-m", s.ModelURI(spec),
		"-p", strconv.Itoa(spec.Port),
		"--host", s.cfg.BindHost,
		"--no-conda",
	}
	args = append(args, s.cfg.ExtraArgs...)

	logPath := filepath.Join(dir, "serve.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrLaunchFailed, logPath, err)
	}

	// Not bound to ctx: the process must outlive the request that started it.
	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	detach(cmd)
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("%w: start %s: %v", ErrLaunchFailed, bin, err)
	}
	p := &process{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	s.log.Info().Str("event", "spawn_start").Str("id", spec.ID).Int("pid", p.pid).Int("port", spec.Port).Str("model_uri", s.ModelURI(spec)).Msg("serving process started")

	s.mu.Lock()
	s.procs[spec.ID] = p
	s.mu.Unlock()

	go func() {
		werr := cmd.Wait()
		_ = logFile.Close()
		if werr != nil {
			if t := fsutil.TailFile(logPath, 2048); t != "" {
				werr = fmt.Errorf("%w; serve.log tail: %s", werr, t)
			}
		}
		p.mu.Lock()
		p.err = werr
		p.mu.Unlock()
		close(p.done)
		s.mu.Lock()
		if s.procs[spec.ID] == p {
			delete(s.procs, spec.ID)
		}
		s.mu.Unlock()
		ev := s.log.Info()
		if werr != nil {
			ev = s.log.Warn().Err(werr)
		}
		ev.Str("event", "spawn_exit").Str("id", spec.ID).Int("pid", p.pid).Msg("serving process exited")
	}()
	return p, nil
}

func (s *Subprocess) prepareVenv(ctx context.Context, id, venv string) error {
	if fsutil.PathExists(filepath.Join(venv, "bin", "python")) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PrepareTimeout)
	defer cancel()
	start := time.Now()
	if out, err := runCommand(ctx, "", nil, s.cfg.PythonBin, "-m", "venv", venv); err != nil {
		_ = os.RemoveAll(venv)
		return fmt.Errorf("%w: create venv: %v: %s", ErrLaunchFailed, err, tail(out, 2048))
	}
	pip := filepath.Join(venv, "bin", "pip")
	args := append([]string{"install"}, s.cfg.Packages...)
	if out, err := runCommand(ctx, "", map[string]string{"VIRTUAL_ENV": venv}, pip, args...); err != nil {
		_ = os.RemoveAll(venv)
		return fmt.Errorf("%w: install %s: %v: %s", ErrLaunchFailed, strings.Join(s.cfg.Packages, " "), err, tail(out, 2048))
	}
	s.log.Info().Str("event", "venv_ready").Str("id", id).Int64("dur_ms", time.Since(start).Milliseconds()).Msg("environment prepared")
	return nil
}

// Terminate stops the process for t. Processes tracked by this launcher are
// signalled directly. Otherwise the persisted PID is used while its command
// line still mentions t.RunReference; failing that, any process serving the
// model URI on t.Port is stopped. If t.Port still accepts connections
// afterwards the result wraps ErrTerminateFailed. A process that is already
// gone with its port released is not an error.
func (s *Subprocess) Terminate(ctx context.Context, t Target) error {
	s.mu.Lock()
	p := s.procs[t.ID]
	s.mu.Unlock()
	if p != nil {
		return s.stopTracked(ctx, t.ID, p)
	}
	var pids []int
	switch {
	case t.PID > 0 && cmdlineContains(t.PID, t.RunReference):
		pids = []int{t.PID}
	case t.Port > 0:
		pids = s.findServing(t)
		if len(pids) > 0 {
			s.log.Info().Str("id", t.ID).Int("port", t.Port).Ints("pids", pids).Msg("matched serving process by command line")
		}
	}
	for _, pid := range pids {
		if err := s.stopUntracked(ctx, t.ID, pid); err != nil {
			return err
		}
	}
	return s.awaitReleased(ctx, t, len(pids))
}

// findServing returns the pids whose command line serves t's model URI on
// t.Port, as started by Launch.
func (s *Subprocess) findServing(t Target) []int {
	uri := s.ModelURI(Spec{ID: t.ID, ModelName: t.ModelName, Version: t.Version, RunReference: t.RunReference, Port: t.Port})
	port := strconv.Itoa(t.Port)
	self := os.Getpid()
	var out []int
	for pid, args := range listCmdlines() {
		if pid != self && servesModel(args, uri, port) {
			out = append(out, pid)
		}
	}
	sort.Ints(out)
	return out
}

// servesModel reports whether args carry "-m uri" and "-p port".
func servesModel(args []string, uri, port string) bool {
	var hasURI, hasPort bool
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "-m":
			hasURI = hasURI || args[i+1] == uri
		case "-p":
			hasPort = hasPort || args[i+1] == port
		}
	}
	return hasURI && hasPort
}

// awaitReleased waits for t.Port to stop accepting connections once stopped
// processes are gone.
func (s *Subprocess) awaitReleased(ctx context.Context, t Target, stopped int) error {
	if t.Port <= 0 {
		return nil
	}
	deadline := time.Now().Add(s.cfg.StopTimeout)
	for ports.Listening(s.cfg.ProbeHost, t.Port, 200*time.Millisecond) {
		if stopped == 0 {
			return fmt.Errorf("%w: port %d still serving and no process matches %s", ErrTerminateFailed, t.Port, t.ID)
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return fmt.Errorf("%w: port %d still serving after stopping %s", ErrTerminateFailed, t.Port, t.ID)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func (s *Subprocess) stopTracked(ctx context.Context, id string, p *process) error {
	if err := signalGroup(p.pid, sigTerm); err != nil && !errors.Is(err, errProcessGone) {
		return fmt.Errorf("signal %d: %w", p.pid, err)
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		_ = signalGroup(p.pid, sigKill)
		<-p.done
	case <-time.After(s.cfg.StopTimeout):
		_ = signalGroup(p.pid, sigKill)
		<-p.done
	}
	s.log.Info().Str("event", "spawn_stop").Str("id", id).Int("pid", p.pid).Msg("serving process stopped")
	return nil
}

func (s *Subprocess) stopUntracked(ctx context.Context, id string, pid int) error {
	if err := signalGroup(pid, sigTerm); err != nil {
		if errors.Is(err, errProcessGone) {
			return nil
		}
		return fmt.Errorf("signal %d: %w", pid, err)
	}
	deadline := time.Now().Add(s.cfg.StopTimeout)
	for processAlive(pid) {
		if time.Now().After(deadline) || ctx.Err() != nil {
			_ = signalGroup(pid, sigKill)
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.log.Info().Str("event", "spawn_stop").Str("id", id).Int("pid", pid).Bool("tracked", false).Msg("serving process stopped")
	return nil
}

// Tracked reports whether a live process for id was started by this launcher.
func (s *Subprocess) Tracked(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[id]
	return ok
}

func runCommand(ctx context.Context, dir string, extraEnv map[string]string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = os.Environ()
	for k, v := range extraEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
