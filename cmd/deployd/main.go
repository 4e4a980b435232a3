package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"deployd/internal/bootstrap"
	"deployd/internal/config"
)

type options struct {
	configPath  string
	addr        string
	portStart   int
	portEnd     int
	logLevel    string
	logFormat   string
	reconcile   string
	corsOrigins string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command { return newRootCmdWith(&options{}) }

// newRootCmdWith constructs the command tree bound to o.
func newRootCmdWith(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "deployd",
		Short:         "Deploy model versions as local serving processes and route traffic to them",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd, os.Getenv)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	f := root.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "Path to config file (.yaml, .yml, .json, .toml)")
	f.StringVar(&o.addr, "addr", "", "HTTP listen address, e.g. :8000")
	f.IntVar(&o.portStart, "port-start", 0, "First port handed to serving processes (inclusive)")
	f.IntVar(&o.portEnd, "port-end", 0, "End of the port range (exclusive)")
	f.StringVar(&o.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	f.StringVar(&o.logFormat, "log-format", "", "Log format: json|console")
	f.StringVar(&o.reconcile, "reconcile", "", "Startup reconciliation: blocking|background|off")
	f.StringVar(&o.corsOrigins, "cors-origins", "", "Comma-separated origins; enables CORS when set")

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate configuration and runtime binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd, os.Getenv)
			if err != nil {
				return err
			}
			return check(cmd, cfg)
		},
	})
	return root
}

// load merges file, environment and flags, in that order, then applies
// defaults and validates.
func (o *options) load(cmd *cobra.Command, getenv func(string) string) (config.Config, error) {
	var cfg config.Config
	if o.configPath != "" {
		c, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if err := config.ApplyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = o.addr
	}
	if flags.Changed("port-start") {
		cfg.Ports.Start = o.portStart
	}
	if flags.Changed("port-end") {
		cfg.Ports.End = o.portEnd
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = o.logFormat
	}
	if flags.Changed("reconcile") {
		cfg.Reconcile.Mode = o.reconcile
	}
	if origins := splitCSV(o.corsOrigins); len(origins) > 0 {
		cfg.HTTP.CORS.Enabled = true
		cfg.HTTP.CORS.Origins = origins
	}
	if cfg.HTTP.CORS.Enabled {
		if len(cfg.HTTP.CORS.Methods) == 0 {
			cfg.HTTP.CORS.Methods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		}
		if len(cfg.HTTP.CORS.Headers) == 0 {
			cfg.HTTP.CORS.Headers = []string{"Content-Type", "Authorization", "X-Log-Level"}
		}
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := bootstrap.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	// Graceful shutdown (Ctrl+C / SIGTERM)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cp, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := cp.Close(); err != nil {
			logger.Error().Err(err).Msg("close")
		}
	}()
	return cp.Run(ctx)
}

func check(cmd *cobra.Command, cfg config.Config) error {
	logger, err := bootstrap.NewLogger("error", cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cp, err := bootstrap.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer cp.Close()
	rep := cp.Manager.SanityCheck()
	out := map[string]any{
		"ports":       cfg.Ports.String(),
		"free_ports":  cp.Manager.FreePorts(),
		"deployments": len(cp.Manager.Deployments()),
		"runtime":     rep,
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !rep.OK {
		return fmt.Errorf("runtime check failed")
	}
	return nil
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empties.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
