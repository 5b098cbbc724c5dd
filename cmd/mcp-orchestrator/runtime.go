package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/vikashloomba/mcp-orchestrator-go/internal/config"
	"github.com/vikashloomba/mcp-orchestrator-go/internal/logging"
	"github.com/vikashloomba/mcp-orchestrator-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-orchestrator-go/pkg/orchestrator"
)

// runtime bundles what every command needs after flag parsing.
type runtime struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	orch       *orchestrator.Orchestrator
}

// newFlagSet returns a flag set carrying the shared --config flag.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	path := fs.String("config", "", "Path to the config file (YAML or TOML)")
	return fs, path
}

func loadRuntime(configFlag string, opts *orchestrator.Options) (*runtime, error) {
	path := config.ResolvePath(configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	if opts == nil {
		opts = &orchestrator.Options{}
	}
	opts.DefaultTimeout = cfg.Orchestrator.DefaultTimeout
	opts.MaxRetries = cfg.Orchestrator.MaxRetries
	opts.DebugLogging = cfg.Orchestrator.DebugLogging
	opts.ValidateArguments = cfg.Orchestrator.ValidateArguments
	opts.ClientName = cfg.Orchestrator.ClientName
	opts.ClientVersion = version
	opts.Logger = logger

	return &runtime{
		configPath: path,
		cfg:        cfg,
		logger:     logger,
		orch:       orchestrator.New(opts),
	}, nil
}

// connect registers the configured servers whose IDs are in only (all of
// them when only is empty) concurrently. Registration failures are logged
// and reported, not fatal: the server stays visible with status error.
func (rt *runtime) connect(ctx context.Context, only []string) []error {
	configs := rt.cfg.ServerConfigs()
	ids := make([]string, 0, len(configs))
	for id := range configs {
		if len(only) == 0 || slices.Contains(only, id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			if _, err := rt.orch.RegisterServer(ctx, id, configs[id]); err != nil {
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return failed
}

func (rt *runtime) close() {
	if err := rt.orch.Close(context.Background()); err != nil {
		rt.logger.Warn("disconnect failed", "error", err)
	}
}

func printServers(servers []mcpmgr.Server) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	for _, s := range servers {
		switch s.Status {
		case mcpmgr.StatusConnected:
			green.Print("  ● ")
		case mcpmgr.StatusError:
			red.Print("  ✖ ")
		default:
			yellow.Print("  ○ ")
		}
		fmt.Printf("%-20s %-12s tools=%d", s.ID, s.Status, len(s.Tools))
		if len(s.Capabilities) > 0 {
			caps := make([]string, 0, len(s.Capabilities))
			for _, c := range s.Capabilities {
				caps = append(caps, string(c.Type))
			}
			gray.Printf("  [%s]", strings.Join(caps, ","))
		}
		fmt.Println()
		if s.LastError != "" {
			red.Printf("      %s\n", s.LastError)
		}
	}
}

// splitList splits a comma separated flag value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
