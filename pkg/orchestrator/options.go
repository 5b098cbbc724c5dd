package orchestrator

import (
	"log/slog"
	"time"
)

// Options configure an Orchestrator.
type Options struct {
	// DefaultTimeout applies to every call whose server config and ToolCall
	// leave the timeout unset. Defaults to 30s.
	DefaultTimeout time.Duration
	// MaxRetries is accepted for configuration compatibility. Failed calls
	// are never retried automatically.
	MaxRetries int
	// DebugLogging logs every JSON-RPC frame at debug level.
	DebugLogging bool
	// ValidateArguments checks tool arguments against the tool's input schema
	// before sending.
	ValidateArguments bool
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// ClientName and ClientVersion are advertised during initialize.
	ClientName    string
	ClientVersion string
	// OnStepStart and OnStepDone observe plan execution. Panics are recovered.
	OnStepStart func(planID string, step ExecutionStep)
	OnStepDone  func(planID string, step ExecutionStep, result ToolResult)
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ClientName == "" {
		opts.ClientName = "mcp-orchestrator"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	return opts
}
