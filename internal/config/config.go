// Package config loads the mcp-orchestrator configuration file.
//
// YAML is the default format; files ending in .toml are decoded as TOML.
// Environment references in the form ${VAR_NAME} are expanded before
// parsing, and duration strings such as "15s" are parsed after it.
package config

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-orchestrator-go/pkg/mcpmgr"
)

// EnvConfigPath names the environment variable consulted by ResolvePath.
const EnvConfigPath = "MCP_ORCHESTRATOR_CONFIG"

const (
	defaultTimeout     = 30 * time.Second
	defaultGatewayAddr = ":8700"
	defaultGatewayPath = "/mcp"
)

// Config is the complete mcp-orchestrator configuration.
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator" toml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Gateway      GatewayConfig      `yaml:"gateway" toml:"gateway"`
	Servers      []ServerEntry      `yaml:"servers" toml:"servers"`
}

// OrchestratorConfig holds the orchestrator construction options.
type OrchestratorConfig struct {
	DefaultTimeout    time.Duration `yaml:"-" toml:"-"`
	MaxRetries        int           `yaml:"max_retries" toml:"max_retries"`
	DebugLogging      bool          `yaml:"debug_logging" toml:"debug_logging"`
	ValidateArguments bool          `yaml:"validate_arguments" toml:"validate_arguments"`
	ClientName        string        `yaml:"client_name" toml:"client_name"`

	DefaultTimeoutRaw string `yaml:"default_timeout" toml:"default_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// GatewayConfig configures the HTTP gateway started by "serve".
type GatewayConfig struct {
	Addr        string   `yaml:"addr" toml:"addr"`
	Path        string   `yaml:"path" toml:"path"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
	// DisablePlanTool hides the plan execution tool from gateway clients.
	DisablePlanTool bool `yaml:"disable_plan_tool" toml:"disable_plan_tool"`
}

// ServerEntry describes one upstream server. Exactly one of Stdio and HTTP
// must be set.
type ServerEntry struct {
	ID         string        `yaml:"id" toml:"id"`
	Name       string        `yaml:"name" toml:"name"`
	Category   string        `yaml:"category" toml:"category"`
	Tags       []string      `yaml:"tags" toml:"tags"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	LogJSONRPC bool          `yaml:"log_jsonrpc" toml:"log_jsonrpc"`
	Stdio      *StdioEntry   `yaml:"stdio" toml:"stdio"`
	HTTP       *HTTPEntry    `yaml:"http" toml:"http"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// StdioEntry launches a server as a subprocess.
type StdioEntry struct {
	Command string            `yaml:"command" toml:"command"`
	Args    []string          `yaml:"args" toml:"args"`
	Env     map[string]string `yaml:"env" toml:"env"`
}

// HTTPEntry reaches a server over Streamable HTTP, falling back to SSE.
type HTTPEntry struct {
	Endpoint    string            `yaml:"endpoint" toml:"endpoint"`
	PreferSSE   *bool             `yaml:"prefer_sse" toml:"prefer_sse"`
	Headers     map[string]string `yaml:"headers" toml:"headers"`
	BearerToken string            `yaml:"bearer_token" toml:"bearer_token"`
	MaxRetries  int               `yaml:"max_retries" toml:"max_retries"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. The format is chosen from the file extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Parse(data, format)
}

// Parse decodes configuration data in the given format ("yaml" or "toml").
func Parse(data []byte, format string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to "".
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Orchestrator.DefaultTimeoutRaw != "" {
		cfg.Orchestrator.DefaultTimeout, err = time.ParseDuration(cfg.Orchestrator.DefaultTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing default_timeout %q: %w", cfg.Orchestrator.DefaultTimeoutRaw, err)
		}
	}
	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		if s.TimeoutRaw == "" {
			continue
		}
		s.Timeout, err = time.ParseDuration(s.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q for server %q: %w", s.TimeoutRaw, s.ID, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Orchestrator.DefaultTimeoutRaw == "" && c.Orchestrator.DefaultTimeout == 0 {
		c.Orchestrator.DefaultTimeout = defaultTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Orchestrator.DebugLogging {
		c.Logging.Level = "debug"
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = defaultGatewayAddr
	}
	if c.Gateway.Path == "" {
		c.Gateway.Path = defaultGatewayPath
	}
	if len(c.Gateway.CORSOrigins) == 0 {
		c.Gateway.CORSOrigins = []string{"*"}
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Orchestrator.DefaultTimeout <= 0 {
		return fmt.Errorf("orchestrator.default_timeout must be positive")
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("servers[%d].id is required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("servers[%d].id %q is duplicated", i, s.ID)
		}
		seen[s.ID] = struct{}{}
		switch {
		case s.Stdio == nil && s.HTTP == nil:
			return fmt.Errorf("server %q needs a stdio or http section", s.ID)
		case s.Stdio != nil && s.HTTP != nil:
			return fmt.Errorf("server %q sets both stdio and http", s.ID)
		case s.Stdio != nil && s.Stdio.Command == "":
			return fmt.Errorf("server %q: stdio.command is required", s.ID)
		case s.HTTP != nil && s.HTTP.Endpoint == "":
			return fmt.Errorf("server %q: http.endpoint is required", s.ID)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("server %q: timeout must not be negative", s.ID)
		}
	}
	return nil
}

// ServerConfigs maps the file entries to manager configurations keyed by
// server ID.
func (c *Config) ServerConfigs() map[string]mcpmgr.ServerConfig {
	out := make(map[string]mcpmgr.ServerConfig, len(c.Servers))
	for _, s := range c.Servers {
		base := mcpmgr.BaseServerConfig{
			Name:       s.Name,
			Category:   s.Category,
			Tags:       s.Tags,
			Timeout:    s.Timeout,
			LogJSONRPC: s.LogJSONRPC,
		}
		if s.Stdio != nil {
			out[s.ID] = &mcpmgr.StdioServerConfig{
				BaseServerConfig: base,
				Command:          s.Stdio.Command,
				Args:             s.Stdio.Args,
				Env:              s.Stdio.Env,
			}
			continue
		}
		cfg := &mcpmgr.HTTPServerConfig{
			BaseServerConfig: base,
			Endpoint:         s.HTTP.Endpoint,
			PreferSSE:        s.HTTP.PreferSSE,
			MaxRetries:       s.HTTP.MaxRetries,
		}
		if len(s.HTTP.Headers) > 0 {
			headers := make(http.Header, len(s.HTTP.Headers))
			for k, v := range s.HTTP.Headers {
				headers.Set(k, v)
			}
			cfg.RequestInit = &mcpmgr.HTTPRequestInit{Headers: headers}
		}
		if token := s.HTTP.BearerToken; token != "" {
			cfg.AuthProvider = func(context.Context) (string, error) {
				return "Bearer " + token, nil
			}
		}
		out[s.ID] = cfg
	}
	return out
}

// ResolvePath picks the config file: the explicit flag value, else
// $MCP_ORCHESTRATOR_CONFIG, else $XDG_CONFIG_HOME/mcp-orchestrator/config.yaml
// (~/.config when XDG_CONFIG_HOME is unset).
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "mcp-orchestrator", "config.yaml")
}
