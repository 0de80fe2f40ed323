// Package config provides configuration management for the orchestrator.
// It defines the structure for YAML configuration files and handles
// loading, validation, and default value application.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
)

// Config is the top-level configuration structure for the orchestrator.
type Config struct {
	// Version is the configuration file format version.
	Version string `yaml:"version"`
	// AgentsDir is the directory scanned by the Agent Registry at startup.
	AgentsDir string `yaml:"agents_dir"`
	// Agents is an inline agent list, used only when AgentsDir is empty, for
	// tests and single-file deployments.
	Agents []agent.Definition `yaml:"agents"`

	Orchestrator   OrchestratorConfig   `yaml:"orchestrator"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	HealthMonitor  HealthMonitorConfig  `yaml:"health_monitor"`
	Stream         StreamConfig         `yaml:"stream"`
	HITL           HITLConfig           `yaml:"hitl"`
	Budget         BudgetConfig         `yaml:"budget"`
	Persistence    PersistenceConfig    `yaml:"persistence"`
	Tracing        TracingConfig        `yaml:"tracing"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Logging        LoggingConfig        `yaml:"logging"`
	Provider       ProviderConfig       `yaml:"provider"`
	Server         ServerConfig         `yaml:"server"`
}

// ProviderConfig points the model client at an OpenAI-compatible endpoint.
// APIKeyEnv names an environment variable rather than embedding the key
// directly in the config file.
type ProviderConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	// FallbackBaseURL and FallbackAPIKeyEnv, when set, configure a second
	// model client backing a secondary orchestrator variant in the
	// resilience fallback chain, tried whenever the primary variant returns
	// an error Result, including while its circuit breaker is open.
	FallbackBaseURL   string `yaml:"fallback_base_url"`
	FallbackAPIKeyEnv string `yaml:"fallback_api_key_env"`
}

// ServerConfig configures the HTTP server exposed by the "serve" command.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// OrchestratorConfig defines how the orchestrator drives a conversation.
type OrchestratorConfig struct {
	// MaxGroupTurns bounds a group-chat conversation (default 10).
	MaxGroupTurns int `yaml:"max_group_turns"`
	// TurnTimeout is the deadline given to a single agent invocation.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
	// ModelCallTimeout bounds a single ModelClient.Invoke call.
	ModelCallTimeout time.Duration `yaml:"model_call_timeout"`
	// SingleAgentMargin is the scoring margin (T1) above which routing
	// commits to a single agent instead of a group conversation.
	SingleAgentMargin float64 `yaml:"single_agent_margin"`
}

// CircuitBreakerConfig mirrors the defaults documented for the breaker.
type CircuitBreakerConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout"`
	SuccessThreshold  int           `yaml:"success_threshold"`
	HalfOpenMaxCalls  int           `yaml:"half_open_max_calls"`
}

// HealthMonitorConfig configures the periodic orchestrator health poll.
type HealthMonitorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// StreamConfig configures the streaming multiplexer's buffering behavior.
type StreamConfig struct {
	WindowSize         int           `yaml:"window_size"`
	MaxBufferSize      int           `yaml:"max_buffer_size"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
}

// HITLConfig configures risk assessment and approval behavior. Leaving
// Thresholds empty uses the package's built-in default table.
type HITLConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Thresholds []RiskThreshold  `yaml:"thresholds"`
}

// RiskThreshold is a YAML-serializable mirror of pkg/hitl.Threshold, kept
// here so config files can override the default risk table without the
// config package depending on pkg/hitl (which depends on pkg/persistence,
// which would create an import cycle with cmd wiring).
type RiskThreshold struct {
	Level          string   `yaml:"level"`
	MinCostUSD     float64  `yaml:"min_cost_usd"`
	Sensitivities  []string `yaml:"sensitivities"`
	Actions        []string `yaml:"actions"`
	RequireApproval bool    `yaml:"require_approval"`
	AutoPause      bool     `yaml:"auto_pause"`
	TimeoutMinutes int      `yaml:"timeout_minutes"`
}

// BudgetConfig sets the default per-conversation cost ceiling.
type BudgetConfig struct {
	DefaultLimitUSD float64 `yaml:"default_limit_usd"`
}

// PersistenceConfig selects and configures the key-value store backend.
type PersistenceConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// TracingConfig selects the tracing backend. "noop" (default) or "otel".
type TracingConfig struct {
	Backend      string `yaml:"backend"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig defines structured logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// NewDefaultConfig creates a configuration with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Orchestrator: OrchestratorConfig{
			MaxGroupTurns:     10,
			TurnTimeout:       120 * time.Second,
			ModelCallTimeout:  120 * time.Second,
			SingleAgentMargin: 0.15,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			SuccessThreshold: 3,
			HalfOpenMaxCalls: 3,
		},
		HealthMonitor: HealthMonitorConfig{
			Interval:     30 * time.Second,
			ProbeTimeout: 5 * time.Second,
		},
		Stream: StreamConfig{
			WindowSize:        10,
			MaxBufferSize:     50,
			HeartbeatInterval: 30 * time.Second,
		},
		HITL: HITLConfig{
			Enabled: true,
		},
		Budget: BudgetConfig{
			DefaultLimitUSD: 50.0,
		},
		Persistence: PersistenceConfig{
			Backend: "memory",
		},
		Tracing: TracingConfig{
			Backend:     "noop",
			ServiceName: "agentpipe-orchestrator",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Provider: ProviderConfig{
			BaseURL:   "https://api.openai.com/v1",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// LoadConfig loads and validates a configuration from a YAML file.
// It applies default values for any missing optional fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := *NewDefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SaveConfig writes the configuration to a YAML file with 0600 permissions.
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	agentIDs := make(map[string]bool)
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent ID cannot be empty")
		}
		if a.DisplayName == "" {
			return fmt.Errorf("agent display name cannot be empty for agent %s", a.ID)
		}
		if agentIDs[a.ID] {
			return fmt.Errorf("duplicate agent ID: %s", a.ID)
		}
		agentIDs[a.ID] = true
	}

	if c.AgentsDir == "" && len(c.Agents) == 0 {
		return fmt.Errorf("either agents_dir or an inline agents list must be configured")
	}

	switch c.Persistence.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid persistence backend: %s", c.Persistence.Backend)
	}
	if c.Persistence.Backend == "redis" && c.Persistence.RedisAddr == "" {
		return fmt.Errorf("persistence.redis_addr is required when backend is redis")
	}

	switch c.Tracing.Backend {
	case "noop", "otel":
	default:
		return fmt.Errorf("invalid tracing backend: %s", c.Tracing.Backend)
	}

	if c.Orchestrator.MaxGroupTurns <= 0 {
		return fmt.Errorf("orchestrator.max_group_turns must be positive")
	}

	return nil
}

func (c *Config) applyDefaults() {
	d := NewDefaultConfig()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Orchestrator.MaxGroupTurns == 0 {
		c.Orchestrator.MaxGroupTurns = d.Orchestrator.MaxGroupTurns
	}
	if c.Orchestrator.TurnTimeout == 0 {
		c.Orchestrator.TurnTimeout = d.Orchestrator.TurnTimeout
	}
	if c.Orchestrator.ModelCallTimeout == 0 {
		c.Orchestrator.ModelCallTimeout = d.Orchestrator.ModelCallTimeout
	}
	if c.Orchestrator.SingleAgentMargin == 0 {
		c.Orchestrator.SingleAgentMargin = d.Orchestrator.SingleAgentMargin
	}

	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = d.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.RecoveryTimeout == 0 {
		c.CircuitBreaker.RecoveryTimeout = d.CircuitBreaker.RecoveryTimeout
	}
	if c.CircuitBreaker.SuccessThreshold == 0 {
		c.CircuitBreaker.SuccessThreshold = d.CircuitBreaker.SuccessThreshold
	}
	if c.CircuitBreaker.HalfOpenMaxCalls == 0 {
		c.CircuitBreaker.HalfOpenMaxCalls = d.CircuitBreaker.HalfOpenMaxCalls
	}

	if c.HealthMonitor.Interval == 0 {
		c.HealthMonitor.Interval = d.HealthMonitor.Interval
	}
	if c.HealthMonitor.ProbeTimeout == 0 {
		c.HealthMonitor.ProbeTimeout = d.HealthMonitor.ProbeTimeout
	}

	if c.Stream.WindowSize == 0 {
		c.Stream.WindowSize = d.Stream.WindowSize
	}
	if c.Stream.MaxBufferSize == 0 {
		c.Stream.MaxBufferSize = d.Stream.MaxBufferSize
	}
	if c.Stream.HeartbeatInterval == 0 {
		c.Stream.HeartbeatInterval = d.Stream.HeartbeatInterval
	}

	if c.Budget.DefaultLimitUSD == 0 {
		c.Budget.DefaultLimitUSD = d.Budget.DefaultLimitUSD
	}

	if c.Persistence.Backend == "" {
		c.Persistence.Backend = d.Persistence.Backend
	}

	if c.Tracing.Backend == "" {
		c.Tracing.Backend = d.Tracing.Backend
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = d.Tracing.ServiceName
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = d.Metrics.Addr
	}

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = d.Provider.BaseURL
	}
	if c.Provider.APIKeyEnv == "" {
		c.Provider.APIKeyEnv = d.Provider.APIKeyEnv
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}

	for i := range c.Agents {
		if c.Agents[i].MaxComplexity == 0 {
			c.Agents[i].MaxComplexity = 1.0
		}
		if c.Agents[i].RateLimitBurst == 0 {
			c.Agents[i].RateLimitBurst = 1
		}
	}
}
