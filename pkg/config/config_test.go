package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shawkym/agentpipe-orchestrator/pkg/agent"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Version != "1.0" {
		t.Errorf("Expected Version to be '1.0', got %s", cfg.Version)
	}

	if cfg.Orchestrator.MaxGroupTurns != 10 {
		t.Errorf("Expected default MaxGroupTurns to be 10, got %d", cfg.Orchestrator.MaxGroupTurns)
	}

	if cfg.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("Expected default FailureThreshold to be 5, got %d", cfg.CircuitBreaker.FailureThreshold)
	}

	if cfg.CircuitBreaker.RecoveryTimeout != 60*time.Second {
		t.Errorf("Expected default RecoveryTimeout to be 60s, got %v", cfg.CircuitBreaker.RecoveryTimeout)
	}

	if cfg.Persistence.Backend != "memory" {
		t.Errorf("Expected default persistence backend to be 'memory', got %s", cfg.Persistence.Backend)
	}

	if cfg.Tracing.Backend != "noop" {
		t.Errorf("Expected default tracing backend to be 'noop', got %s", cfg.Tracing.Backend)
	}

	if cfg.Budget.DefaultLimitUSD != 50.0 {
		t.Errorf("Expected default budget to be 50.0, got %v", cfg.Budget.DefaultLimitUSD)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
		errMsg  string
	}{
		{
			name: "no agents and no agents dir",
			config: &Config{
				Orchestrator: OrchestratorConfig{MaxGroupTurns: 10},
				Persistence:  PersistenceConfig{Backend: "memory"},
				Tracing:      TracingConfig{Backend: "noop"},
			},
			wantErr: true,
			errMsg:  "agents_dir or an inline agents list",
		},
		{
			name: "duplicate agent IDs",
			config: &Config{
				Agents: []agent.Definition{
					{ID: "agent1", DisplayName: "Agent 1"},
					{ID: "agent1", DisplayName: "Agent 2"},
				},
				Orchestrator: OrchestratorConfig{MaxGroupTurns: 10},
				Persistence:  PersistenceConfig{Backend: "memory"},
				Tracing:      TracingConfig{Backend: "noop"},
			},
			wantErr: true,
			errMsg:  "duplicate agent ID",
		},
		{
			name: "invalid persistence backend",
			config: &Config{
				Agents:       []agent.Definition{{ID: "agent1", DisplayName: "Agent 1"}},
				Orchestrator: OrchestratorConfig{MaxGroupTurns: 10},
				Persistence:  PersistenceConfig{Backend: "sqlite"},
				Tracing:      TracingConfig{Backend: "noop"},
			},
			wantErr: true,
			errMsg:  "invalid persistence backend",
		},
		{
			name: "redis backend without address",
			config: &Config{
				Agents:       []agent.Definition{{ID: "agent1", DisplayName: "Agent 1"}},
				Orchestrator: OrchestratorConfig{MaxGroupTurns: 10},
				Persistence:  PersistenceConfig{Backend: "redis"},
				Tracing:      TracingConfig{Backend: "noop"},
			},
			wantErr: true,
			errMsg:  "redis_addr is required",
		},
		{
			name: "valid config",
			config: &Config{
				Agents: []agent.Definition{
					{ID: "agent1", DisplayName: "Agent 1"},
					{ID: "agent2", DisplayName: "Agent 2"},
				},
				Orchestrator: OrchestratorConfig{MaxGroupTurns: 10},
				Persistence:  PersistenceConfig{Backend: "memory"},
				Tracing:      TracingConfig{Backend: "noop"},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error message = %v, want to contain %v", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	contents := "agents_dir: ./agents\n"
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Orchestrator.MaxGroupTurns != 10 {
		t.Errorf("expected default MaxGroupTurns, got %d", cfg.Orchestrator.MaxGroupTurns)
	}
	if cfg.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("expected default FailureThreshold, got %d", cfg.CircuitBreaker.FailureThreshold)
	}
}
