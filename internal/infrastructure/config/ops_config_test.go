package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestOpsConfigDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.Agent.Ops.ExecutionMode != "strict" {
		t.Errorf("expected default execution_mode strict, got %q", cfg.Agent.Ops.ExecutionMode)
	}
	if cfg.Agent.Ops.RunTimeoutSec != 1800 {
		t.Errorf("expected default run_timeout_sec 1800, got %d", cfg.Agent.Ops.RunTimeoutSec)
	}
	if cfg.Agent.Ops.MaxToolCalls != 60 {
		t.Errorf("expected default max_tool_calls 60, got %d", cfg.Agent.Ops.MaxToolCalls)
	}
	if cfg.Agent.Ops.MaxReflections != 3 {
		t.Errorf("expected default max_reflections 3, got %d", cfg.Agent.Ops.MaxReflections)
	}
	if !cfg.Agent.Ops.AutoCorrectCommands {
		t.Errorf("expected auto_correct_commands default true")
	}
	if cfg.Agent.Ops.Language != "en-US" {
		t.Errorf("expected default language en-US, got %q", cfg.Agent.Ops.Language)
	}
}
