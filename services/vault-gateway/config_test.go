package main

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("VAULT_GATEWAY_NODE_URL", "http://127.0.0.1:8545")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8081" {
		t.Fatalf("listen = %q", cfg.ListenAddress)
	}
	if cfg.ReadRetryAttempts != 5 || cfg.ReadRetryBaseDelay != 200*time.Millisecond {
		t.Fatalf("retry defaults = %d/%v", cfg.ReadRetryAttempts, cfg.ReadRetryBaseDelay)
	}
	if cfg.LegendaryThreshold != nil {
		t.Fatalf("threshold should default to nil, got %s", cfg.LegendaryThreshold)
	}
}

func TestLoadConfigRequiresNodeURL(t *testing.T) {
	t.Setenv("VAULT_GATEWAY_NODE_URL", "")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected error for missing node URL")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("VAULT_GATEWAY_NODE_URL", "http://127.0.0.1:8545")
	t.Setenv("VAULT_GATEWAY_READ_RETRIES", "9")
	t.Setenv("VAULT_GATEWAY_RETRY_BASE_DELAY", "50ms")
	t.Setenv("VAULT_GATEWAY_LEGENDARY_THRESHOLD", "5000000000")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ReadRetryAttempts != 9 {
		t.Fatalf("retries = %d", cfg.ReadRetryAttempts)
	}
	if cfg.ReadRetryBaseDelay != 50*time.Millisecond {
		t.Fatalf("base delay = %v", cfg.ReadRetryBaseDelay)
	}
	if cfg.LegendaryThreshold.String() != "5000000000" {
		t.Fatalf("threshold = %s", cfg.LegendaryThreshold)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("VAULT_GATEWAY_NODE_URL", "http://127.0.0.1:8545")
	t.Setenv("VAULT_GATEWAY_READ_RETRIES", "zero")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected error for bad retry count")
	}
}
