package main

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the vault gateway service.
type Config struct {
	ListenAddress      string
	NodeURL            string
	NodeAuthToken      string
	DatabasePath       string
	ReadRetryAttempts  int
	ReadRetryBaseDelay time.Duration
	RateLimitPerMinute float64
	RateLimitBurst     int
	LegendaryThreshold *big.Int
}

// LoadConfigFromEnv builds a configuration using environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:      getenvDefault("VAULT_GATEWAY_LISTEN", ":8081"),
		NodeURL:            os.Getenv("VAULT_GATEWAY_NODE_URL"),
		NodeAuthToken:      os.Getenv("VAULT_GATEWAY_NODE_TOKEN"),
		DatabasePath:       getenvDefault("VAULT_GATEWAY_DB_PATH", "vault-gateway.db"),
		ReadRetryAttempts:  5,
		ReadRetryBaseDelay: 200 * time.Millisecond,
		RateLimitPerMinute: 600,
		RateLimitBurst:     30,
	}

	if raw := strings.TrimSpace(os.Getenv("VAULT_GATEWAY_READ_RETRIES")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return Config{}, fmt.Errorf("parse VAULT_GATEWAY_READ_RETRIES: %q", raw)
		}
		cfg.ReadRetryAttempts = val
	}
	if raw := strings.TrimSpace(os.Getenv("VAULT_GATEWAY_RETRY_BASE_DELAY")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil || dur <= 0 {
			return Config{}, fmt.Errorf("parse VAULT_GATEWAY_RETRY_BASE_DELAY: %q", raw)
		}
		cfg.ReadRetryBaseDelay = dur
	}
	if raw := strings.TrimSpace(os.Getenv("VAULT_GATEWAY_LEGENDARY_THRESHOLD")); raw != "" {
		threshold, ok := new(big.Int).SetString(raw, 10)
		if !ok || threshold.Sign() <= 0 {
			return Config{}, fmt.Errorf("parse VAULT_GATEWAY_LEGENDARY_THRESHOLD: %q", raw)
		}
		cfg.LegendaryThreshold = threshold
	}
	if strings.TrimSpace(cfg.NodeURL) == "" {
		return Config{}, fmt.Errorf("VAULT_GATEWAY_NODE_URL is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
