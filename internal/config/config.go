// Package config loads daemon configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the monitoring daemon.
type Config struct {
	// Collaborator endpoints
	StreamURL  string `yaml:"streamUrl"`
	BackendURL string `yaml:"backendUrl"`

	// Auth token consumed by the stream and REST clients. Issued elsewhere.
	Token string `yaml:"token"`

	// Dashboard HTTP surface
	ListenAddr string `yaml:"listenAddr"`

	// Optional Redis fan-out for multi-process dashboards
	RedisURL string `yaml:"redisUrl"`

	// Reconnection policy
	BackoffFloor   time.Duration `yaml:"backoffFloor"`
	BackoffCeiling time.Duration `yaml:"backoffCeiling"`
	MaxAttempts    int           `yaml:"maxAttempts"`

	// Initial subscriptions
	Vehicles []int64 `yaml:"vehicles"`
	Routes   []int64 `yaml:"routes"`

	LogLevel string `yaml:"logLevel"`
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variable overrides.
func Load() (*Config, error) {
	cfg := &Config{
		StreamURL:      "ws://localhost:8090/v1/monitoring/stream",
		BackendURL:     "http://localhost:8090",
		ListenAddr:     ":8080",
		BackoffFloor:   time.Second,
		BackoffCeiling: 30 * time.Second,
		MaxAttempts:    5,
		LogLevel:       "info",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.StreamURL = getEnv("STREAM_URL", cfg.StreamURL)
	cfg.BackendURL = getEnv("BACKEND_URL", cfg.BackendURL)
	cfg.Token = getEnv("MONITOR_TOKEN", cfg.Token)
	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.BackoffFloor = getEnvDuration("BACKOFF_FLOOR", cfg.BackoffFloor)
	cfg.BackoffCeiling = getEnvDuration("BACKOFF_CEILING", cfg.BackoffCeiling)
	cfg.MaxAttempts = getEnvInt("MAX_RECONNECT_ATTEMPTS", cfg.MaxAttempts)
	cfg.Vehicles = getEnvIDs("WATCH_VEHICLES", cfg.Vehicles)
	cfg.Routes = getEnvIDs("WATCH_ROUTES", cfg.Routes)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvIDs parses a comma-separated id list, e.g. WATCH_VEHICLES=7,12,15.
func getEnvIDs(key string, fallback []int64) []int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	out := []int64{}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
