package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the email tool service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Gate timeouts. Auth waits on an external OAuth round trip and is
	// therefore much longer than the in-page approval prompt.
	AuthWaitTimeout     time.Duration
	ApprovalWaitTimeout time.Duration

	// Overall deadline for a single task execution.
	TaskTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "inboxd"),
		AllowAnyOrigin:      false,
		ShutdownTimeout:     15 * time.Second,
		AuthWaitTimeout:     2 * time.Minute,
		ApprovalWaitTimeout: 60 * time.Second,
		TaskTimeout:         20 * time.Minute,
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AuthWaitTimeout, err = durationFromEnv("EMAIL_TOOL_AUTH_TIMEOUT", cfg.AuthWaitTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ApprovalWaitTimeout, err = durationFromEnv("EMAIL_TOOL_APPROVAL_TIMEOUT", cfg.ApprovalWaitTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskTimeout, err = durationFromEnv("EMAIL_TOOL_TASK_TIMEOUT", cfg.TaskTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.AuthWaitTimeout < time.Second {
		return Config{}, fmt.Errorf("EMAIL_TOOL_AUTH_TIMEOUT must be at least 1s")
	}
	if cfg.ApprovalWaitTimeout < time.Second {
		return Config{}, fmt.Errorf("EMAIL_TOOL_APPROVAL_TIMEOUT must be at least 1s")
	}
	if cfg.TaskTimeout < cfg.AuthWaitTimeout || cfg.TaskTimeout < cfg.ApprovalWaitTimeout {
		return Config{}, fmt.Errorf("EMAIL_TOOL_TASK_TIMEOUT must cover the gate timeouts")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
