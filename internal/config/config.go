package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the coaching service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LLMAdapterMode  string
	LLMHTTPURL      string
	LLMAPIKey       string
	LLMPrimaryModel string
	LLMFastModel    string

	ASRAdapterMode string
	ASRHTTPURL     string
	ASRAPIKey      string

	DatabaseURL string

	// ProjectProfilePath points to an optional YAML file describing the
	// dev project context (job description, résumé, seed questions).
	ProjectProfilePath string

	ContextTokenBudget int
	SummaryAfterTurns  int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "coachd"),
		AllowAnyOrigin:           false,
		LLMAdapterMode:           envOrDefault("LLM_ADAPTER_MODE", "auto"),
		LLMHTTPURL:               trimmedEnv("LLM_HTTP_URL"),
		LLMAPIKey:                trimmedEnv("LLM_API_KEY"),
		LLMPrimaryModel:          envOrDefault("LLM_PRIMARY_MODEL", "qwen-max"),
		LLMFastModel:             envOrDefault("LLM_FAST_MODEL", "qwen-turbo"),
		ASRAdapterMode:           envOrDefault("ASR_ADAPTER_MODE", "auto"),
		ASRHTTPURL:               trimmedEnv("ASR_HTTP_URL"),
		ASRAPIKey:                trimmedEnv("ASR_API_KEY"),
		DatabaseURL:              trimmedEnv("DATABASE_URL"),
		ProjectProfilePath:       trimmedEnv("APP_PROJECT_PROFILE"),
		ContextTokenBudget:       16000,
		SummaryAfterTurns:        10,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextTokenBudget, err = intFromEnv("CONTEXT_TOKEN_BUDGET", cfg.ContextTokenBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.SummaryAfterTurns, err = intFromEnv("CONTEXT_SUMMARY_AFTER_TURNS", cfg.SummaryAfterTurns)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ContextTokenBudget < 2000 {
		return Config{}, fmt.Errorf("CONTEXT_TOKEN_BUDGET must be at least 2000")
	}
	if cfg.SummaryAfterTurns <= 0 {
		return Config{}, fmt.Errorf("CONTEXT_SUMMARY_AFTER_TURNS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: unrecognized boolean %q", key, v)
	}
}
