package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.LLMAdapterMode != "auto" || cfg.ASRAdapterMode != "auto" {
		t.Fatalf("adapter modes = %q/%q, want auto", cfg.LLMAdapterMode, cfg.ASRAdapterMode)
	}
	if cfg.LLMHTTPURL != "" {
		t.Fatalf("LLMHTTPURL = %q, want empty default", cfg.LLMHTTPURL)
	}
	if cfg.ContextTokenBudget != 16000 || cfg.SummaryAfterTurns != 10 {
		t.Fatalf("budget defaults = %d/%d", cfg.ContextTokenBudget, cfg.SummaryAfterTurns)
	}
	if cfg.SessionInactivityTimeout != 30*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want 30m", cfg.SessionInactivityTimeout)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("LLM_HTTP_URL", "http://localhost:7777/v1")
	t.Setenv("APP_SESSION_INACTIVITY_TIMEOUT", "10m")
	t.Setenv("CONTEXT_TOKEN_BUDGET", "8000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLMHTTPURL != "http://localhost:7777/v1" {
		t.Fatalf("LLMHTTPURL = %q", cfg.LLMHTTPURL)
	}
	if cfg.SessionInactivityTimeout != 10*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v", cfg.SessionInactivityTimeout)
	}
	if cfg.ContextTokenBudget != 8000 {
		t.Fatalf("ContextTokenBudget = %d", cfg.ContextTokenBudget)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SESSION_INACTIVITY_TIMEOUT", "1s")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject a sub-5s inactivity timeout")
	}

	setCoreEnvEmpty(t)
	t.Setenv("CONTEXT_TOKEN_BUDGET", "100")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject a tiny token budget")
	}

	setCoreEnvEmpty(t)
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "maybe")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject unrecognized booleans")
	}
}

func TestLoadProjectProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	data := `project_id: p-backend
jd_text: 负责支付系统的后端开发
resume_text: 五年Go开发经验
practice_questions:
  - 请做一个简短的自我介绍
  - 请介绍一个你主导过的项目
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	p, err := LoadProjectProfile(path)
	if err != nil {
		t.Fatalf("LoadProjectProfile() error = %v", err)
	}
	if p.ProjectID != "p-backend" || len(p.PracticeQuestions) != 2 {
		t.Fatalf("profile = %+v", p)
	}
}

func TestLoadProjectProfileEmptyPath(t *testing.T) {
	p, err := LoadProjectProfile("")
	if err != nil {
		t.Fatalf("LoadProjectProfile(\"\") error = %v", err)
	}
	if p.ProjectID != "" {
		t.Fatalf("empty path must yield zero profile, got %+v", p)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_PROJECT_PROFILE",
		"LLM_ADAPTER_MODE",
		"LLM_HTTP_URL",
		"LLM_API_KEY",
		"LLM_PRIMARY_MODEL",
		"LLM_FAST_MODEL",
		"ASR_ADAPTER_MODE",
		"ASR_HTTP_URL",
		"ASR_API_KEY",
		"DATABASE_URL",
		"CONTEXT_TOKEN_BUDGET",
		"CONTEXT_SUMMARY_AFTER_TURNS",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
