package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.BaseDir != "." {
		t.Errorf("BaseDir = %q, want \".\"", cfg.BaseDir)
	}
	if cfg.NodeTimeout != 300*time.Second {
		t.Errorf("NodeTimeout = %v, want 300s", cfg.NodeTimeout)
	}
	if cfg.ExecutionTimeout != time.Hour {
		t.Errorf("ExecutionTimeout = %v, want 1h", cfg.ExecutionTimeout)
	}
	if cfg.ConversationContextLimit != 20 {
		t.Errorf("ConversationContextLimit = %d, want 20", cfg.ConversationContextLimit)
	}
	if !cfg.AutoPrependConversation {
		t.Error("AutoPrependConversation should default to true")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DIPEO_BASE_DIR", "/tmp/dipeo")
	t.Setenv("DIPEO_DEFAULT_LLM_MODEL", "gpt-5")
	t.Setenv("DIPEO_NODE_TIMEOUT", "45s")
	t.Setenv("DIPEO_LLM_MAX_RETRIES", "5")
	t.Setenv("DIPEO_ALLOWED_FILE_EXTENSIONS", "json, txt,md")
	t.Setenv("DIPEO_AUTO_PREPEND_CONVERSATION", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BaseDir != "/tmp/dipeo" {
		t.Errorf("BaseDir = %q, want /tmp/dipeo", cfg.BaseDir)
	}
	if cfg.DefaultLLMModel != "gpt-5" {
		t.Errorf("DefaultLLMModel = %q, want gpt-5", cfg.DefaultLLMModel)
	}
	if cfg.NodeTimeout != 45*time.Second {
		t.Errorf("NodeTimeout = %v, want 45s", cfg.NodeTimeout)
	}
	if cfg.LLMMaxRetries != 5 {
		t.Errorf("LLMMaxRetries = %d, want 5", cfg.LLMMaxRetries)
	}
	want := []string{"json", "txt", "md"}
	if len(cfg.AllowedFileExtensions) != len(want) {
		t.Fatalf("AllowedFileExtensions = %v, want %v", cfg.AllowedFileExtensions, want)
	}
	for i, ext := range want {
		if cfg.AllowedFileExtensions[i] != ext {
			t.Errorf("AllowedFileExtensions[%d] = %q, want %q", i, cfg.AllowedFileExtensions[i], ext)
		}
	}
	if cfg.AutoPrependConversation {
		t.Error("AutoPrependConversation should be false from DIPEO_AUTO_PREPEND_CONVERSATION=false")
	}
}

func TestLoad_OptionsOverrideEnvironment(t *testing.T) {
	t.Setenv("DIPEO_BASE_DIR", "/tmp/dipeo")

	cfg, err := Load(WithBaseDir("/srv/dipeo"), WithDefaultLLMModel("claude-haiku"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BaseDir != "/srv/dipeo" {
		t.Errorf("BaseDir = %q, want /srv/dipeo (option should win over env)", cfg.BaseDir)
	}
	if cfg.DefaultLLMModel != "claude-haiku" {
		t.Errorf("DefaultLLMModel = %q, want claude-haiku", cfg.DefaultLLMModel)
	}
}

func TestLoad_InvalidDurationErrors(t *testing.T) {
	t.Setenv("DIPEO_NODE_TIMEOUT", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load to fail on an invalid DIPEO_NODE_TIMEOUT value")
	}
}

func TestSplitNonEmpty(t *testing.T) {
	got := splitNonEmpty(" a, ,b ,, c", ",")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitNonEmpty = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitNonEmpty[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

