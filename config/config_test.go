package config

import (
	"testing"
	"time"

	"github.com/onnwee/chatqueue/backend/command"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"POLL_INTERVAL", "REPLY_RETRY_DELAY", "LIVE_AI_PROBABILITY_THRESHOLD", "HISTORY_LIMIT", "APPROVAL_REQUIRED_COMMANDS", "STORE_BACKEND", "OPENAI_MODEL"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 20*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.ReplyRetryDelay != time.Second || cfg.ReplyTimeout != 30*time.Second {
		t.Errorf("reply timings = %v %v", cfg.ReplyRetryDelay, cfg.ReplyTimeout)
	}
	if cfg.LiveAIThreshold != 31 || cfg.HistoryLimit != 20 || cfg.ReplyMaxAIAttempts != 3 {
		t.Errorf("router knobs = %d %d %d", cfg.LiveAIThreshold, cfg.HistoryLimit, cfg.ReplyMaxAIAttempts)
	}
	if len(cfg.ApprovalRequired) != 0 {
		t.Errorf("ApprovalRequired = %v, want none", cfg.ApprovalRequired)
	}
	if cfg.StoreBackend != "postgres" || cfg.OpenAIModel != "gpt-4o" {
		t.Errorf("backend/model = %q %q", cfg.StoreBackend, cfg.OpenAIModel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("LIVE_AI_PROBABILITY_THRESHOLD", "71")
	t.Setenv("APPROVAL_REQUIRED_COMMANDS", "PROMPT, !play")
	t.Setenv("CHAT_KEEP_UNKNOWN", "1")
	t.Setenv("STORE_BACKEND", "Memory")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 5*time.Second || cfg.LiveAIThreshold != 71 || !cfg.ChatKeepUnknown {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
	set := cfg.ApprovalSet()
	if !set[command.StoreChatMessage] || !set[command.SetSong] || set[command.SetTheme] {
		t.Errorf("ApprovalSet = %v", set)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"POLL_INTERVAL", "soon"},
		{"HISTORY_LIMIT", "twenty"},
		{"LIVE_AI_PROBABILITY_THRESHOLD", "101"},
		{"APPROVAL_REQUIRED_COMMANDS", "DANCE"},
		{"STORE_BACKEND", "sqlite"},
		{"OPENAI_BASE_URL", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestValidateChatReady(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "chan")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_OAUTH_TOKEN", "oauth:token")
	t.Setenv("TWITCH_CLIENT_ID", "")
	cfg, _ := Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("expected valid chat config, got %v", err)
	}

	t.Setenv("TWITCH_OAUTH_TOKEN", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Error("expected error without any token source")
	}

	t.Setenv("TWITCH_CLIENT_ID", "cid")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err != nil {
		t.Errorf("stored token path should be accepted, got %v", err)
	}

	t.Setenv("TWITCH_CHANNEL", "")
	cfg, _ = Load()
	if err := cfg.ValidateChatReady(); err == nil {
		t.Error("expected error when missing channel")
	}
}
