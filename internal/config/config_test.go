package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.RelayWSURL != "ws://localhost:8080/ws" {
		t.Errorf("RelayWSURL = %q, want default", cfg.RelayWSURL)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.TypingExpiry != 3*time.Second {
		t.Errorf("TypingExpiry = %v, want 3s", cfg.TypingExpiry)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Errorf("ReconnectDelay = %v, want 3s", cfg.ReconnectDelay)
	}
	if cfg.HighlightFor != 2*time.Second {
		t.Errorf("HighlightFor = %v, want 2s", cfg.HighlightFor)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CHAT_RELAY_WS_URL", "wss://chat.example.com/ws")
	t.Setenv("CHAT_TOKEN", "abc123")
	t.Setenv("CHAT_TYPING_EXPIRY_SECONDS", "5")

	cfg := Load()

	if cfg.RelayWSURL != "wss://chat.example.com/ws" {
		t.Errorf("RelayWSURL = %q, want override", cfg.RelayWSURL)
	}
	if cfg.Token != "abc123" {
		t.Errorf("Token = %q, want abc123", cfg.Token)
	}
	if cfg.TypingExpiry != 5*time.Second {
		t.Errorf("TypingExpiry = %v, want 5s", cfg.TypingExpiry)
	}
}

func TestGetEnvDurationInvalid(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "not a number", value: "soon"},
		{name: "negative", value: "-2"},
		{name: "zero", value: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHAT_TEST_DURATION", tt.value)
			if got := getEnvDuration("CHAT_TEST_DURATION", 7*time.Second); got != 7*time.Second {
				t.Errorf("getEnvDuration(%q) = %v, want default 7s", tt.value, got)
			}
		})
	}
}
