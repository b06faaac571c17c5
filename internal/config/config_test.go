package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STREAM_API_KEY", "STREAM_API_SECRET", "CALL_ID", "NEXT_PUBLIC_CALL_ID", "BOT_TRIGGER_DELAY", "CONFIG_ENV"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Server.Addr)
	}
	if cfg.Meeting.BotTriggerDelay != 3*time.Second {
		t.Fatalf("expected 3s bot delay, got %s", cfg.Meeting.BotTriggerDelay)
	}
	if cfg.Meeting.BotUserID != "meeting-assistant-bot" {
		t.Fatalf("unexpected bot user id %s", cfg.Meeting.BotUserID)
	}
	if cfg.Meeting.CallType != "default" || cfg.Meeting.ChatChannelType != "messaging" {
		t.Fatalf("unexpected call/channel types %s/%s", cfg.Meeting.CallType, cfg.Meeting.ChatChannelType)
	}
	if cfg.Platform.Enabled() {
		t.Fatal("platform should not be enabled without credentials")
	}
}

func TestLoadLegacyEnvNames(t *testing.T) {
	t.Setenv("CONFIG_ENV", "")
	t.Setenv("CALL_ID", "")
	t.Setenv("NEXT_PUBLIC_CALL_ID", "weekly-sync")
	t.Setenv("AGENT_BACKEND_URL", "")
	t.Setenv("NEXT_PUBLIC_PYTHON_BACKEND", "http://agent.local:8000/")
	t.Setenv("STREAM_API_KEY", "key")
	t.Setenv("PUBLIC_STREAM_API_KEY", "")
	t.Setenv("NEXT_PUBLIC_STREAM_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Meeting.DefaultRoomID != "weekly-sync" {
		t.Fatalf("expected default room from legacy env, got %q", cfg.Meeting.DefaultRoomID)
	}
	if cfg.Meeting.AgentBackendURL != "http://agent.local:8000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Meeting.AgentBackendURL)
	}
	if cfg.Platform.ClientAPIKey() != "key" {
		t.Fatalf("expected client key to fall back to server key, got %q", cfg.Platform.ClientAPIKey())
	}
}

func TestLoadServerConfig(t *testing.T) {
	cases := map[string]string{
		"9000":           ":9000",
		":7000":          ":7000",
		"127.0.0.1:6000": "127.0.0.1:6000",
	}
	for in, want := range cases {
		got, err := loadServerConfig(in)
		if err != nil {
			t.Fatalf("loadServerConfig(%q) err: %v", in, err)
		}
		if got.Addr != want {
			t.Fatalf("loadServerConfig(%q) = %q, want %q", in, got.Addr, want)
		}
	}

	if _, err := loadServerConfig("80 80"); err == nil {
		t.Fatal("expected error for port with spaces")
	}
}

func TestLoadRejectsBadDelay(t *testing.T) {
	t.Setenv("CONFIG_ENV", "")
	t.Setenv("BOT_TRIGGER_DELAY", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable delay")
	}
}
