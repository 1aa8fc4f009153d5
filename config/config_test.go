package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"DB_DSN", "KICK_API_BASE", "HTTP_ADDR", "VIEWER_POLL_INTERVAL", "RECONNECT_MAX_TRIES"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDsn == "" {
		t.Fatal("expected default DSN")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.ViewerPollInterval != time.Minute {
		t.Fatalf("ViewerPollInterval = %s", cfg.ViewerPollInterval)
	}
	if cfg.ReconnectMaxTries != 5 {
		t.Fatalf("ReconnectMaxTries = %d", cfg.ReconnectMaxTries)
	}
	if cfg.MaxSendDelay != 3*time.Second {
		t.Fatalf("MaxSendDelay = %s", cfg.MaxSendDelay)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://x:y@db:5432/z")
	t.Setenv("VIEWER_POLL_INTERVAL", "15s")
	t.Setenv("RECONNECT_MAX_TRIES", "9")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBDsn != "postgres://x:y@db:5432/z" {
		t.Fatalf("DBDsn = %q", cfg.DBDsn)
	}
	if cfg.ViewerPollInterval != 15*time.Second {
		t.Fatalf("ViewerPollInterval = %s", cfg.ViewerPollInterval)
	}
	if cfg.ReconnectMaxTries != 9 {
		t.Fatalf("ReconnectMaxTries = %d", cfg.ReconnectMaxTries)
	}
}

func TestLoadInvalidReconnectTries(t *testing.T) {
	t.Setenv("RECONNECT_MAX_TRIES", "zero")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid RECONNECT_MAX_TRIES")
	}
}

func TestValidators(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateGenerator(); err == nil {
		t.Fatal("expected generator validation error")
	}
	if err := cfg.ValidateTwitchApp(); err == nil {
		t.Fatal("expected twitch validation error")
	}
	cfg.GeneratorBaseURL = "http://localhost:9999"
	cfg.TwitchClientID, cfg.TwitchClientSecret = "id", "secret"
	if err := cfg.ValidateGenerator(); err != nil {
		t.Fatalf("generator: %v", err)
	}
	if err := cfg.ValidateTwitchApp(); err != nil {
		t.Fatalf("twitch: %v", err)
	}
}
