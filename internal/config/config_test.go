package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BOT_TOKEN", "tok")
	t.Setenv("UPI_ID", "shop@upi")
	t.Setenv("GEMINI_API_KEY", "key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionBackend != BackendMemory {
		t.Errorf("expected memory backend default, got %s", cfg.SessionBackend)
	}
	if cfg.LedgerPath != "orderbot.db" {
		t.Errorf("unexpected ledger path default: %s", cfg.LedgerPath)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("unexpected TTL default: %s", cfg.SessionTTL)
	}
	if cfg.ImageModel == "" {
		t.Error("expected a default image model")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("BOT_TOKEN", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "BOT_TOKEN") {
		t.Fatalf("expected BOT_TOKEN error, got %v", err)
	}
}

func TestLoadDynamoBackendNeedsTable(t *testing.T) {
	setRequired(t)
	t.Setenv("ORDERBOT_SESSION_BACKEND", "dynamo")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ORDERBOT_DYNAMO_TABLE") {
		t.Fatalf("expected table error, got %v", err)
	}

	t.Setenv("ORDERBOT_DYNAMO_TABLE", "sessions")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionBackend != BackendDynamo {
		t.Errorf("expected dynamo backend, got %s", cfg.SessionBackend)
	}
}

func TestLoadBadTTL(t *testing.T) {
	setRequired(t)
	t.Setenv("ORDERBOT_SESSION_TTL", "not-a-duration")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ORDERBOT_SESSION_TTL") {
		t.Fatalf("expected TTL error, got %v", err)
	}
}

func TestLoadCustomTTL(t *testing.T) {
	setRequired(t)
	t.Setenv("ORDERBOT_SESSION_TTL", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("expected 2h TTL, got %s", cfg.SessionTTL)
	}
}

func TestLoadUnknownBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("ORDERBOT_SESSION_BACKEND", "redis")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "unknown session backend") {
		t.Fatalf("expected backend error, got %v", err)
	}
}
