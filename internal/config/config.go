// Package config loads the bot's runtime configuration from the
// environment at startup. Missing required values fail the boot; the
// optional ones carry documented defaults so a bare deployment only
// needs the four secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/procoder700/telegrambot/internal/generate"
	"github.com/procoder700/telegrambot/internal/store"
)

// Session backends selectable via ORDERBOT_SESSION_BACKEND.
const (
	BackendMemory = "memory"
	BackendDynamo = "dynamo"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// BotToken is the Telegram Bot API token.
	BotToken string
	// ChannelID is the broadcast channel for the startup announcement
	// ("@channelname" or a numeric chat id). Optional; empty disables
	// the announcement.
	ChannelID string
	// UPIID is the payment address shown in payment instructions.
	UPIID string
	// GeminiAPIKey authenticates the image generation backend.
	GeminiAPIKey string

	// ImageModel is the Gemini model used for generation.
	ImageModel string
	// LedgerPath is the BoltDB file holding transaction records.
	LedgerPath string
	// SessionBackend is "memory" or "dynamo".
	SessionBackend string
	// DynamoTable is the session table name, required for the dynamo
	// backend.
	DynamoTable string
	// SessionTTL is the idle lifetime of an abandoned session.
	SessionTTL time.Duration
	// PricesJSON, when set, replaces the built-in price table.
	PricesJSON string
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		BotToken:       os.Getenv("BOT_TOKEN"),
		ChannelID:      os.Getenv("CHANNEL_ID"),
		UPIID:          os.Getenv("UPI_ID"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		ImageModel:     os.Getenv("GEMINI_IMAGE_MODEL"),
		LedgerPath:     os.Getenv("ORDERBOT_LEDGER_PATH"),
		SessionBackend: os.Getenv("ORDERBOT_SESSION_BACKEND"),
		DynamoTable:    os.Getenv("ORDERBOT_DYNAMO_TABLE"),
		PricesJSON:     os.Getenv("ORDERBOT_PRICES"),
		SessionTTL:     store.SessionTTL,
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN environment variable not set")
	}
	if cfg.UPIID == "" {
		return nil, fmt.Errorf("UPI_ID environment variable not set")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	if cfg.ImageModel == "" {
		cfg.ImageModel = generate.DefaultImageModel
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "orderbot.db"
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = BackendMemory
	}
	switch cfg.SessionBackend {
	case BackendMemory:
	case BackendDynamo:
		if cfg.DynamoTable == "" {
			return nil, fmt.Errorf("ORDERBOT_DYNAMO_TABLE required for the dynamo session backend")
		}
	default:
		return nil, fmt.Errorf("unknown session backend %q (want %s or %s)",
			cfg.SessionBackend, BackendMemory, BackendDynamo)
	}

	if raw := os.Getenv("ORDERBOT_SESSION_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse ORDERBOT_SESSION_TTL: %w", err)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("ORDERBOT_SESSION_TTL must be positive, got %s", ttl)
		}
		cfg.SessionTTL = ttl
	}

	return cfg, nil
}
