// Command orderbot runs the Telegram order-taking bot: it long-polls
// the Bot API, drives each user's order through the session state
// machine, generates previews and finals with Gemini, and records
// every payment submission in the transaction ledger.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/procoder700/telegrambot/internal/catalog"
	"github.com/procoder700/telegrambot/internal/config"
	"github.com/procoder700/telegrambot/internal/dispatch"
	"github.com/procoder700/telegrambot/internal/generate"
	"github.com/procoder700/telegrambot/internal/ledger"
	"github.com/procoder700/telegrambot/internal/logging"
	"github.com/procoder700/telegrambot/internal/order"
	"github.com/procoder700/telegrambot/internal/store"
	"github.com/procoder700/telegrambot/internal/telegram"
)

// sweepInterval is how often the in-memory session sweeper runs.
const sweepInterval = 10 * time.Minute

var rootCmd = &cobra.Command{
	Use:   "orderbot",
	Short: "Telegram bot for AI artwork orders",
	Long: `Orderbot runs a Telegram bot that walks users through ordering
AI-generated artwork: pick a category and style, describe the piece,
review a watermarked preview, pay via UPI, and receive the final image.

Configuration is environment-only; see internal/config for the full
variable list. Required: BOT_TOKEN, UPI_ID, GEMINI_API_KEY.`,
	Run: runMain,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain wires the components and runs the polling loop until SIGINT
// or SIGTERM.
func runMain(cmd *cobra.Command, args []string) {
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat := catalog.Default()
	if cfg.PricesJSON != "" {
		cat, err = catalog.FromJSON([]byte(cfg.PricesJSON))
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid ORDERBOT_PRICES")
		}
		log.Info().Msg("Price table loaded from ORDERBOT_PRICES")
	}

	led, err := ledger.OpenBolt(cfg.LedgerPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.LedgerPath).Msg("Failed to open ledger")
	}
	defer led.Close()

	sessions := buildSessionStore(ctx, cfg)

	genClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	generator := generate.NewGemini(genClient, cfg.ImageModel, "")

	machine := order.NewMachine(cat, sessions, led, generator, nil)

	bot := telegram.NewClient(cfg.BotToken)
	dispatcher := dispatch.NewDispatcher(machine, cat, bot, cfg.UPIID)

	if cfg.ChannelID != "" {
		if err := bot.AnnounceChannel(ctx, cfg.ChannelID,
			"The order bot is online! Message me to order custom AI artwork."); err != nil {
			log.Warn().Err(err).Msg("Channel announcement failed")
		}
	}

	log.Info().
		Str("backend", cfg.SessionBackend).
		Str("ledgerPath", cfg.LedgerPath).
		Str("model", cfg.ImageModel).
		Msg("Order bot starting")

	poll(ctx, bot, dispatcher)
	log.Info().Msg("Order bot stopped")
}

// buildSessionStore picks the session backend from configuration.
func buildSessionStore(ctx context.Context, cfg *config.Config) store.SessionStore {
	switch cfg.SessionBackend {
	case config.BackendDynamo:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load AWS config")
		}
		log.Info().Str("table", cfg.DynamoTable).Msg("Using DynamoDB session store")
		return store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable, cfg.SessionTTL)
	default:
		mem := store.NewMemoryStore(cfg.SessionTTL)
		mem.StartSweeper(ctx, sweepInterval)
		return mem
	}
}

// poll runs the long-poll loop. Each update is handled on its own
// goroutine so a slow generation for one user never stalls another
// user's menu taps; per-user ordering is enforced by the session
// store's mutation lock.
func poll(ctx context.Context, bot *telegram.Client, dispatcher *dispatch.Dispatcher) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := bot.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Poll failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			ev, ok := telegram.Translate(u)
			if !ok {
				continue
			}
			go func(ev dispatch.Event) {
				if err := dispatcher.Handle(ctx, ev); err != nil {
					log.Error().Err(err).Str("userId", ev.UserID).Msg("Failed to deliver reply")
				}
			}(ev)
		}
	}
}
