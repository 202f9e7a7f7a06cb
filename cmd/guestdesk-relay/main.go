package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/guestdesk/guestdesk/internal/guestdesk"
)

// guestdesk-relay drains the notification outbox as a standalone
// process. The transactional claim makes it safe to run next to the
// server's embedded worker, or in several copies.
func main() {
	outboxDSN := flag.String("outbox-dsn", envOrDefault("GUESTDESK_POSTGRES_DSN", ""), "outbox DSN (postgres:// or memory://)")
	token := flag.String("telegram-token", strings.TrimSpace(os.Getenv("GUESTDESK_TELEGRAM_TOKEN")), "Telegram bot token")
	apiURL := flag.String("telegram-api-url", strings.TrimSpace(os.Getenv("GUESTDESK_TELEGRAM_API_URL")), "Telegram API base URL override")
	catalogFile := flag.String("catalog", strings.TrimSpace(os.Getenv("GUESTDESK_CATALOG_FILE")), "message catalog override file")
	interval := flag.Duration("interval", durationEnv("GUESTDESK_POLL_INTERVAL", guestdesk.DefaultPollInterval), "poll interval")
	grace := flag.Duration("grace", durationEnv("GUESTDESK_GRACE_PERIOD", guestdesk.DefaultGracePeriod), "delivery grace period")
	batch := flag.Int("batch", intEnv("GUESTDESK_BATCH_SIZE", guestdesk.DefaultBatchSize), "claim batch size")
	once := flag.Bool("once", false, "run one delivery cycle and exit")
	flag.Parse()

	if strings.TrimSpace(*outboxDSN) == "" {
		log.Fatalf("outbox DSN is required (--outbox-dsn or GUESTDESK_POSTGRES_DSN)")
	}
	if strings.TrimSpace(*token) == "" {
		log.Fatalf("telegram token is required (--telegram-token or GUESTDESK_TELEGRAM_TOKEN)")
	}

	outbox, err := guestdesk.BuildOutboxFromDSN(*outboxDSN)
	if err != nil {
		log.Fatalf("failed to initialize outbox: %v", err)
	}
	defer func() {
		if err := outbox.Close(); err != nil {
			log.Printf("close outbox: %v", err)
		}
	}()

	messenger, err := guestdesk.NewTelegramMessenger(guestdesk.TelegramClientOptions{
		BaseURL: *apiURL,
		Token:   *token,
	})
	if err != nil {
		log.Fatalf("failed to build telegram client: %v", err)
	}

	catalog, err := guestdesk.NewCatalog(*catalogFile, log.Default())
	if err != nil {
		log.Fatalf("failed to load message catalog: %v", err)
	}

	worker, err := guestdesk.NewWorker(outbox, messenger, guestdesk.WorkerOptions{
		PollInterval: *interval,
		GracePeriod:  *grace,
		BatchSize:    *batch,
		Catalog:      catalog,
	})
	if err != nil {
		log.Fatalf("failed to build delivery worker: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := worker.RunCycle(ctx); err != nil {
			log.Fatalf("delivery cycle failed: %v", err)
		}
		return
	}
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("delivery relay exited: %v", err)
	}
	log.Printf("delivery relay stopped")
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}
