package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guestdesk/guestdesk/internal/guestdesk"
	"github.com/guestdesk/guestdesk/internal/httpapi"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := os.Getenv("GUESTDESK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, outbox, guard, err := buildBackendsFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize backends: %v", err)
	}

	catalog, err := guestdesk.NewCatalog(strings.TrimSpace(os.Getenv("GUESTDESK_CATALOG_FILE")), log.Default())
	if err != nil {
		log.Fatalf("failed to load message catalog: %v", err)
	}

	service, err := guestdesk.NewService(guestdesk.ServiceOptions{
		Store:    store,
		Outbox:   outbox,
		Guard:    guard,
		Catalog:  catalog,
		GuardTTL: durationEnv("GUESTDESK_GUARD_TTL", guestdesk.DefaultGuardTTL),
	})
	if err != nil {
		log.Fatalf("failed to build service: %v", err)
	}
	defer func() {
		if err := service.Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	server, err := httpapi.NewServer(service, httpapi.ServerConfig{
		AdminUser:      os.Getenv("GUESTDESK_ADMIN_USER"),
		AdminPassword:  os.Getenv("GUESTDESK_ADMIN_PASSWORD"),
		MaxBodyBytes:   int64Env("GUESTDESK_MAX_BODY_BYTES", 0),
		AllowedOrigins: splitEnvList("GUESTDESK_WS_ORIGINS"),
	})
	if err != nil {
		log.Fatalf("failed to build http server: %v", err)
	}

	httpServer := &http.Server{Addr: addr, Handler: server}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Printf("guestdesk listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return catalog.Watch(groupCtx)
	})

	if boolEnv("GUESTDESK_EMBEDDED_WORKER", true) {
		messenger, err := buildMessengerFromEnv()
		if err != nil {
			log.Fatalf("failed to build messenger: %v", err)
		}
		worker, err := guestdesk.NewWorker(outbox, messenger, guestdesk.WorkerOptions{
			PollInterval: durationEnv("GUESTDESK_POLL_INTERVAL", guestdesk.DefaultPollInterval),
			GracePeriod:  durationEnv("GUESTDESK_GRACE_PERIOD", guestdesk.DefaultGracePeriod),
			BatchSize:    intEnv("GUESTDESK_BATCH_SIZE", guestdesk.DefaultBatchSize),
			SendTimeout:  durationEnv("GUESTDESK_SEND_TIMEOUT", guestdesk.DefaultSendTimeout),
			Catalog:      catalog,
		})
		if err != nil {
			log.Fatalf("failed to build delivery worker: %v", err)
		}
		group.Go(func() error {
			if err := worker.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("guestdesk exited: %v", err)
	}
}

func buildBackendsFromEnv() (guestdesk.Store, guestdesk.Outbox, guestdesk.Guard, error) {
	storeDSN, outboxDSN, err := storageProfileFromEnv()
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := guestdesk.BuildStoreFromDSN(storeDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	outbox, err := guestdesk.BuildOutboxFromDSN(outboxDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	guardDSN := strings.TrimSpace(os.Getenv("GUESTDESK_REDIS_URL"))
	if guardDSN == "" {
		// Single-host default: suppress duplicates in-process.
		guardDSN = "memory://"
	}
	guard, err := guestdesk.BuildGuardFromDSN(guardDSN, log.Default())
	if err != nil {
		return nil, nil, nil, err
	}
	return store, outbox, guard, nil
}

func storageProfileFromEnv() (storeDSN, outboxDSN string, err error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("GUESTDESK_BACKEND_PROFILE")))
	switch profile {
	case "memory", "inmemory":
		return "memory://", "memory://", nil
	case "", "production", "prod":
		dsn := strings.TrimSpace(os.Getenv("GUESTDESK_POSTGRES_DSN"))
		if dsn == "" {
			if profile == "" {
				return "memory://", "memory://", nil
			}
			return "", "", fmt.Errorf("GUESTDESK_POSTGRES_DSN is required when GUESTDESK_BACKEND_PROFILE=%s", profile)
		}
		return dsn, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported GUESTDESK_BACKEND_PROFILE: %s", profile)
	}
}

func buildMessengerFromEnv() (guestdesk.Messenger, error) {
	token := strings.TrimSpace(os.Getenv("GUESTDESK_TELEGRAM_TOKEN"))
	if token == "" {
		log.Printf("GUESTDESK_TELEGRAM_TOKEN is not set, deliveries will only be logged")
		return logMessenger{}, nil
	}
	return guestdesk.NewTelegramMessenger(guestdesk.TelegramClientOptions{
		BaseURL: os.Getenv("GUESTDESK_TELEGRAM_API_URL"),
		Token:   token,
		SelfID:  int64Env("GUESTDESK_TELEGRAM_BOT_ID", 0),
	})
}

// logMessenger stands in when no chat credentials are configured.
type logMessenger struct{}

func (logMessenger) SendMessage(ctx context.Context, guestID int64, text string, buttons []guestdesk.Button) error {
	log.Printf("would deliver to guest %d (%d buttons): %s", guestID, len(buttons), text)
	return nil
}

func splitEnvList(name string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	values := []string{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
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

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
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
