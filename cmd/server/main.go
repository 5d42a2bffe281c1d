package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradegate/internal/config"
	"tradegate/internal/domain"
	"tradegate/internal/events"
	apphttp "tradegate/internal/http"
	"tradegate/internal/integrations/audit"
	"tradegate/internal/integrations/broker"
	"tradegate/internal/integrations/telegram"
	"tradegate/internal/security/secretbox"
	"tradegate/internal/service/executor"
	"tradegate/internal/service/intake"
	"tradegate/internal/service/ledger"
	"tradegate/internal/service/modes"
	"tradegate/internal/service/retention"
	"tradegate/internal/service/symlock"
	storepkg "tradegate/internal/store"
	"tradegate/internal/store/memory"
	"tradegate/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	defaults := domain.ExecutionSettings{
		Mode:         domain.ExecutionMode(cfg.InitialMode),
		DelaySeconds: cfg.DefaultDelaySeconds,
		BrokerURL:    cfg.BrokerURL,
		BrokerToken:  cfg.BrokerToken,
	}
	if !defaults.Mode.Valid() {
		log.Printf("unknown initial mode %q, starting in safe mode", cfg.InitialMode)
		defaults.Mode = domain.ModeSafe
	}

	var box *secretbox.Box
	if cfg.SettingsEncryptionKey != "" {
		b, err := secretbox.New(cfg.SettingsEncryptionKey)
		if err != nil {
			log.Fatalf("settings encryption: %v", err)
		}
		box = b
	}

	var st storepkg.Store
	if cfg.StoreMode == "postgres" && cfg.DatabaseURL != "" {
		pgStore, err := postgres.NewStore(cfg.DatabaseURL, defaults, box)
		if err != nil {
			log.Printf("postgres store unavailable, falling back to memory store: %v", err)
			st = memory.NewStore(defaults)
		} else {
			st = pgStore
		}
	} else {
		st = memory.NewStore(defaults)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Printf("unknown timezone %q, using UTC", cfg.Timezone)
		loc = time.UTC
	}

	hub := events.NewHub()
	bus := events.NewBus(st, hub, audit.NewClient(
		cfg.AuditWebhookURL,
		cfg.AuditTimeout,
		cfg.AuditMaxRetries,
		cfg.AuditRetryBase,
		cfg.AuditRetryMax,
	))
	notifier := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)

	sched := executor.NewScheduler(st, ledger.NewBook(st), broker.NewClient(cfg.BrokerTimeout), bus, notifier, executor.Config{
		ActiveInterval: cfg.ActiveTickInterval,
		IdleInterval:   cfg.IdleTickInterval,
		BatchLimit:     cfg.ExecutorBatchLimit,
	})
	intakeSvc := intake.NewService(st, symlock.NewRegistry(), sched, bus, notifier, cfg.LockTTL, cfg.IntentTTL)
	modeSched := modes.NewScheduler(st, bus, loc, cfg.ModeCheckInterval, sched.Wake)
	sweeper := retention.NewSweeper(st, bus, loc, cfg.RetentionMaxAge, cfg.RetentionInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)
	go sched.Run(ctx)
	go modeSched.Run(ctx)
	go sweeper.Run(ctx)

	srv := apphttp.NewServer(cfg, st, intakeSvc, sched, bus, hub)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("tradegate API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
