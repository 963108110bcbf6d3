package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/suspectuso/cloud-miner/internal/config"
	"github.com/suspectuso/cloud-miner/internal/cryptopay"
	"github.com/suspectuso/cloud-miner/internal/ledger"
	"github.com/suspectuso/cloud-miner/internal/notifier"
	"github.com/suspectuso/cloud-miner/internal/scheduler"
	"github.com/suspectuso/cloud-miner/internal/server"
	"github.com/suspectuso/cloud-miner/internal/storage"
	"github.com/suspectuso/cloud-miner/internal/telegram"
)

func main() {
	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	if cfg.BotToken == "" {
		log.Error("BOT_TOKEN is required")
		os.Exit(1)
	}
	if cfg.CryptoPayToken == "" {
		log.Warn("CRYPTOBOT_TOKEN is not set, invoice creation will fail")
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Initialize payment client
	payments := cryptopay.NewClient(cfg.CryptoPayBaseURL, cfg.CryptoPayToken)
	log.Info("crypto pay client initialized", "base_url", cfg.CryptoPayBaseURL)

	// Ledger services
	settings := ledger.NewSettings(store, cfg.DefaultRate, log)
	engine := ledger.NewEngine(store, settings, cfg.AccrualInterval, cfg.ReferralShare, log)
	services := telegram.Services{
		Directory:   ledger.NewDirectory(store, cfg.AdminUsernames, log),
		Settings:    settings,
		Withdrawals: ledger.NewWithdrawals(store, log),
		Purchases: ledger.NewPurchases(store, payments, ledger.Pack{
			Asset:    cfg.PaymentAsset,
			Price:    cfg.HashratePackPrice,
			Hashrate: cfg.HashratePackGH,
		}, log),
		Engine: engine,
	}

	router := telegram.NewRouter(services, telegram.Options{
		BotUsername:  cfg.BotUsername,
		PendingLimit: cfg.PendingListLimit,
		TopLimit:     cfg.TopListLimit,
	}, log)

	// Initialize telegram bot
	bot, err := telegram.New(cfg.BotToken, router, log)
	if err != nil {
		log.Error("init telegram bot", "error", err)
		os.Exit(1)
	}
	log.Info("telegram bot initialized")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize notifier
	notify := notifier.New(bot, log)
	bot.UseNotifier(notify)
	go notify.Start(ctx)

	// Start ops server
	opsServer := server.New(store, log)
	go func() {
		if err := opsServer.Start(ctx, cfg.HTTPPort); err != nil {
			log.Error("ops server", "error", err)
		}
	}()

	// Start accrual scheduler
	sched := scheduler.New(engine, cfg.AccrualSchedule, cfg.AccrualStartupDelay, log)
	if err := sched.Start(ctx); err != nil {
		log.Error("start scheduler", "error", err, "schedule", cfg.AccrualSchedule)
		os.Exit(1)
	}
	defer func() {
		cancel()
		sched.Stop()
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start bot polling
	log.Info("starting bot polling...")
	bot.Start(ctx)
}
