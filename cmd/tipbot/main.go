package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/susu3304/tipbot/internal/api"
	"github.com/susu3304/tipbot/internal/bot"
	"github.com/susu3304/tipbot/internal/commands"
	"github.com/susu3304/tipbot/internal/config"
	"github.com/susu3304/tipbot/internal/db"
	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/logging"
	"github.com/susu3304/tipbot/internal/notify"
	"github.com/susu3304/tipbot/internal/reactdrop"
	"github.com/susu3304/tipbot/internal/wallet"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("tipbot stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	database, err := db.New(ctx, cfg.DatabaseURL, db.PoolConfig{MaxConns: cfg.PoolMaxConns})
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.RunMigrations(ctx); err != nil {
		return err
	}

	discordBot, err := bot.New(cfg.DiscordToken, cfg.DiscordGuildID, logger)
	if err != nil {
		return err
	}
	platform := discordBot.Platform()

	engine := ledger.NewEngine(database, cfg.MinTip, ledger.WithLogger(logger.Named("ledger")))
	dispatcher := notify.NewDispatcher(database, platform, cfg.Ticker, notify.WithLogger(logger.Named("notify")))

	schedOpts := []reactdrop.Option{
		reactdrop.WithNotifier(dispatcher),
		reactdrop.WithAnnouncer(platform),
		reactdrop.WithLogger(logger.Named("scheduler")),
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		schedOpts = append(schedOpts, reactdrop.WithLocker(reactdrop.NewRedisLocker(rdb, 2*cfg.StuckAfter, logger.Named("lock"))))
	}
	scheduler := reactdrop.New(database, engine, platform, reactdrop.Config{
		Interval:   cfg.SweepInterval,
		Batch:      cfg.SweepBatch,
		StuckAfter: cfg.StuckAfter,
		MinTip:     cfg.MinTip,
		Ticker:     cfg.Ticker,
	}, schedOpts...)

	chain, err := wallet.New(wallet.Config{
		URL:      cfg.WalletRPCURL,
		User:     cfg.WalletRPCUser,
		Password: cfg.WalletRPCPassword,
	}, logger.Named("wallet"))
	if err != nil {
		return err
	}
	defer chain.Close()

	handler := commands.NewHandler(commands.Deps{
		Accounts:   database,
		Engine:     engine,
		Reactdrops: scheduler,
		Notifier:   dispatcher,
		Platform:   platform,
		Chain:      chain,
		Logger:     logger.Named("commands"),
		Ticker:     cfg.Ticker,
	})

	apiServer := api.New(cfg, database, logger)

	if err := discordBot.Start(handler); err != nil {
		return err
	}
	scheduler.Start()

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("API server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	scheduler.Stop()
	if err := discordBot.Stop(); err != nil {
		logger.Warn("close discord session", zap.Error(err))
	}
	dispatcher.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown API server", zap.Error(err))
	}
	return nil
}
