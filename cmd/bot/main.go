// Package main contains the entrypoint for the expense connector process.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spendlog/connector/internal/bot"
	"github.com/spendlog/connector/internal/config"
	"github.com/spendlog/connector/internal/database"
	"github.com/spendlog/connector/internal/logger"
	"github.com/spendlog/connector/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components (config, logger, db, telegram client, loops,
// scheduler), blocks until shutdown, and returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	tg, err := telegram.NewClient(cfg.Telegram.Token, log)
	if err != nil {
		log.Error("Failed to create Telegram client", "error", err)
		return 1
	}
	log.Info("Connected to Telegram", "bot_username", tg.Username())

	sched, err := bot.NewScheduler(log, &cfg.Maintenance, store)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	router := bot.NewCallbackRouter(log, cfg, store, tg)
	ingestor := bot.NewIngestor(log, cfg, store, tg, tg, router)
	dispatcher := bot.NewDispatcher(log, cfg, store, tg)
	app := bot.NewBot(log, ingestor, dispatcher, sched)

	log.Info("Starting connector...")
	runErr := app.Run(ctx) // Blocks until context cancellation or component failure
	log.Info("Connector run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Connector stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Connector stopped gracefully.")
	return 0
}
