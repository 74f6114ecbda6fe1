// Package main contains the admin CLI: seeding demo expenses, truncating
// data, and managing the whitelist.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spendlog/connector/internal/config"
	"github.com/spendlog/connector/internal/database"
	"github.com/spendlog/connector/internal/logger"
)

const usage = `Usage: admin [-config path] <command> [args]

Commands:
  seed <telegram-id>       insert demo expenses for the given account
  truncate                 delete all queue items, expenses, and users
  whitelist-add <id>       allow a Telegram account to use the bot
  whitelist-list           print all whitelisted Telegram ids
  whitelist-clear          remove every whitelist entry
`

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}
	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	if err := dispatch(ctx, store, flag.Args()); err != nil {
		log.Error("Command failed", "command", flag.Arg(0), "error", err)
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, store database.Store, args []string) error {
	switch args[0] {
	case "seed":
		if len(args) != 2 {
			return fmt.Errorf("seed requires a telegram id")
		}
		telegramID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid telegram id %q: %w", args[1], err)
		}
		return seed(ctx, store, telegramID)
	case "truncate":
		return store.TruncateAll(ctx)
	case "whitelist-add":
		if len(args) != 2 {
			return fmt.Errorf("whitelist-add requires a telegram id")
		}
		telegramID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid telegram id %q: %w", args[1], err)
		}
		return store.AddWhitelistEntry(ctx, telegramID)
	case "whitelist-list":
		ids, err := store.ListWhitelist(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	case "whitelist-clear":
		return store.ClearWhitelist(ctx)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// seed inserts a spread of demo expenses covering each report timeframe.
func seed(ctx context.Context, store database.Store, telegramID int64) error {
	user, err := store.GetOrCreateUser(ctx, telegramID)
	if err != nil {
		return err
	}

	now := time.Now()
	daysAgo := func(n int) time.Time { return now.AddDate(0, 0, -n) }

	demo := []struct {
		description string
		amount      string
		category    string
		addedAt     time.Time
	}{
		// Today
		{"coffee", "5.00", "Food", daysAgo(0)},
		{"lunch", "12.00", "Food", daysAgo(0)},
		{"bus", "3.00", "Transportation", daysAgo(0)},
		// This week
		{"groceries", "40.00", "Food", daysAgo(2)},
		{"uber", "15.00", "Transportation", daysAgo(3)},
		{"movie", "18.00", "Entertainment", daysAgo(5)},
		// This month
		{"gym", "50.00", "Health", daysAgo(10)},
		{"book", "20.00", "Education", daysAgo(15)},
		{"dinner", "30.00", "Food", daysAgo(20)},
		// This year
		{"flight", "300.00", "Travel", daysAgo(40)},
		{"hotel", "500.00", "Travel", daysAgo(100)},
		{"laptop", "1200.00", "Other", daysAgo(200)},
		{"gift", "60.00", "Other", daysAgo(300)},
	}

	for i, d := range demo {
		amount, err := decimal.NewFromString(d.amount)
		if err != nil {
			return fmt.Errorf("invalid seed amount %q: %w", d.amount, err)
		}
		expense := &database.Expense{
			UserID:            user.ID,
			Description:       d.description,
			Amount:            amount,
			Category:          d.category,
			TelegramMessageID: int64(1000 + i),
			AddedAt:           d.addedAt,
		}
		if err := store.InsertExpense(ctx, expense); err != nil {
			return err
		}
	}

	slog.Info("Seeded demo expenses", "telegram_id", telegramID, "count", len(demo))
	return nil
}
