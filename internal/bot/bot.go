// Package bot implements the connector's core pipeline: the offset-driven
// ingestion loop, the dispatch loop for parsed queue items, the callback
// router, and the lifecycle orchestration tying them together.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"golang.org/x/sync/errgroup"
)

// UpdateSource is the long-poll boundary of the chat platform: fetch the
// next batch of updates at or after offset, waiting up to timeout.
type UpdateSource interface {
	FetchUpdates(offset int64, timeout time.Duration) ([]gotgbot.Update, error)
}

// Notifier is the outbound side of the chat platform. Sends are fire and
// forget beyond the returned message id and error.
type Notifier interface {
	SendText(chatID int64, text string, replyTo int64, markup *gotgbot.InlineKeyboardMarkup) (int64, error)
	DeleteMessage(chatID, messageID int64) error
	AnswerCallback(callbackID, text string) error
}

// Bot owns the two long-running loops and the maintenance scheduler, and
// runs them under a single lifecycle.
type Bot struct {
	logger     *slog.Logger
	ingestor   *Ingestor
	dispatcher *Dispatcher
	scheduler  *Scheduler
}

// NewBot creates the orchestrator for the given components.
func NewBot(logger *slog.Logger, ingestor *Ingestor, dispatcher *Dispatcher, scheduler *Scheduler) *Bot {
	return &Bot{
		logger:     logger.With("component", "orchestrator"),
		ingestor:   ingestor,
		dispatcher: dispatcher,
		scheduler:  scheduler,
	}
}

// Run starts all components and blocks until the context is cancelled or a
// component fails at startup. The loops themselves only return on
// cancellation; per-iteration failures are handled inside them.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting connector...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := b.ingestor.Run(gCtx); err != nil {
			return fmt.Errorf("ingestion loop: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := b.dispatcher.Run(gCtx); err != nil {
			return fmt.Errorf("dispatch loop: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := b.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Connector stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Connector stopped gracefully.")
	return nil
}

// sleepCtx waits for d or until the context is cancelled, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
