package bot

import (
	"context"
	"log/slog"

	"github.com/spendlog/connector/internal/config"
	"github.com/spendlog/connector/internal/database"
)

// Dispatcher is the consumer loop: it polls the queue for the oldest parsed
// item, sends the formatted reply, and marks the item sent.
//
// The send and the status update are not atomic. If the process dies between
// them the item is re-dispatched on restart and the user may see the reply
// twice; that duplicate is accepted in exchange for never losing a reply.
type Dispatcher struct {
	logger   *slog.Logger
	cfg      *config.Config
	store    database.Store
	notifier Notifier
}

// NewDispatcher creates the dispatch loop.
func NewDispatcher(logger *slog.Logger, cfg *config.Config, store database.Store, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With("component", "dispatcher"),
		cfg:      cfg,
		store:    store,
		notifier: notifier,
	}
}

// Run polls for parsed items until the context is cancelled. Send or update
// failures leave the item parsed so it is retried on a later cycle.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Dispatch loop starting", "interval", d.cfg.Dispatch.Interval)

	for {
		if ctx.Err() != nil {
			d.logger.Info("Dispatch loop stopping")
			return nil
		}

		dispatched, err := d.dispatchNext(ctx)
		if err != nil {
			d.logger.Error("Dispatch cycle failed, item will be retried", "error", err)
		}
		if dispatched && err == nil {
			// Drain the backlog without idling between items.
			continue
		}
		if sleepErr := sleepCtx(ctx, d.cfg.Dispatch.Interval); sleepErr != nil {
			return nil
		}
	}
}

// dispatchNext sends the reply for the oldest parsed item, if any, and marks
// it sent. Returns whether an item was found.
func (d *Dispatcher) dispatchNext(ctx context.Context) (bool, error) {
	item, err := d.store.NextParsedItem(ctx)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	text := formatReply(item.Payload)
	if _, err := d.notifier.SendText(item.ChatID, text, item.TelegramMessageID, deleteKeyboard()); err != nil {
		return true, err
	}

	if err := d.store.MarkItemSent(ctx, item.QueueItemID); err != nil {
		// The reply went out but the item is still parsed: the next cycle
		// will send it again. Accepted duplicate-reply risk.
		return true, err
	}

	d.logger.Info("Dispatched reply",
		"queue_item_id", item.QueueItemID,
		"chat_id", item.ChatID,
		"telegram_message_id", item.TelegramMessageID)
	return true, nil
}
