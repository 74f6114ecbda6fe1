package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"github.com/spendlog/connector/internal/config"
	"github.com/spendlog/connector/internal/database"
)

const (
	callbackDelete       = "delete"
	callbackReportPrefix = "report:"
)

// CallbackRouter handles inline-keyboard presses: report requests and
// deletion of a recorded expense. It runs inline in the ingestion loop's
// update handling, never as its own loop.
type CallbackRouter struct {
	logger   *slog.Logger
	cfg      *config.Config
	store    database.Store
	notifier Notifier
}

// NewCallbackRouter creates the callback router.
func NewCallbackRouter(logger *slog.Logger, cfg *config.Config, store database.Store, notifier Notifier) *CallbackRouter {
	return &CallbackRouter{
		logger:   logger.With("component", "callback_router"),
		cfg:      cfg,
		store:    store,
		notifier: notifier,
	}
}

// HandleCallback routes one callback query by its data token.
func (r *CallbackRouter) HandleCallback(ctx context.Context, cb *gotgbot.CallbackQuery) error {
	switch {
	case cb.Data == callbackDelete:
		return r.handleDelete(ctx, cb)
	case strings.HasPrefix(cb.Data, callbackReportPrefix):
		return r.handleReport(ctx, cb)
	default:
		r.logger.Warn("Unknown callback data", "data", cb.Data, "callback_id", cb.Id)
		return r.notifier.AnswerCallback(cb.Id, "")
	}
}

// handleReport computes the requested window, runs the aggregation, and
// replies with the per-category totals or a no-data notice.
func (r *CallbackRouter) handleReport(ctx context.Context, cb *gotgbot.CallbackQuery) error {
	if cb.Message == nil {
		r.logger.Warn("Report callback without message context", "callback_id", cb.Id)
		return r.notifier.AnswerCallback(cb.Id, "")
	}
	chatID := cb.Message.Chat.Id

	timeframe, err := ParseTimeframe(strings.TrimPrefix(cb.Data, callbackReportPrefix))
	if err != nil {
		r.logger.Warn("Invalid report timeframe", "data", cb.Data, "error", err)
		return r.notifier.AnswerCallback(cb.Id, "")
	}

	user, err := r.store.GetUserByTelegramID(ctx, cb.From.Id)
	if err != nil {
		return err
	}

	var totals []database.CategoryTotal
	windowStart := timeframe.WindowStart(time.Now())
	if user != nil {
		totals, err = r.store.ExpenseTotalsByCategory(ctx, user.ID, windowStart)
		if err != nil {
			return err
		}
	}

	text := r.cfg.Messages.NoData
	if len(totals) > 0 {
		text = formatReport(timeframe, windowStart, totals)
	}
	if _, err := r.notifier.SendText(chatID, text, 0, nil); err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}

	r.logger.Info("Report sent",
		"telegram_id", cb.From.Id, "timeframe", timeframe, "categories", len(totals))
	return r.notifier.AnswerCallback(cb.Id, "")
}

// handleDelete removes the queue item behind the pressed reply and, when the
// reply points back at the original inbound message, the expense derived
// from it. Each delete is atomic on its own; the pair is deliberately not,
// and notifier failures are logged rather than retried.
func (r *CallbackRouter) handleDelete(ctx context.Context, cb *gotgbot.CallbackQuery) error {
	if cb.Message == nil {
		r.logger.Warn("Delete callback without message context", "callback_id", cb.Id)
		return r.notifier.AnswerCallback(cb.Id, "")
	}
	chatID := cb.Message.Chat.Id

	targetMessageID := cb.Message.MessageId
	if cb.Message.ReplyToMessage != nil {
		targetMessageID = cb.Message.ReplyToMessage.MessageId
	}

	removed, err := r.store.DeleteQueueItemByMessageID(ctx, targetMessageID)
	if err != nil {
		r.logger.Error("Failed to delete queue item",
			"telegram_message_id", targetMessageID, "error", err)
	}

	if cb.Message.ReplyToMessage != nil {
		if _, err := r.store.DeleteExpenseByMessageID(ctx, targetMessageID); err != nil {
			r.logger.Error("Failed to delete expense",
				"telegram_message_id", targetMessageID, "error", err)
		}
	}

	if err := r.notifier.DeleteMessage(chatID, cb.Message.MessageId); err != nil {
		r.logger.Error("Failed to delete chat message",
			"chat_id", chatID, "message_id", cb.Message.MessageId, "error", err)
	}

	r.logger.Info("Deletion handled",
		"telegram_message_id", targetMessageID, "queue_items_removed", removed)
	return r.notifier.AnswerCallback(cb.Id, r.cfg.Messages.Deleted)
}
