package bot

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"github.com/spendlog/connector/internal/config"
	"github.com/spendlog/connector/internal/database"
	"github.com/spendlog/connector/internal/telegram"
)

// Ingestor is the producer loop: it long-polls the update source from the
// persisted offset, answers the immediate commands, routes callbacks, and
// enqueues everything else as pending queue items.
//
// The offset is persisted only after a whole batch has been processed, so a
// crash mid-batch re-fetches the same updates on restart. The uniqueness of
// (user, message id) in the queue makes that redelivery a no-op.
type Ingestor struct {
	logger   *slog.Logger
	cfg      *config.Config
	store    database.Store
	source   UpdateSource
	notifier Notifier
	router   *CallbackRouter

	// cursor is the next update id to fetch. Owned exclusively by Run.
	cursor int64
}

// NewIngestor creates the ingestion loop.
func NewIngestor(
	logger *slog.Logger,
	cfg *config.Config,
	store database.Store,
	source UpdateSource,
	notifier Notifier,
	router *CallbackRouter,
) *Ingestor {
	return &Ingestor{
		logger:   logger.With("component", "ingestor"),
		cfg:      cfg,
		store:    store,
		source:   source,
		notifier: notifier,
		router:   router,
	}
}

// Run polls for updates until the context is cancelled. Fetch failures back
// off and retry; they never terminate the loop.
func (i *Ingestor) Run(ctx context.Context) error {
	cursor, err := i.store.LastUpdateID(ctx)
	if err != nil {
		return err
	}
	i.cursor = cursor
	i.logger.Info("Ingestion loop starting", "cursor", i.cursor)

	for {
		if ctx.Err() != nil {
			i.logger.Info("Ingestion loop stopping", "cursor", i.cursor)
			return nil
		}

		updates, err := i.source.FetchUpdates(i.cursor, i.cfg.Poll.Timeout)
		if err != nil {
			if errors.Is(err, telegram.ErrConflict) {
				i.logger.Warn("Another instance is polling, backing off",
					"backoff", i.cfg.Poll.ConflictBackoff)
				if sleepErr := sleepCtx(ctx, i.cfg.Poll.ConflictBackoff); sleepErr != nil {
					return nil
				}
				continue
			}
			i.logger.Error("Failed to fetch updates", "error", err,
				"backoff", i.cfg.Poll.ErrorBackoff)
			if sleepErr := sleepCtx(ctx, i.cfg.Poll.ErrorBackoff); sleepErr != nil {
				return nil
			}
			continue
		}

		if len(updates) == 0 {
			continue
		}
		i.processBatch(ctx, updates)
	}
}

// processBatch handles one fetched batch in ascending update-id order, then
// advances and persists the cursor past the batch.
func (i *Ingestor) processBatch(ctx context.Context, updates []gotgbot.Update) {
	// The source does not guarantee order.
	sort.Slice(updates, func(a, b int) bool {
		return updates[a].UpdateId < updates[b].UpdateId
	})
	i.logger.Debug("Processing update batch",
		"count", len(updates),
		"first_update_id", updates[0].UpdateId,
		"last_update_id", updates[len(updates)-1].UpdateId)

	for idx := range updates {
		update := &updates[idx]
		if err := i.handleUpdate(ctx, update); err != nil {
			// Per-item failures are isolated: the cursor still advances, so
			// this update is lost unless the source redelivers it.
			i.logger.Error("Failed to process update, skipping",
				"update_id", update.UpdateId, "error", err)
		}
	}

	i.cursor = updates[len(updates)-1].UpdateId + 1
	if err := i.store.SetLastUpdateID(ctx, i.cursor); err != nil {
		// The in-memory cursor stays advanced; a restart will re-fetch the
		// batch and deduplicate against the queue.
		i.logger.Error("Failed to persist update offset", "cursor", i.cursor, "error", err)
	}
}

func (i *Ingestor) handleUpdate(ctx context.Context, update *gotgbot.Update) error {
	switch {
	case update.CallbackQuery != nil:
		return i.router.HandleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		return i.handleMessage(ctx, update.Message)
	default:
		i.logger.Debug("Ignoring unsupported update type", "update_id", update.UpdateId)
		return nil
	}
}

func (i *Ingestor) handleMessage(ctx context.Context, msg *gotgbot.Message) error {
	if msg.From == nil || msg.Text == "" {
		i.logger.Debug("Ignoring message without sender or text", "message_id", msg.MessageId)
		return nil
	}

	whitelisted, err := i.store.IsWhitelisted(ctx, msg.From.Id)
	if err != nil {
		return err
	}
	if !whitelisted {
		i.logger.Warn("Message from non-whitelisted user",
			"telegram_id", msg.From.Id, "chat_id", msg.Chat.Id)
		if _, sendErr := i.notifier.SendText(msg.Chat.Id, i.cfg.Messages.NotAuthorized, 0, nil); sendErr != nil {
			i.logger.Error("Failed to send not-authorized notice", "error", sendErr)
		}
		return nil
	}

	switch command(msg.Text) {
	case "/start", "/help":
		_, err := i.notifier.SendText(msg.Chat.Id, i.cfg.Messages.Welcome, 0, nil)
		return err
	case "/report":
		_, err := i.notifier.SendText(msg.Chat.Id, i.cfg.Messages.ReportPrompt, 0, timeframeKeyboard())
		return err
	}

	return i.enqueue(ctx, msg)
}

func (i *Ingestor) enqueue(ctx context.Context, msg *gotgbot.Message) error {
	user, err := i.store.GetOrCreateUser(ctx, msg.From.Id)
	if err != nil {
		return err
	}

	created, err := i.store.EnqueueMessage(ctx, user.ID, msg.Chat.Id, msg.MessageId, msg.Text)
	if err != nil {
		return err
	}
	if !created {
		i.logger.Debug("Duplicate update delivery, message already queued",
			"telegram_id", msg.From.Id, "message_id", msg.MessageId)
		return nil
	}

	i.logger.Info("Message queued for parsing",
		"telegram_id", msg.From.Id, "chat_id", msg.Chat.Id, "message_id", msg.MessageId)
	return nil
}

// command extracts the leading bot command from a message text, stripping a
// trailing @botname mention. Returns "" for plain messages.
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	if at := strings.Index(cmd, "@"); at != -1 {
		cmd = cmd[:at]
	}
	return cmd
}
