// Package telegram wraps the gotgbot client behind the small surface the
// connector needs: raw update fetching for the offset-driven ingestion loop,
// and the outbound notifier operations.
package telegram

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

// ErrConflict signals that another instance of this bot is already
// long-polling the same token (Telegram's 409 response).
var ErrConflict = errors.New("another instance is polling updates")

// Client is a thin wrapper over gotgbot for raw API access.
type Client struct {
	bot    *gotgbot.Bot
	logger *slog.Logger
}

// NewClient creates the Telegram client and registers the bot commands.
func NewClient(token string, logger *slog.Logger) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telegram")

	b, err := gotgbot.NewBot(token, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	commands := []gotgbot.BotCommand{
		{Command: "start", Description: "Start tracking expenses"},
		{Command: "help", Description: "Show usage help"},
		{Command: "report", Description: "Show expense totals by category"},
	}
	if _, err := b.SetMyCommands(commands, nil); err != nil {
		return nil, fmt.Errorf("failed to set bot commands: %w", err)
	}

	log.Info("Telegram client created", "username", b.User.Username)
	return &Client{bot: b, logger: log}, nil
}

// Username returns the bot account's username.
func (c *Client) Username() string {
	return c.bot.User.Username
}

// FetchUpdates long-polls Telegram for updates at or after offset, waiting
// up to timeout for new ones. A 409 from the API is surfaced as ErrConflict.
func (c *Client) FetchUpdates(offset int64, timeout time.Duration) ([]gotgbot.Update, error) {
	updates, err := c.bot.GetUpdates(&gotgbot.GetUpdatesOpts{
		Offset:  offset,
		Timeout: int64(timeout.Seconds()),
		RequestOpts: &gotgbot.RequestOpts{
			// The HTTP timeout must outlast the long-poll wait.
			Timeout: timeout + 5*time.Second,
		},
	})
	if err != nil {
		var tgErr *gotgbot.TelegramError
		if errors.As(err, &tgErr) && tgErr.Code == 409 {
			return nil, fmt.Errorf("%w: %s", ErrConflict, tgErr.Description)
		}
		return nil, fmt.Errorf("failed to fetch updates: %w", err)
	}
	return updates, nil
}

// SendText sends a text message, optionally as a reply and with an inline
// keyboard, and returns the sent message id.
func (c *Client) SendText(chatID int64, text string, replyTo int64, markup *gotgbot.InlineKeyboardMarkup) (int64, error) {
	opts := &gotgbot.SendMessageOpts{}
	if replyTo != 0 {
		opts.ReplyToMessageId = replyTo
	}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}

	msg, err := c.bot.SendMessage(chatID, text, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return msg.MessageId, nil
}

// DeleteMessage removes a message the bot previously sent.
func (c *Client) DeleteMessage(chatID, messageID int64) error {
	if _, err := c.bot.DeleteMessage(chatID, messageID, nil); err != nil {
		return fmt.Errorf("failed to delete message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// AnswerCallback acknowledges an inline-keyboard button press.
func (c *Client) AnswerCallback(callbackID, text string) error {
	if _, err := c.bot.AnswerCallbackQuery(callbackID, &gotgbot.AnswerCallbackQueryOpts{Text: text}); err != nil {
		return fmt.Errorf("failed to answer callback %s: %w", callbackID, err)
	}
	return nil
}
