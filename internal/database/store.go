package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetOrCreateUser resolves a Telegram account to its internal surrogate
	// id, creating the row on first contact.
	GetOrCreateUser(ctx context.Context, telegramID int64) (*User, error)

	// GetUserByTelegramID retrieves a user by Telegram id. Returns nil, nil if not found.
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error)

	// EnqueueMessage inserts a new pending queue item unless one already
	// exists for the same (user, message id). Returns false when the item
	// was already queued.
	EnqueueMessage(ctx context.Context, userID, chatID, telegramMessageID int64, text string) (bool, error)

	// GetQueueItemByMessageID retrieves a user's queue item by the Telegram
	// message id it originated from. Returns nil, nil if not found.
	GetQueueItemByMessageID(ctx context.Context, userID, telegramMessageID int64) (*QueueItem, error)

	// NextParsedItem retrieves the oldest parsed queue item joined to its
	// owning user. Returns nil, nil when nothing is ready for dispatch.
	NextParsedItem(ctx context.Context) (*ParsedItem, error)

	// MarkItemSent flips a queue item to the sent status.
	MarkItemSent(ctx context.Context, id int64) error

	// MarkItemParsed records the parser's output: structured payload,
	// parsed status, and the processing timestamp.
	MarkItemParsed(ctx context.Context, id int64, parsed ParsedExpense) error

	// DeleteQueueItemByMessageID deletes the queue item that originated
	// from the given Telegram message. Returns the number of rows removed.
	DeleteQueueItemByMessageID(ctx context.Context, telegramMessageID int64) (int64, error)

	// DeleteExpenseByMessageID deletes the expense derived from the given
	// Telegram message. Returns the number of rows removed.
	DeleteExpenseByMessageID(ctx context.Context, telegramMessageID int64) (int64, error)

	// InsertExpense inserts a derived expense record.
	InsertExpense(ctx context.Context, expense *Expense) error

	// ExpenseTotalsByCategory sums a user's expense amounts per category
	// for records at or after windowStart, in decimal arithmetic. Results
	// are ordered by category name.
	ExpenseTotalsByCategory(ctx context.Context, userID int64, windowStart time.Time) ([]CategoryTotal, error)

	// LastUpdateID returns the persisted update offset, or 1 if none has
	// been stored yet.
	LastUpdateID(ctx context.Context) (int64, error)

	// SetLastUpdateID durably persists the update offset. The sole offset
	// row is read and updated (or inserted) inside one transaction.
	SetLastUpdateID(ctx context.Context, updateID int64) error

	// IsWhitelisted reports whether a Telegram account may interact with the bot.
	IsWhitelisted(ctx context.Context, telegramID int64) (bool, error)

	// AddWhitelistEntry adds a Telegram id to the allow-list. Adding an
	// existing id is a no-op.
	AddWhitelistEntry(ctx context.Context, telegramID int64) error

	// ListWhitelist returns all allow-listed Telegram ids.
	ListWhitelist(ctx context.Context) ([]int64, error)

	// ClearWhitelist removes every allow-list entry.
	ClearWhitelist(ctx context.Context) error

	// TruncateAll deletes all queue items, expenses, and users in one
	// transaction. Used by the admin CLI only.
	TruncateAll(ctx context.Context) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetOrCreateUser(ctx context.Context, telegramID int64) (*User, error) {
	if telegramID == 0 {
		return nil, fmt.Errorf("telegram_id cannot be zero")
	}

	user, err := s.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user = &User{TelegramID: telegramID, CreatedAt: time.Now().UTC()}
	result, err := s.db.NamedExecContext(ctx,
		`INSERT INTO users (telegram_id, created_at) VALUES (:telegram_id, :created_at)`, user)
	if err != nil {
		// Another writer may have created the row between check and insert;
		// the unique index on telegram_id turns that into a re-read.
		if isUniqueViolation(err) {
			return s.GetUserByTelegramID(ctx, telegramID)
		}
		s.logger.ErrorContext(ctx, "Error creating user", "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to create user %d: %w", telegramID, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		user.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after creating user",
			"telegram_id", telegramID, "error", idErr)
	}

	s.logger.DebugContext(ctx, "User created", "telegram_id", telegramID, "user_id", user.ID)
	return user, nil
}

func (s *sqlxStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user,
		`SELECT id, telegram_id, created_at FROM users WHERE telegram_id = ?`, telegramID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user", "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", telegramID, err)
	}
	return &user, nil
}

func (s *sqlxStore) EnqueueMessage(ctx context.Context, userID, chatID, telegramMessageID int64, text string) (bool, error) {
	if userID == 0 {
		return false, fmt.Errorf("user_id cannot be zero")
	}
	if text == "" {
		return false, fmt.Errorf("message text cannot be empty")
	}

	item := QueueItem{
		UserID:            userID,
		ChatID:            chatID,
		TelegramMessageID: telegramMessageID,
		Payload:           RawText(text),
		Status:            StatusPending,
		CreatedAt:         time.Now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	var existingID int64
	err = tx.GetContext(ctx, &existingID,
		`SELECT id FROM messages_queue WHERE user_id = ? AND telegram_message_id = ?`,
		userID, telegramMessageID)
	if err == nil {
		s.logger.DebugContext(ctx, "Message already queued, skipping",
			"user_id", userID, "telegram_message_id", telegramMessageID, "queue_item_id", existingID)
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check for existing queue item: %w", err)
	}

	_, err = tx.NamedExecContext(ctx, `
        INSERT INTO messages_queue (user_id, chat_id, telegram_message_id, payload, status, created_at, processed_at)
        VALUES (:user_id, :chat_id, :telegram_message_id, :payload, :status, :created_at, :processed_at)`, item)
	if err != nil {
		// The unique index on (user_id, telegram_message_id) is the
		// backstop against concurrent duplicate delivery.
		if isUniqueViolation(err) {
			s.logger.DebugContext(ctx, "Duplicate enqueue rejected by unique index",
				"user_id", userID, "telegram_message_id", telegramMessageID)
			return false, nil
		}
		s.logger.ErrorContext(ctx, "Error enqueueing message",
			"user_id", userID, "telegram_message_id", telegramMessageID, "error", err)
		return false, fmt.Errorf("failed to enqueue message (user %d, message %d): %w",
			userID, telegramMessageID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Message enqueued",
		"user_id", userID, "telegram_message_id", telegramMessageID)
	return true, nil
}

func (s *sqlxStore) GetQueueItemByMessageID(ctx context.Context, userID, telegramMessageID int64) (*QueueItem, error) {
	var item QueueItem
	query := `
        SELECT id, user_id, chat_id, telegram_message_id, payload, status, created_at, processed_at
        FROM messages_queue
        WHERE user_id = ? AND telegram_message_id = ?`

	err := s.db.GetContext(ctx, &item, query, userID, telegramMessageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting queue item",
			"user_id", userID, "telegram_message_id", telegramMessageID, "error", err)
		return nil, fmt.Errorf("failed to get queue item (user %d, message %d): %w",
			userID, telegramMessageID, err)
	}
	return &item, nil
}

func (s *sqlxStore) NextParsedItem(ctx context.Context) (*ParsedItem, error) {
	var item ParsedItem
	query := `
        SELECT q.id AS queue_item_id, u.telegram_id, q.chat_id, q.telegram_message_id, q.payload
        FROM messages_queue q
        INNER JOIN users u ON u.id = q.user_id
        WHERE q.status = ?
        ORDER BY q.created_at, q.id
        LIMIT 1`

	err := s.db.GetContext(ctx, &item, query, StatusParsed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting next parsed item", "error", err)
		return nil, fmt.Errorf("failed to get next parsed item: %w", err)
	}
	return &item, nil
}

func (s *sqlxStore) MarkItemSent(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages_queue SET status = ? WHERE id = ?`, StatusSent, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking item sent", "queue_item_id", id, "error", err)
		return fmt.Errorf("failed to mark item %d sent: %w", id, err)
	}
	if affected, affErr := result.RowsAffected(); affErr == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when marking item sent",
			"queue_item_id", id, "affected", affected)
	}
	return nil
}

func (s *sqlxStore) MarkItemParsed(ctx context.Context, id int64, parsed ParsedExpense) error {
	payload := Payload{ParsedExpense: parsed}
	if err := payload.Validate(StatusParsed); err != nil {
		return fmt.Errorf("invalid parsed payload for item %d: %w", id, err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE messages_queue SET status = ?, payload = ?, processed_at = ? WHERE id = ?`,
		StatusParsed, payload, time.Now().UTC(), id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking item parsed", "queue_item_id", id, "error", err)
		return fmt.Errorf("failed to mark item %d parsed: %w", id, err)
	}
	if affected, affErr := result.RowsAffected(); affErr == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when marking item parsed",
			"queue_item_id", id, "affected", affected)
	}
	return nil
}

func (s *sqlxStore) DeleteQueueItemByMessageID(ctx context.Context, telegramMessageID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM messages_queue WHERE telegram_message_id = ?`, telegramMessageID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting queue item",
			"telegram_message_id", telegramMessageID, "error", err)
		return 0, fmt.Errorf("failed to delete queue item for message %d: %w", telegramMessageID, err)
	}
	affected, _ := result.RowsAffected()
	s.logger.DebugContext(ctx, "Deleted queue items",
		"telegram_message_id", telegramMessageID, "count", affected)
	return affected, nil
}

func (s *sqlxStore) DeleteExpenseByMessageID(ctx context.Context, telegramMessageID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE telegram_message_id = ?`, telegramMessageID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting expense",
			"telegram_message_id", telegramMessageID, "error", err)
		return 0, fmt.Errorf("failed to delete expense for message %d: %w", telegramMessageID, err)
	}
	affected, _ := result.RowsAffected()
	s.logger.DebugContext(ctx, "Deleted expenses",
		"telegram_message_id", telegramMessageID, "count", affected)
	return affected, nil
}

func (s *sqlxStore) InsertExpense(ctx context.Context, expense *Expense) error {
	if expense == nil {
		return fmt.Errorf("cannot insert nil expense")
	}
	if expense.Amount.IsNegative() {
		return fmt.Errorf("expense amount cannot be negative")
	}
	if expense.AddedAt.IsZero() {
		expense.AddedAt = time.Now().UTC()
	}

	result, err := s.db.NamedExecContext(ctx, `
        INSERT INTO expenses (user_id, description, amount, category, telegram_message_id, added_at)
        VALUES (:user_id, :description, :amount, :category, :telegram_message_id, :added_at)`, expense)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting expense", "user_id", expense.UserID, "error", err)
		return fmt.Errorf("failed to insert expense for user %d: %w", expense.UserID, err)
	}
	if id, idErr := result.LastInsertId(); idErr == nil {
		expense.ID = id
	}
	return nil
}

// ExpenseTotalsByCategory fetches the matching rows and sums them in Go with
// decimal arithmetic. SQLite's SUM would coerce the amounts to binary floats.
func (s *sqlxStore) ExpenseTotalsByCategory(ctx context.Context, userID int64, windowStart time.Time) ([]CategoryTotal, error) {
	if userID == 0 {
		return nil, fmt.Errorf("user_id cannot be zero")
	}

	var rows []struct {
		Category string          `db:"category"`
		Amount   decimal.Decimal `db:"amount"`
	}
	query := `
        SELECT category, amount
        FROM expenses
        WHERE user_id = ? AND added_at >= ?
        ORDER BY category`

	err := s.db.SelectContext(ctx, &rows, query, userID, windowStart)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error aggregating expenses",
			"user_id", userID, "window_start", windowStart, "error", err)
		return nil, fmt.Errorf("failed to aggregate expenses for user %d: %w", userID, err)
	}

	var totals []CategoryTotal
	for _, row := range rows {
		if n := len(totals); n > 0 && totals[n-1].Category == row.Category {
			totals[n-1].Total = totals[n-1].Total.Add(row.Amount)
			continue
		}
		totals = append(totals, CategoryTotal{Category: row.Category, Total: row.Amount})
	}

	s.logger.DebugContext(ctx, "Aggregated expenses",
		"user_id", userID, "window_start", windowStart, "categories", len(totals))
	return totals, nil
}

func (s *sqlxStore) LastUpdateID(ctx context.Context) (int64, error) {
	var lastUpdateID int64
	err := s.db.GetContext(ctx, &lastUpdateID,
		`SELECT last_update_id FROM update_offset ORDER BY id LIMIT 1`)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No offset stored yet: start from the beginning of the stream.
		return 1, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error reading update offset", "error", err)
		return 0, fmt.Errorf("failed to read update offset: %w", err)
	}
	return lastUpdateID, nil
}

func (s *sqlxStore) SetLastUpdateID(ctx context.Context, updateID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	var rowID int64
	err = tx.GetContext(ctx, &rowID, `SELECT id FROM update_offset ORDER BY id LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO update_offset (last_update_id) VALUES (?)`, updateID)
	case err != nil:
		return fmt.Errorf("failed to read update offset row: %w", err)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE update_offset SET last_update_id = ? WHERE id = ?`, updateID, rowID)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error persisting update offset", "update_id", updateID, "error", err)
		return fmt.Errorf("failed to persist update offset %d: %w", updateID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Update offset persisted", "update_id", updateID)
	return nil
}

func (s *sqlxStore) IsWhitelisted(ctx context.Context, telegramID int64) (bool, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		`SELECT id FROM whitelist WHERE telegram_id = ?`, telegramID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error checking whitelist", "telegram_id", telegramID, "error", err)
		return false, fmt.Errorf("failed to check whitelist for %d: %w", telegramID, err)
	}
	return true, nil
}

func (s *sqlxStore) AddWhitelistEntry(ctx context.Context, telegramID int64) error {
	if telegramID == 0 {
		return fmt.Errorf("telegram_id cannot be zero")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO whitelist (telegram_id) VALUES (?)`, telegramID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		s.logger.ErrorContext(ctx, "Error adding whitelist entry", "telegram_id", telegramID, "error", err)
		return fmt.Errorf("failed to add whitelist entry %d: %w", telegramID, err)
	}
	return nil
}

func (s *sqlxStore) ListWhitelist(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		`SELECT telegram_id FROM whitelist ORDER BY telegram_id`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing whitelist", "error", err)
		return nil, fmt.Errorf("failed to list whitelist: %w", err)
	}
	return ids, nil
}

func (s *sqlxStore) ClearWhitelist(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM whitelist`)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error clearing whitelist", "error", err)
		return fmt.Errorf("failed to clear whitelist: %w", err)
	}
	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Cleared whitelist", "count", count)
	return nil
}

// TruncateAll deletes queue items, expenses, and users in one transaction so
// a partially emptied database is never left behind.
func (s *sqlxStore) TruncateAll(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for truncate: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	for _, table := range []string{"messages_queue", "expenses", "users"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			s.logger.ErrorContext(ctx, "Error truncating table", "table", table, "error", err)
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit truncate transaction: %w", err)
	}
	tx = nil

	s.logger.InfoContext(ctx, "Truncated queue, expenses, and users")
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}

// isUniqueViolation reports whether err is a sqlite unique-constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
