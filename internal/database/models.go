package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a queue item. Transitions are
// pending -> parsed -> sent, with failed reachable from pending or parsed
// when the parser gives up on an item. The parser owns the pending -> parsed
// (and -> failed) transitions; this process only ever writes pending and sent.
type Status string

const (
	StatusPending Status = "pending"
	StatusParsed  Status = "parsed"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// User maps a Telegram account to an internal surrogate id. Rows are created
// lazily on first inbound message.
type User struct {
	ID         int64     `db:"id"`
	TelegramID int64     `db:"telegram_id"`
	CreatedAt  time.Time `db:"created_at"`
}

// QueueItem is one inbound message awaiting parsing and reply.
type QueueItem struct {
	ID                int64        `db:"id"`
	UserID            int64        `db:"user_id"`
	ChatID            int64        `db:"chat_id"`
	TelegramMessageID int64        `db:"telegram_message_id"`
	Payload           Payload      `db:"payload"`
	Status            Status       `db:"status"`
	CreatedAt         time.Time    `db:"created_at"`
	ProcessedAt       sql.NullTime `db:"processed_at"`
}

// Expense is a structured fact the parser derives from a queue item.
type Expense struct {
	ID                int64           `db:"id"`
	UserID            int64           `db:"user_id"`
	Description       string          `db:"description"`
	Amount            decimal.Decimal `db:"amount"`
	Category          string          `db:"category"`
	TelegramMessageID int64           `db:"telegram_message_id"`
	AddedAt           time.Time       `db:"added_at"`
}

// CategoryTotal is one row of the per-category aggregation.
type CategoryTotal struct {
	Category string
	Total    decimal.Decimal
}

// ParsedExpense is the structured half of a queue item payload, written by
// the parser alongside the parsed status.
type ParsedExpense struct {
	Description string           `json:"description,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Category    string           `json:"category,omitempty"`
	Roast       string           `json:"roast,omitempty"`
}

// Payload is the JSON body of a queue item. It is a tagged variant tied to
// the item status: a pending item carries only the raw message text, a
// parsed item carries the structured expense fields.
type Payload struct {
	Message string `json:"message,omitempty"`
	ParsedExpense
}

// RawText builds the payload of a freshly enqueued item.
func RawText(message string) Payload {
	return Payload{Message: message}
}

// Validate checks that the payload variant matches the item status.
func (p Payload) Validate(status Status) error {
	switch status {
	case StatusPending:
		if p.Message == "" {
			return fmt.Errorf("pending payload must carry the raw message text")
		}
	case StatusParsed:
		if p.Description == "" && p.Amount == nil && p.Category == "" {
			return fmt.Errorf("parsed payload must carry at least one structured field")
		}
	case StatusSent, StatusFailed:
		// Terminal states keep whatever the last writer left behind.
	default:
		return fmt.Errorf("unknown status %q", status)
	}
	return nil
}

// Value implements driver.Valuer so payloads are stored as JSON text.
func (p Payload) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for reading payloads back out of the store.
func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), p)
	case []byte:
		return json.Unmarshal(v, p)
	case nil:
		*p = Payload{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Payload", src)
	}
}

// ParsedItem is the dispatch loop's view of the oldest parsed queue item,
// joined to its owning user for the reply destination.
type ParsedItem struct {
	QueueItemID       int64   `db:"queue_item_id"`
	TelegramID        int64   `db:"telegram_id"`
	ChatID            int64   `db:"chat_id"`
	TelegramMessageID int64   `db:"telegram_message_id"`
	Payload           Payload `db:"payload"`
}
