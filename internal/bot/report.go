package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/shopspring/decimal"

	"github.com/spendlog/connector/internal/database"
)

// Timeframe is a report window class.
type Timeframe string

const (
	TimeframeDay   Timeframe = "day"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
	TimeframeYear  Timeframe = "year"
)

// ParseTimeframe validates a timeframe token from callback data.
func ParseTimeframe(s string) (Timeframe, error) {
	switch Timeframe(s) {
	case TimeframeDay, TimeframeWeek, TimeframeMonth, TimeframeYear:
		return Timeframe(s), nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// WindowStart returns the start of the reporting window ending at now:
// midnight today for day, and a calendar step back for the others.
func (t Timeframe) WindowStart(now time.Time) time.Time {
	switch t {
	case TimeframeWeek:
		return now.AddDate(0, 0, -7)
	case TimeframeMonth:
		return now.AddDate(0, -1, 0)
	case TimeframeYear:
		return now.AddDate(-1, 0, 0)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}
}

// timeframeKeyboard is the inline keyboard offered in reply to /report.
func timeframeKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{
		InlineKeyboard: [][]gotgbot.InlineKeyboardButton{{
			{Text: "Day", CallbackData: callbackReportPrefix + string(TimeframeDay)},
			{Text: "Week", CallbackData: callbackReportPrefix + string(TimeframeWeek)},
			{Text: "Month", CallbackData: callbackReportPrefix + string(TimeframeMonth)},
			{Text: "Year", CallbackData: callbackReportPrefix + string(TimeframeYear)},
		}},
	}
}

// deleteKeyboard is the single delete affordance attached to dispatch replies.
func deleteKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{
		InlineKeyboard: [][]gotgbot.InlineKeyboardButton{{
			{Text: "🗑 Delete", CallbackData: callbackDelete},
		}},
	}
}

// formatReply renders the confirmation text for a parsed queue item,
// falling back to placeholders for fields the parser left empty.
func formatReply(p database.Payload) string {
	description := p.Description
	if description == "" {
		description = "expense"
	}
	amount := "—"
	if p.Amount != nil {
		amount = "$" + p.Amount.StringFixed(2)
	}
	category := p.Category
	if category == "" {
		category = "Uncategorized"
	}

	text := fmt.Sprintf("✅ %s — %s (%s)", description, amount, category)
	if p.Roast != "" {
		text += "\n" + p.Roast
	}
	return text
}

// formatReport renders the per-category totals as plain text.
func formatReport(timeframe Timeframe, windowStart time.Time, totals []database.CategoryTotal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Expenses for the last %s (since %s):\n", timeframe, windowStart.Format("2006-01-02"))

	grandTotal := decimal.Zero
	for _, t := range totals {
		fmt.Fprintf(&b, "• %s: $%s\n", t.Category, t.Total.StringFixed(2))
		grandTotal = grandTotal.Add(t.Total)
	}
	fmt.Fprintf(&b, "Total: $%s", grandTotal.StringFixed(2))
	return b.String()
}
