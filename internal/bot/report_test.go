package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spendlog/connector/internal/database"
)

func TestParseTimeframe(t *testing.T) {
	t.Parallel()

	for _, valid := range []string{"day", "week", "month", "year"} {
		tf, err := ParseTimeframe(valid)
		if err != nil {
			t.Fatalf("ParseTimeframe(%q): %v", valid, err)
		}
		if string(tf) != valid {
			t.Fatalf("expected %q, got %q", valid, tf)
		}
	}

	if _, err := ParseTimeframe("decade"); err == nil {
		t.Fatal("expected an error for an unknown timeframe")
	}
	if _, err := ParseTimeframe(""); err == nil {
		t.Fatal("expected an error for an empty timeframe")
	}
}

func TestWindowStart(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 15, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		timeframe Timeframe
		want      time.Time
	}{
		{TimeframeDay, time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)},
		{TimeframeWeek, time.Date(2025, time.March, 8, 14, 30, 0, 0, time.UTC)},
		{TimeframeMonth, time.Date(2025, time.February, 15, 14, 30, 0, 0, time.UTC)},
		{TimeframeYear, time.Date(2024, time.March, 15, 14, 30, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		t.Run(string(tc.timeframe), func(t *testing.T) {
			t.Parallel()
			got := tc.timeframe.WindowStart(now)
			if !got.Equal(tc.want) {
				t.Fatalf("WindowStart(%s) = %v, want %v", tc.timeframe, got, tc.want)
			}
		})
	}
}

func TestFormatReply(t *testing.T) {
	t.Parallel()

	amount := decimal.RequireFromString("5.5")

	tests := []struct {
		name    string
		payload database.Payload
		want    string
	}{
		{
			name: "full payload",
			payload: database.Payload{ParsedExpense: database.ParsedExpense{
				Description: "coffee", Amount: &amount, Category: "Food",
			}},
			want: "✅ coffee — $5.50 (Food)",
		},
		{
			name:    "all fields empty fall back to placeholders",
			payload: database.Payload{},
			want:    "✅ expense — — (Uncategorized)",
		},
		{
			name: "roast appended on its own line",
			payload: database.Payload{ParsedExpense: database.ParsedExpense{
				Description: "coffee", Amount: &amount, Category: "Food", Roast: "again?",
			}},
			want: "✅ coffee — $5.50 (Food)\nagain?",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := formatReply(tc.payload); got != tc.want {
				t.Fatalf("formatReply = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatReport(t *testing.T) {
	t.Parallel()

	windowStart := time.Date(2025, time.March, 8, 0, 0, 0, 0, time.UTC)
	totals := []database.CategoryTotal{
		{Category: "Food", Total: decimal.RequireFromString("17.00")},
		{Category: "Transport", Total: decimal.RequireFromString("3.50")},
	}

	got := formatReport(TimeframeWeek, windowStart, totals)

	for _, want := range []string{
		"last week",
		"since 2025-03-08",
		"• Food: $17.00",
		"• Transport: $3.50",
		"Total: $20.50",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("report %q missing %q", got, want)
		}
	}
}

func TestKeyboards(t *testing.T) {
	t.Parallel()

	report := timeframeKeyboard()
	if len(report.InlineKeyboard) != 1 || len(report.InlineKeyboard[0]) != 4 {
		t.Fatalf("unexpected report keyboard shape: %+v", report.InlineKeyboard)
	}
	for _, btn := range report.InlineKeyboard[0] {
		if !strings.HasPrefix(btn.CallbackData, callbackReportPrefix) {
			t.Fatalf("report button %q missing prefix %q", btn.CallbackData, callbackReportPrefix)
		}
		if _, err := ParseTimeframe(strings.TrimPrefix(btn.CallbackData, callbackReportPrefix)); err != nil {
			t.Fatalf("report button carries invalid timeframe: %v", err)
		}
	}

	del := deleteKeyboard()
	if len(del.InlineKeyboard) != 1 || len(del.InlineKeyboard[0]) != 1 {
		t.Fatalf("unexpected delete keyboard shape: %+v", del.InlineKeyboard)
	}
	if del.InlineKeyboard[0][0].CallbackData != callbackDelete {
		t.Fatalf("delete button carries %q", del.InlineKeyboard[0][0].CallbackData)
	}
}

func TestCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want string
	}{
		{"/start", "/start"},
		{"/report@spendlog_bot", "/report"},
		{"  /help extra words", "/help"},
		{"coffee 5", ""},
		{"", ""},
	}

	for _, tc := range tests {
		if got := command(tc.text); got != tc.want {
			t.Fatalf("command(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
