package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/shopspring/decimal"

	"github.com/spendlog/connector/internal/database"
)

func newTestRouter(t *testing.T) (*CallbackRouter, database.Store, *fakeNotifier) {
	t.Helper()
	store := newTestStore(t)
	notifier := &fakeNotifier{}
	return NewCallbackRouter(testLogger(), testConfig(), store, notifier), store, notifier
}

func TestHandleReportWithData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	router, store, notifier := newTestRouter(t)

	user, err := store.GetOrCreateUser(ctx, 100)
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	err = store.InsertExpense(ctx, &database.Expense{
		UserID:            user.ID,
		Description:       "coffee",
		Amount:            decimal.RequireFromString("5.00"),
		Category:          "Food",
		TelegramMessageID: 1,
		AddedAt:           time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertExpense: %v", err)
	}

	cb := &gotgbot.CallbackQuery{
		Id:      "cb-report",
		From:    gotgbot.User{Id: 100},
		Data:    "report:week",
		Message: &gotgbot.Message{MessageId: 5, Chat: gotgbot.Chat{Id: 555}},
	}
	if err := router.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected one report message, got %+v", notifier.sent)
	}
	if !strings.Contains(notifier.sent[0].text, "Food: $5.00") {
		t.Fatalf("report missing category total: %q", notifier.sent[0].text)
	}
	if len(notifier.answered) != 1 || notifier.answered[0].callbackID != "cb-report" {
		t.Fatalf("expected the callback to be answered, got %+v", notifier.answered)
	}
}

func TestHandleReportNoData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	router, _, notifier := newTestRouter(t)

	// The sender has never recorded anything; there is not even a user row.
	cb := &gotgbot.CallbackQuery{
		Id:      "cb-empty",
		From:    gotgbot.User{Id: 999},
		Data:    "report:day",
		Message: &gotgbot.Message{MessageId: 5, Chat: gotgbot.Chat{Id: 555}},
	}
	if err := router.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	if len(notifier.sent) != 1 || notifier.sent[0].text != "no data" {
		t.Fatalf("expected the no-data notice, got %+v", notifier.sent)
	}
}

func TestHandleReportInvalidTimeframe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	router, _, notifier := newTestRouter(t)

	cb := &gotgbot.CallbackQuery{
		Id:      "cb-bad",
		From:    gotgbot.User{Id: 1},
		Data:    "report:decade",
		Message: &gotgbot.Message{MessageId: 5, Chat: gotgbot.Chat{Id: 555}},
	}
	if err := router.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("expected no reply for an invalid timeframe, got %+v", notifier.sent)
	}
	if len(notifier.answered) != 1 {
		t.Fatalf("expected the callback to still be answered, got %+v", notifier.answered)
	}
}

func TestHandleDeleteCascade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	router, store, notifier := newTestRouter(t)

	user, err := store.GetOrCreateUser(ctx, 200)
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if _, err := store.EnqueueMessage(ctx, user.ID, 555, 42, "gym 50"); err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}
	err = store.InsertExpense(ctx, &database.Expense{
		UserID:            user.ID,
		Description:       "gym",
		Amount:            decimal.RequireFromString("50.00"),
		Category:          "Health",
		TelegramMessageID: 42,
		AddedAt:           time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertExpense: %v", err)
	}

	// The delete button rides on the bot's reply, which points back at the
	// original inbound message.
	cb := &gotgbot.CallbackQuery{
		Id:   "cb-delete",
		From: gotgbot.User{Id: 200},
		Data: "delete",
		Message: &gotgbot.Message{
			MessageId:      90,
			Chat:           gotgbot.Chat{Id: 555},
			ReplyToMessage: &gotgbot.Message{MessageId: 42},
		},
	}
	if err := router.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	item, err := store.GetQueueItemByMessageID(ctx, user.ID, 42)
	if err != nil {
		t.Fatalf("GetQueueItemByMessageID: %v", err)
	}
	if item != nil {
		t.Fatalf("expected the queue item to be deleted, got %+v", item)
	}
	totals, err := store.ExpenseTotalsByCategory(ctx, user.ID, time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatalf("ExpenseTotalsByCategory: %v", err)
	}
	if len(totals) != 0 {
		t.Fatalf("expected the expense to be deleted, got %+v", totals)
	}

	if len(notifier.deleted) != 1 || notifier.deleted[0].messageID != 90 {
		t.Fatalf("expected the bot's reply to be removed from chat, got %+v", notifier.deleted)
	}
	if len(notifier.answered) != 1 || notifier.answered[0].text != "deleted" {
		t.Fatalf("expected a deleted acknowledgement, got %+v", notifier.answered)
	}
}

func TestHandleDeleteWithoutReplyContext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	router, store, _ := newTestRouter(t)

	user, err := store.GetOrCreateUser(ctx, 300)
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	// The expense shares the pressed message's id; without a reply reference
	// it must survive, only the queue item keyed by that id goes.
	if _, err := store.EnqueueMessage(ctx, user.ID, 555, 91, "misc 1"); err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}
	err = store.InsertExpense(ctx, &database.Expense{
		UserID:            user.ID,
		Description:       "misc",
		Amount:            decimal.RequireFromString("1.00"),
		Category:          "Other",
		TelegramMessageID: 91,
		AddedAt:           time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertExpense: %v", err)
	}

	cb := &gotgbot.CallbackQuery{
		Id:      "cb-orphan",
		From:    gotgbot.User{Id: 300},
		Data:    "delete",
		Message: &gotgbot.Message{MessageId: 91, Chat: gotgbot.Chat{Id: 555}},
	}
	if err := router.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	item, err := store.GetQueueItemByMessageID(ctx, user.ID, 91)
	if err != nil {
		t.Fatalf("GetQueueItemByMessageID: %v", err)
	}
	if item != nil {
		t.Fatalf("expected the queue item to be deleted, got %+v", item)
	}
	totals, err := store.ExpenseTotalsByCategory(ctx, user.ID, time.Now().AddDate(-1, 0, 0))
	if err != nil {
		t.Fatalf("ExpenseTotalsByCategory: %v", err)
	}
	if len(totals) != 1 {
		t.Fatalf("expected the expense to survive, got %+v", totals)
	}
}

func TestHandleCallbackWithoutMessage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	router, _, notifier := newTestRouter(t)

	for _, data := range []string{"delete", "report:day"} {
		cb := &gotgbot.CallbackQuery{Id: "cb-" + data, From: gotgbot.User{Id: 1}, Data: data}
		if err := router.HandleCallback(ctx, cb); err != nil {
			t.Fatalf("HandleCallback(%q): %v", data, err)
		}
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("expected no sends without message context, got %+v", notifier.sent)
	}
	if len(notifier.answered) != 2 {
		t.Fatalf("expected both callbacks answered, got %+v", notifier.answered)
	}
}
