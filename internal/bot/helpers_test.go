package bot

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"github.com/spendlog/connector/internal/config"
	"github.com/spendlog/connector/internal/database"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Poll: config.PollConfig{
			Timeout:         time.Second,
			ConflictBackoff: 10 * time.Millisecond,
			ErrorBackoff:    10 * time.Millisecond,
		},
		Dispatch: config.DispatchConfig{Interval: 10 * time.Millisecond},
		Messages: config.MessagesConfig{
			Welcome:       "welcome",
			NotAuthorized: "not authorized",
			ReportPrompt:  "pick a timeframe",
			NoData:        "no data",
			Deleted:       "deleted",
			GeneralError:  "something went wrong",
		},
	}
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, testLogger())
}

type sentText struct {
	chatID  int64
	text    string
	replyTo int64
	markup  *gotgbot.InlineKeyboardMarkup
}

type deletedMessage struct {
	chatID    int64
	messageID int64
}

type answeredCallback struct {
	callbackID string
	text       string
}

// fakeNotifier records outbound calls for assertions.
type fakeNotifier struct {
	sent     []sentText
	deleted  []deletedMessage
	answered []answeredCallback

	sendErr       error
	nextMessageID int64
}

func (f *fakeNotifier) SendText(chatID int64, text string, replyTo int64, markup *gotgbot.InlineKeyboardMarkup) (int64, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, sentText{chatID: chatID, text: text, replyTo: replyTo, markup: markup})
	f.nextMessageID++
	return f.nextMessageID, nil
}

func (f *fakeNotifier) DeleteMessage(chatID, messageID int64) error {
	f.deleted = append(f.deleted, deletedMessage{chatID: chatID, messageID: messageID})
	return nil
}

func (f *fakeNotifier) AnswerCallback(callbackID, text string) error {
	f.answered = append(f.answered, answeredCallback{callbackID: callbackID, text: text})
	return nil
}

func textMessage(updateID, telegramID, chatID, messageID int64, text string) gotgbot.Update {
	return gotgbot.Update{
		UpdateId: updateID,
		Message: &gotgbot.Message{
			MessageId: messageID,
			From:      &gotgbot.User{Id: telegramID},
			Chat:      gotgbot.Chat{Id: chatID},
			Text:      text,
		},
	}
}
