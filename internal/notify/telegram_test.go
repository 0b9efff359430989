package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotify(t *testing.T) {
	fake := &fakeSender{}
	n := &Telegram{api: fake, chatID: -100123}

	require.NoError(t, n.Notify(context.Background(), "payment failed for cus_1"))
	require.Len(t, fake.sent, 1)
	msg, ok := fake.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-100123), msg.ChatID)
	assert.Equal(t, "payment failed for cus_1", msg.Text)
}

func TestTelegramNotifyError(t *testing.T) {
	n := &Telegram{api: &fakeSender{err: errors.New("blocked")}, chatID: 1}
	assert.ErrorContains(t, n.Notify(context.Background(), "x"), "send telegram alert")
}

func TestLogNotify(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, n.Notify(context.Background(), "subscription canceled"))
	assert.Contains(t, buf.String(), "subscription canceled")
}
