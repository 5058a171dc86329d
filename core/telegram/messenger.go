package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/telegram/keyboard"

	tele "gopkg.in/telebot.v4"
)

// ErrNotBound is returned by Messenger.Send before the bot has started.
var ErrNotBound = errors.New("telegram: messenger not bound to a bot")

const defaultSendTimeout = 10 * time.Second

// Messenger sends messages to arbitrary chats outside an update handler,
// for example question routing and broadcasts.
type Messenger struct {
	bot     atomic.Pointer[tele.Bot]
	timeout time.Duration
}

// NewMessenger returns an unbound messenger. Each Send is bounded by timeout.
func NewMessenger(timeout time.Duration) *Messenger {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Messenger{timeout: timeout}
}

// Bind attaches the running bot. RunTelegram calls it before polling starts.
func (m *Messenger) Bind(b *tele.Bot) {
	m.bot.Store(b)
}

// Send delivers text to chatID. The call returns once Telegram accepted the
// message, ctx ends, or the send timeout passes.
func (m *Messenger) Send(ctx context.Context, chatID int64, text string, kb *conversation.Keyboard) error {
	b := m.bot.Load()
	if b == nil {
		return ErrNotBound
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	opts := &tele.SendOptions{DisableWebPagePreview: true, ReplyMarkup: keyboard.Render(kb)}
	done := make(chan error, 1)
	go func() {
		_, err := b.Send(tele.ChatID(chatID), text, opts)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram: send to %d: %w", chatID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram: send to %d: %w", chatID, ctx.Err())
	}
}
