package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/logger"
	"github.com/m3rciful/meetupbot/core/telegram/keyboard"
	"github.com/m3rciful/meetupbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func currentDispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

func sendAsync(ctx context.Context, action, endpoint string, run func() error) error {
	disp := currentDispatcher()
	if disp == nil {
		return run()
	}
	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, "tg.sender", "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// SendText sends raw text (no parse mode) to the current recipient.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	var sendOpts *tele.SendOptions
	if len(opts) > 0 {
		sendOpts = opts[0]
	}
	return sendAsync(BuildContext(c), "send.text", "sendMessage", func() error {
		if sendOpts != nil {
			return c.Send(text, sendOpts)
		}
		return c.Send(text)
	})
}

// SendReplies delivers dispatcher replies in order as one queued job. A retried
// job resumes after the last message that went out, so nothing is sent twice.
func SendReplies(c tele.Context, replies []conversation.Reply) error {
	if len(replies) == 0 {
		return nil
	}
	_, fallbackChat := IDs(c)
	bot := c.Bot()
	sent := 0
	return sendAsync(BuildContext(c), "send.replies", "sendMessage", func() error {
		for sent < len(replies) {
			r := replies[sent]
			chatID := r.ChatID
			if chatID == 0 {
				chatID = fallbackChat
			}
			opts := &tele.SendOptions{DisableWebPagePreview: true}
			if m := keyboard.Render(r.Keyboard); m != nil {
				opts.ReplyMarkup = m
			}
			if _, err := bot.Send(tele.ChatID(chatID), r.Text, opts); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
}

// HasKeyboard reports whether any reply carries markup.
func HasKeyboard(replies []conversation.Reply) bool {
	for _, r := range replies {
		if r.Keyboard != nil {
			return true
		}
	}
	return false
}
