package keyboard

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/meetupbot/core/conversation"
)

// RemoveKeyboard returns a markup that hides the keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// ReplyButtons builds a resized reply keyboard from rows of labels.
func ReplyButtons(rows ...[]string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true}
	keyboard := make([]tele.Row, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tele.Btn, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, markup.Text(label))
		}
		keyboard = append(keyboard, markup.Row(buttons...))
	}
	markup.Reply(keyboard...)
	return markup
}

// Inline converts conversation buttons into telegram inline rows. Payload
// buttons carry their payload verbatim as callback data.
func Inline(rows [][]conversation.InlineButton) [][]tele.InlineButton {
	inline := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btn := tele.InlineButton{Text: b.Text}
			if b.URL != "" {
				btn.URL = b.URL
			} else {
				btn.Data = b.Payload
			}
			r = append(r, btn)
		}
		if len(r) > 0 {
			inline = append(inline, r)
		}
	}
	return inline
}

// Render turns a transport-neutral keyboard into telebot markup.
// A nil keyboard yields nil so the chat's current keyboard is kept.
func Render(kb *conversation.Keyboard) *tele.ReplyMarkup {
	if kb == nil {
		return nil
	}
	switch {
	case len(kb.Inline) > 0:
		return &tele.ReplyMarkup{InlineKeyboard: Inline(kb.Inline)}
	case len(kb.Reply) > 0:
		return ReplyButtons(kb.Reply...)
	case kb.Remove:
		return RemoveKeyboard()
	}
	return nil
}
