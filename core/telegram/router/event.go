package router

import (
	"strconv"
	"strings"

	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/meetupbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// EventFrom converts a telegram update into a dispatcher event. Updates
// without a sender, such as channel posts, are reported as not ok.
func EventFrom(c tele.Context) (conversation.Event, bool) {
	userID, chatID := tghelpers.IDs(c)
	if userID == 0 {
		return conversation.Event{}, false
	}
	upd := c.Update()
	ev := conversation.Event{UserID: userID, ChatID: chatID}
	if upd.ID != 0 {
		ev.ID = strconv.Itoa(upd.ID)
	}
	if u := c.Sender(); u != nil {
		ev.Username = u.Username
		ev.FirstName = u.FirstName
	}

	switch {
	case upd.Callback != nil:
		ev.Kind = conversation.KindButton
		ev.Payload = callbacks.Data(upd.Callback)
	case upd.Message != nil:
		if name, ok := commandName(upd.Message.Text); ok {
			ev.Kind = conversation.KindCommand
			ev.Payload = name
		} else {
			ev.Kind = conversation.KindText
			ev.Payload = upd.Message.Text
		}
	default:
		return conversation.Event{}, false
	}
	return ev, true
}

// commandName extracts "start" from "/start@meetup_bot args".
func commandName(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	head := strings.Fields(text[1:])
	if len(head) == 0 {
		return "", false
	}
	name, _, _ := strings.Cut(head[0], "@")
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}
