package keyboard

import (
	"testing"

	"github.com/m3rciful/meetupbot/core/conversation"
)

func TestRenderInline(t *testing.T) {
	kb := &conversation.Keyboard{Inline: [][]conversation.InlineButton{
		{conversation.Btn("100", "donate_100"), conversation.Btn("500", "donate_500")},
		{conversation.Link("Pay", "https://pay.example/x")},
		{},
	}}
	m := Render(kb)
	if m == nil || len(m.InlineKeyboard) != 2 {
		t.Fatalf("unexpected markup: %+v", m)
	}
	if got := m.InlineKeyboard[0][1].Data; got != "donate_500" {
		t.Fatalf("data = %q", got)
	}
	if got := m.InlineKeyboard[1][0]; got.URL != "https://pay.example/x" || got.Data != "" {
		t.Fatalf("link button = %+v", got)
	}
}

func TestRenderReplyAndRemove(t *testing.T) {
	m := Render(&conversation.Keyboard{Reply: [][]string{{"Donate", "Ask a speaker"}}})
	if m == nil || !m.ResizeKeyboard || len(m.ReplyKeyboard) != 1 || len(m.ReplyKeyboard[0]) != 2 {
		t.Fatalf("reply markup = %+v", m)
	}
	if m := Render(&conversation.Keyboard{Remove: true}); m == nil || !m.RemoveKeyboard {
		t.Fatalf("remove markup = %+v", m)
	}
	if Render(nil) != nil {
		t.Fatal("nil keyboard must render nil")
	}
}
