package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/telegram/format"
)

// Reply-keyboard labels of the main menu.
const (
	LabelProgram     = "📅 Program"
	LabelDonate      = "🎁 Donate"
	LabelNetworking  = "🙋 Networking"
	LabelAsk         = "📋 Ask a speaker"
	LabelRegister    = "📝 Register"
	LabelSpeak       = "🎤 Become a speaker"
	LabelSubscribe   = "🔔 Subscribe"
	LabelUnsubscribe = "🔕 Unsubscribe"
	LabelMyEvents    = "🗓 My events"
	LabelQuestions   = "❓ My questions"
	LabelMailing     = "📢 Mailing"
)

const defaultEventName = "our meetup"

// menuFor renders the main menu. Rows depend on the participant's flags; a
// failed lookup falls back to the base rows.
func menuFor(gw domain.Gateway) conversation.MenuFunc {
	return func(ctx context.Context, ev conversation.Event) *conversation.Keyboard {
		rows := [][]string{
			{LabelProgram, LabelDonate},
			{LabelNetworking, LabelAsk},
			{LabelRegister, LabelSpeak},
		}
		p, err := gw.GetParticipantByTelegramID(ctx, ev.UserID)
		if err != nil {
			return &conversation.Keyboard{Reply: append(rows, []string{LabelSubscribe, LabelMyEvents})}
		}
		sub := LabelSubscribe
		if p.IsSubscribed {
			sub = LabelUnsubscribe
		}
		rows = append(rows, []string{sub, LabelMyEvents})
		var extra []string
		if p.IsSpeaker {
			extra = append(extra, LabelQuestions)
		}
		if p.IsEventManager {
			extra = append(extra, LabelMailing)
		}
		if len(extra) > 0 {
			rows = append(rows, extra)
		}
		return &conversation.Keyboard{Reply: rows}
	}
}

func menuActions(d Deps) []conversation.Action {
	gw := d.Gateway
	return []conversation.Action{
		{
			Name:         "start",
			Match:        []conversation.Pattern{conversation.OnCommand("start"), conversation.OnCommand("help")},
			ClearSession: true,
			Run: func(ctx context.Context, sc *conversation.Scope, _ conversation.Input) error {
				p, err := participant(ctx, gw, sc.Event)
				if err != nil {
					return err
				}
				name := defaultEventName
				if ev, err := gw.FindActiveEvent(ctx); err == nil {
					name = ev.Title
				} else if !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				return textReply(sc, fmt.Sprintf("✨ Hi, %s!\n\nI am the assistant bot of %s.\nChoose an action:", p.Name, name), sc.Menu(ctx))
			},
		},
		{
			Name:  "program",
			Match: []conversation.Pattern{conversation.OnLabel(LabelProgram), conversation.OnCommand("program")},
			Run: func(ctx context.Context, sc *conversation.Scope, _ conversation.Input) error {
				ev, err := gw.FindActiveEvent(ctx)
				if errors.Is(err, domain.ErrNotFound) {
					return textReply(sc, "📭 There are no active events right now.\nStay tuned for announcements!", nil)
				}
				if err != nil {
					return err
				}
				speakers, err := gw.ListEventSpeakers(ctx, ev.ID)
				if err != nil {
					return err
				}
				var b strings.Builder
				fmt.Fprintf(&b, "📜 %s\n", ev.Title)
				if !ev.Date.IsZero() {
					fmt.Fprintf(&b, "%s\n", ev.Date.Format("02.01.2006"))
				}
				if ev.Description != "" {
					fmt.Fprintf(&b, "\n%s\n", ev.Description)
				}
				if len(speakers) > 0 {
					b.WriteString("\nSpeakers:\n")
					for _, sp := range speakers {
						fmt.Fprintf(&b, "• %s %s\n", sp.Name, format.Handle(sp.Username))
					}
				}
				return textReply(sc, strings.TrimRight(b.String(), "\n"), nil)
			},
		},
		{
			Name:  "networking_menu",
			Match: []conversation.Pattern{conversation.OnLabel(LabelNetworking), conversation.OnCommand("networking")},
			Run: func(ctx context.Context, sc *conversation.Scope, _ conversation.Input) error {
				p, err := participant(ctx, gw, sc.Event)
				if err != nil {
					return err
				}
				text := "🙋 Meet other participants.\nFill in your profile so others can find you."
				fill := "✏️ Fill in profile"
				if p.ProfileComplete() {
					text = fmt.Sprintf("🙋 Your profile:\n%s\n%s", p.Name, p.Bio)
					fill = "✏️ Edit profile"
				}
				return textReply(sc, text, conversation.Inline(
					conversation.Btn(fill, "fill_profile"),
					conversation.Btn("👀 View profiles", "view_profiles"),
				))
			},
		},
		{
			Name:  "my_events",
			Match: []conversation.Pattern{conversation.OnLabel(LabelMyEvents), conversation.OnCommand("my_events")},
			Run: func(ctx context.Context, sc *conversation.Scope, _ conversation.Input) error {
				p, err := participant(ctx, gw, sc.Event)
				if err != nil {
					return err
				}
				regs, err := gw.ListRegistrations(ctx, p.ID)
				if err != nil {
					return err
				}
				if len(regs) == 0 {
					return textReply(sc, "You are not registered for any event yet.", nil)
				}
				var b strings.Builder
				b.WriteString("🗓 Your registrations:\n")
				buttons := make([]conversation.InlineButton, 0, len(regs))
				for _, r := range regs {
					fmt.Fprintf(&b, "• %s (%s)\n", r.EventTitle, r.Role)
					buttons = append(buttons, conversation.Btn("✖ "+r.EventTitle, fmt.Sprintf("my_event_%d", r.EventID)))
				}
				b.WriteString("\nTap an event to cancel the registration.")
				return textReply(sc, b.String(), conversation.Inline(buttons...))
			},
		},
		{
			Name:  "my_event_remove",
			Match: []conversation.Pattern{conversation.OnPrefix("my_event_")},
			Run: func(ctx context.Context, sc *conversation.Scope, in conversation.Input) error {
				eventID, err := parseID(in.Arg)
				if err != nil {
					return conversation.ErrStaleAction
				}
				p, err := participant(ctx, gw, sc.Event)
				if err != nil {
					return err
				}
				removed, err := gw.RemoveRegistration(ctx, p.ID, eventID)
				if err != nil {
					return err
				}
				if !removed {
					return conversation.ErrStaleAction
				}
				title := "the event"
				if ev, err := gw.GetEvent(ctx, eventID); err == nil {
					title = ev.Title
				}
				return textReply(sc, fmt.Sprintf("Your registration for %s is cancelled.", title), sc.Menu(ctx))
			},
		},
	}
}
