package flows

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/telegram/state"
)

const (
	stepMailingText    = "awaiting_message_text"
	stepConfirmMailing = "confirming_mailing"

	maxMailingLen = 4000
)

func mailingFlow(d Deps) conversation.Flow {
	return conversation.Flow{
		Name: "mailing",
		Triggers: []conversation.Trigger{
			conversation.Enter(conversation.OnLabel(LabelMailing)),
			conversation.Enter(conversation.OnCommand("mailing")),
		},
		Fields: map[string]state.Kind{"text": state.KindString},
		Guard: func(ctx context.Context, ev conversation.Event) error {
			p, err := d.Gateway.GetParticipantByTelegramID(ctx, ev.UserID)
			if errors.Is(err, domain.ErrNotFound) {
				return conversation.Deny(ev.UserID, "send mailings")
			}
			if err != nil {
				return err
			}
			if !p.IsEventManager {
				return conversation.Deny(ev.UserID, "send mailings")
			}
			return nil
		},
		Steps: []conversation.Step{
			{
				Name: stepMailingText,
				Text: true,
				Prompt: func(_ context.Context, sc *conversation.Scope) error {
					sc.Reply("📢 Write the message for all subscribers:",
						&conversation.Keyboard{Inline: [][]conversation.InlineButton{cancelRow()}})
					return nil
				},
				Handle: func(_ context.Context, sc *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					if in.Arg == "" {
						return conversation.Outcome{}, conversation.Invalid("The message cannot be empty.")
					}
					if utf8.RuneCountInString(in.Arg) > maxMailingLen {
						return conversation.Outcome{}, conversation.Invalid("The message is too long, keep it under %d characters.", maxMailingLen)
					}
					if err := sc.Set("text", state.String(in.Arg)); err != nil {
						return conversation.Outcome{}, err
					}
					return conversation.Next(stepConfirmMailing), nil
				},
			},
			{
				Name:   stepConfirmMailing,
				Accept: []conversation.Pattern{conversation.OnButton("mailing_confirm"), conversation.OnButton("mailing_cancel")},
				Prompt: func(_ context.Context, sc *conversation.Scope) error {
					sc.Reply("Send this message to all subscribers?\n\n"+sc.String("text"), conversation.Inline(
						conversation.Btn("✅ Send", "mailing_confirm"),
						conversation.Btn("✖ Cancel", "mailing_cancel"),
					))
					return nil
				},
				Handle: func(_ context.Context, _ *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					if in.Payload == "mailing_cancel" {
						return conversation.Cancelled(), nil
					}
					return conversation.Done(func(ctx context.Context, sc *conversation.Scope) error {
						sent, err := d.Broadcaster.NotifySubscribers(ctx, sc.String("text"))
						if err != nil {
							return err
						}
						sc.Reply(fmt.Sprintf("📬 The message was delivered to %d subscribers.", sent), sc.Menu(ctx))
						return nil
					}), nil
				},
			},
		},
	}
}
