package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/telegram/state"
)

const (
	stepSelectingEvent      = "selecting_event"
	stepConfirmRegistration = "confirming_registration"
	msgNoEventsOpen         = "📭 There are no events open for registration right now."
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// registerFlow builds register_speaker and register_participant, which differ only in role.
func registerFlow(d Deps, name string, role domain.Role, label, command string) conversation.Flow {
	gw := d.Gateway
	return conversation.Flow{
		Name: name,
		Triggers: []conversation.Trigger{
			conversation.Enter(conversation.OnLabel(label)),
			conversation.Enter(conversation.OnCommand(command)),
		},
		Fields: map[string]state.Kind{"event": state.KindRef},
		Steps: []conversation.Step{
			{
				Name:   stepSelectingEvent,
				Accept: []conversation.Pattern{conversation.OnPrefix("event_")},
				Prompt: func(ctx context.Context, sc *conversation.Scope) error {
					events, err := gw.ListActiveEvents(ctx)
					if err != nil {
						return err
					}
					if len(events) == 0 {
						return conversation.Abort(msgNoEventsOpen, nil)
					}
					buttons := make([]conversation.InlineButton, 0, len(events)+1)
					for _, ev := range events {
						buttons = append(buttons, conversation.Btn(eventLabel(ev), fmt.Sprintf("event_%d", ev.ID)))
					}
					buttons = append(buttons, conversation.Btn("✖ Cancel", "cancel"))
					prompt := "📝 Choose the event to register for:"
					if role == domain.RoleSpeaker {
						prompt = "🎤 Choose the event you want to speak at:"
					}
					sc.Reply(prompt, conversation.Inline(buttons...))
					return nil
				},
				Handle: func(ctx context.Context, sc *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					id, err := parseID(in.Arg)
					if err != nil {
						return conversation.Outcome{}, conversation.Invalid("Please choose an event from the list.")
					}
					ev, err := gw.GetEvent(ctx, id)
					if errors.Is(err, domain.ErrNotFound) || (err == nil && !ev.IsActive) {
						return conversation.Outcome{}, conversation.Invalid("That event is not open for registration.")
					}
					if err != nil {
						return conversation.Outcome{}, err
					}
					if err := sc.Set("event", state.Ref(ev.ID)); err != nil {
						return conversation.Outcome{}, err
					}
					return conversation.Next(stepConfirmRegistration), nil
				},
			},
			{
				Name:   stepConfirmRegistration,
				Accept: []conversation.Pattern{conversation.OnButton("confirm")},
				Prompt: func(ctx context.Context, sc *conversation.Scope) error {
					ev, err := gw.GetEvent(ctx, sc.Ref("event"))
					if err != nil {
						return err
					}
					sc.Reply(fmt.Sprintf("Register for %s as %s?", eventLabel(ev), role),
						conversation.Inline(
							conversation.Btn("✅ Confirm", "confirm"),
							conversation.Btn("✖ Cancel", "cancel"),
						))
					return nil
				},
				Handle: func(context.Context, *conversation.Scope, conversation.Input) (conversation.Outcome, error) {
					return conversation.Done(upsertRegistration(d, role)), nil
				},
			},
		},
	}
}

func upsertRegistration(d Deps, role domain.Role) conversation.Effect {
	return func(ctx context.Context, sc *conversation.Scope) error {
		eventID := sc.Ref("event")
		ev, err := d.Gateway.GetEvent(ctx, eventID)
		if errors.Is(err, domain.ErrNotFound) {
			return conversation.Abort("That event no longer exists.", err)
		}
		if err != nil {
			return err
		}
		p, err := participant(ctx, d.Gateway, sc.Event)
		if err != nil {
			return err
		}
		added, err := d.Gateway.AddRegistration(ctx, domain.Registration{
			ParticipantID: p.ID,
			EventID:       ev.ID,
			Role:          role,
		})
		if err != nil {
			return err
		}
		if !added {
			sc.Reply(fmt.Sprintf("You are already registered for %s.", ev.Title), sc.Menu(ctx))
			return nil
		}
		sc.Reply(fmt.Sprintf("✅ You are registered for %s as %s.", ev.Title, role), sc.Menu(ctx))
		return nil
	}
}

func eventLabel(ev domain.Event) string {
	if ev.Date.IsZero() {
		return ev.Title
	}
	return fmt.Sprintf("%s (%s)", ev.Title, ev.Date.Format("02.01.2006"))
}
