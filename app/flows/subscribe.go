package flows

import (
	"context"

	"github.com/m3rciful/meetupbot/core/conversation"
)

// subscriptionFlow builds subscribe and unsubscribe. Buttons are <name>_confirm and <name>_cancel.
func subscriptionFlow(d Deps, name string, subscribe bool, label string) conversation.Flow {
	confirm, cancel := name+"_confirm", name+"_cancel"
	question := "🔔 Subscribe to event announcements and mailings?"
	if !subscribe {
		question = "🔕 Stop receiving announcements and mailings?"
	}
	return conversation.Flow{
		Name: name,
		Triggers: []conversation.Trigger{
			conversation.Enter(conversation.OnLabel(label)),
			conversation.Enter(conversation.OnCommand(name)),
		},
		Steps: []conversation.Step{
			{
				Name:   "confirming",
				Accept: []conversation.Pattern{conversation.OnButton(confirm), conversation.OnButton(cancel)},
				Prompt: func(_ context.Context, sc *conversation.Scope) error {
					sc.Reply(question, conversation.Inline(
						conversation.Btn("✅ Yes", confirm),
						conversation.Btn("✖ No", cancel),
					))
					return nil
				},
				Handle: func(_ context.Context, _ *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					if in.Payload == cancel {
						return conversation.Cancelled(), nil
					}
					return conversation.Done(func(ctx context.Context, sc *conversation.Scope) error {
						p, err := participant(ctx, d.Gateway, sc.Event)
						if err != nil {
							return err
						}
						changed, err := d.Gateway.ToggleSubscription(ctx, p.ID, subscribe)
						if err != nil {
							return err
						}
						var text string
						switch {
						case subscribe && changed:
							text = "✅ You are subscribed to announcements."
						case subscribe:
							text = "You are already subscribed."
						case changed:
							text = "You are unsubscribed. You can subscribe again at any time."
						default:
							text = "You were not subscribed."
						}
						sc.Reply(text, sc.Menu(ctx))
						return nil
					}), nil
				},
			},
		},
	}
}
