// Package flows defines the meetup conversations on top of the conversation engine.
package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/app/payment"
	"github.com/m3rciful/meetupbot/core/conversation"
)

// Broadcaster is the fan-out used by the mailing flow.
type Broadcaster interface {
	NotifySubscribers(ctx context.Context, text string) (int, error)
}

// Options holds the tunables of the flows.
type Options struct {
	DonationMin int64
	DonationMax int64
	// Amounts are offered as one-tap donation buttons.
	Amounts   []int64
	Currency  string
	ReturnURL string
}

// Deps are the collaborators the flows call.
type Deps struct {
	Gateway     domain.Gateway
	Payments    payment.Provider
	Messenger   domain.Messenger
	Broadcaster Broadcaster
	Options     Options
}

func (o Options) withDefaults() Options {
	if o.DonationMin <= 0 {
		o.DonationMin = 10
	}
	if o.DonationMax <= 0 {
		o.DonationMax = 15000
	}
	if len(o.Amounts) == 0 {
		o.Amounts = []int64{100, 300, 500}
	}
	if o.Currency == "" {
		o.Currency = "RUB"
	}
	return o
}

// Build assembles the immutable registry of every flow and action.
func Build(d Deps) (*conversation.Registry, error) {
	if d.Gateway == nil || d.Payments == nil || d.Messenger == nil || d.Broadcaster == nil {
		return nil, fmt.Errorf("flows: incomplete dependencies")
	}
	d.Options = d.Options.withDefaults()
	b := conversation.NewBuilder().
		Menu(menuFor(d.Gateway)).
		ErrorText(errorText).
		Messages(conversation.Messages{
			Menu:    "Main menu",
			Stale:   "This action is no longer available.",
			Denied:  "Sorry, you are not allowed to do that.",
			Failure: "Something went wrong. Please try again later.",
		})

	b.Flow(donateFlow(d)).
		Flow(askSpeakerFlow(d)).
		Flow(registerFlow(d, "register_speaker", domain.RoleSpeaker, LabelSpeak, "speak")).
		Flow(registerFlow(d, "register_participant", domain.RoleParticipant, LabelRegister, "register")).
		Flow(subscriptionFlow(d, "subscribe", true, LabelSubscribe)).
		Flow(subscriptionFlow(d, "unsubscribe", false, LabelUnsubscribe)).
		Flow(mailingFlow(d)).
		Flow(networkingFlow(d))

	for _, a := range menuActions(d) {
		b.Action(a)
	}
	for _, a := range questionActions(d) {
		b.Action(a)
	}
	return b.Build()
}

// participant resolves the acting user, creating the record on first contact.
func participant(ctx context.Context, gw domain.Gateway, ev conversation.Event) (domain.Participant, error) {
	p, _, err := gw.GetOrCreateParticipant(ctx, ev.UserID, domain.ParticipantDefaults{
		Username: ev.Username,
		Name:     ev.FirstName,
	})
	if err != nil {
		return domain.Participant{}, fmt.Errorf("participant %d: %w", ev.UserID, err)
	}
	return p, nil
}

func errorText(err error) string {
	var perr *payment.ProviderError
	var derr *domain.DeliveryError
	switch {
	case errors.As(err, &perr):
		return "❌ Could not create the payment. Please try again later."
	case errors.As(err, &derr):
		return "❌ The message could not be delivered. Please try again later."
	case errors.Is(err, domain.ErrNotFound):
		return "Nothing found for that request."
	}
	return ""
}

func textReply(sc *conversation.Scope, text string, kb *conversation.Keyboard) error {
	sc.Reply(text, kb)
	return nil
}

// cancelRow is appended to inline keyboards inside a flow.
func cancelRow() []conversation.InlineButton {
	return []conversation.InlineButton{conversation.Btn("✖ Cancel", "cancel")}
}

// Commands are the entries of the bot's command menu.
var Commands = map[string]string{
	"start":      "Main menu",
	"program":    "Event program",
	"donate":     "Support the meetup",
	"ask":        "Ask a speaker a question",
	"register":   "Register for an event",
	"speak":      "Apply as a speaker",
	"my_events":  "My registrations",
	"networking": "Meet other participants",
	"profile":    "Fill in your profile",
	"profiles":   "Browse profiles",
	"subscribe":  "Subscribe to announcements",
	"cancel":     "Cancel the current action",
}
