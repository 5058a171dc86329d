package flows

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/telegram/format"
	"github.com/m3rciful/meetupbot/core/telegram/state"
)

const (
	stepAwaitingName   = "awaiting_name"
	stepAwaitingBio    = "awaiting_bio"
	stepViewingProfile = "viewing_profile"

	maxNameLen = 100
	maxBioLen  = 500

	msgNoProfiles = "😔 No profiles available yet. Come back later!"
)

func networkingFlow(d Deps) conversation.Flow {
	gw := d.Gateway
	return conversation.Flow{
		Name: "networking",
		Triggers: []conversation.Trigger{
			conversation.Enter(conversation.OnButton("fill_profile")),
			conversation.Enter(conversation.OnCommand("profile")),
			conversation.EnterAt(conversation.OnButton("view_profiles"), stepViewingProfile),
			conversation.EnterAt(conversation.OnCommand("profiles"), stepViewingProfile),
		},
		Fields: map[string]state.Kind{"name": state.KindString},
		Steps: []conversation.Step{
			{
				Name: stepAwaitingName,
				Text: true,
				Prompt: func(_ context.Context, sc *conversation.Scope) error {
					sc.Reply("✏️ What is your name?", &conversation.Keyboard{Inline: [][]conversation.InlineButton{cancelRow()}})
					return nil
				},
				Handle: func(_ context.Context, sc *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					if in.Arg == "" || utf8.RuneCountInString(in.Arg) > maxNameLen {
						return conversation.Outcome{}, conversation.Invalid("Please send a name up to %d characters.", maxNameLen)
					}
					if err := sc.Set("name", state.String(in.Arg)); err != nil {
						return conversation.Outcome{}, err
					}
					return conversation.Next(stepAwaitingBio), nil
				},
			},
			{
				Name: stepAwaitingBio,
				Text: true,
				Prompt: func(_ context.Context, sc *conversation.Scope) error {
					sc.Reply("💼 Tell others briefly what you do:", &conversation.Keyboard{Inline: [][]conversation.InlineButton{cancelRow()}})
					return nil
				},
				Handle: func(_ context.Context, _ *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					if in.Arg == "" || utf8.RuneCountInString(in.Arg) > maxBioLen {
						return conversation.Outcome{}, conversation.Invalid("Please send a short description up to %d characters.", maxBioLen)
					}
					bio := in.Arg
					return conversation.Done(func(ctx context.Context, sc *conversation.Scope) error {
						p, err := participant(ctx, gw, sc.Event)
						if err != nil {
							return err
						}
						if _, err := gw.UpdateProfile(ctx, p.ID, sc.String("name"), bio); err != nil {
							return err
						}
						sc.Reply("✅ Your profile is saved.", conversation.Inline(conversation.Btn("👀 View profiles", "view_profiles")))
						return nil
					}), nil
				},
			},
			{
				Name: stepViewingProfile,
				Accept: []conversation.Pattern{
					conversation.OnButton("next_profile"),
					conversation.OnButton("view_profiles"),
					conversation.OnButton("request_contact"),
				},
				Prompt: func(ctx context.Context, sc *conversation.Scope) error {
					return showNextProfile(ctx, gw, sc)
				},
				Handle: func(ctx context.Context, sc *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					if in.Payload == "request_contact" {
						return conversation.Stay(), requestContact(ctx, d, sc)
					}
					if err := showNextProfile(ctx, gw, sc); err != nil {
						return conversation.Outcome{}, err
					}
					return conversation.Stay(), nil
				},
			},
		},
	}
}

// showNextProfile presents the first candidate not yet shown in this session.
// Once every candidate was shown the list starts over; an empty candidate set ends the flow.
func showNextProfile(ctx context.Context, gw domain.Gateway, sc *conversation.Scope) error {
	me, err := participant(ctx, gw, sc.Event)
	if err != nil {
		return err
	}
	candidates, err := gw.ListCandidateProfiles(ctx, me.ID)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return conversation.Abort(msgNoProfiles, nil)
	}
	seen := make(map[int64]struct{}, len(sc.Shown()))
	for _, id := range sc.Shown() {
		seen[id] = struct{}{}
	}
	next, ok := firstUnseen(candidates, seen)
	if !ok {
		sc.ResetShown()
		next = candidates[0]
	}
	sc.MarkShown(next.ID)
	sc.Reply(fmt.Sprintf("👤 %s\n\n%s", next.Name, next.Bio), conversation.Inline(
		conversation.Btn("🤝 Request contact", "request_contact"),
		conversation.Btn("➡️ Next profile", "next_profile"),
		conversation.Btn("✖ Done", "cancel"),
	))
	return nil
}

func firstUnseen(candidates []domain.Participant, seen map[int64]struct{}) (domain.Participant, bool) {
	for _, c := range candidates {
		if _, ok := seen[c.ID]; !ok {
			return c, true
		}
	}
	return domain.Participant{}, false
}

// requestContact records a connection request for the profile shown last and tells its owner.
func requestContact(ctx context.Context, d Deps, sc *conversation.Scope) error {
	shown := sc.Shown()
	if len(shown) == 0 {
		return conversation.Invalid("Open a profile first.")
	}
	target := shown[len(shown)-1]
	me, err := participant(ctx, d.Gateway, sc.Event)
	if err != nil {
		return err
	}
	to, err := d.Gateway.GetParticipant(ctx, target)
	if err != nil {
		return err
	}
	_, created, err := d.Gateway.CreateConnectionRequest(ctx, me.ID, to.ID)
	if err != nil {
		return err
	}
	next := conversation.Inline(conversation.Btn("➡️ Next profile", "next_profile"), conversation.Btn("✖ Done", "cancel"))
	if !created {
		sc.Reply(fmt.Sprintf("You have already asked %s for contact.", to.Name), next)
		return nil
	}
	text := fmt.Sprintf("🤝 %s would like to get in touch with you.", askerName(me))
	if me.Username != "" {
		text += "\nWrite to " + format.Handle(me.Username) + "."
	}
	if err := domain.Deliver(ctx, d.Messenger, to.TelegramID, text, nil); err != nil {
		sc.Reply(fmt.Sprintf("Your request is saved, but %s could not be notified right now.", to.Name), next)
		return nil
	}
	sc.Reply(fmt.Sprintf("✅ %s got your contact request.", to.Name), next)
	return nil
}
