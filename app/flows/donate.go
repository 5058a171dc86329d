package flows

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/app/payment"
	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/telegram/state"
)

const (
	stepChoosingAmount = "choosing_amount"
	stepCustomAmount   = "awaiting_custom_amount"

	msgNoActiveEvents = "🙅 There are no active events right now.\nDonations are temporarily unavailable."
)

func donateFlow(d Deps) conversation.Flow {
	opts := d.Options
	inRange := func(n int64) bool { return n >= opts.DonationMin && n <= opts.DonationMax }
	setAmount := func(sc *conversation.Scope, n int64) (conversation.Outcome, error) {
		if err := sc.Set("amount", state.Int(n)); err != nil {
			return conversation.Outcome{}, err
		}
		return conversation.Done(createPayment(d)), nil
	}

	return conversation.Flow{
		Name: "donate",
		Triggers: []conversation.Trigger{
			conversation.Enter(conversation.OnLabel(LabelDonate)),
			conversation.Enter(conversation.OnCommand("donate")),
			conversation.Shortcut(conversation.OnPrefix("donate_")),
		},
		Fields: map[string]state.Kind{"amount": state.KindInt},
		Steps: []conversation.Step{
			{
				Name:   stepChoosingAmount,
				Accept: []conversation.Pattern{conversation.OnPrefix("donate_")},
				Prompt: func(ctx context.Context, sc *conversation.Scope) error {
					if _, err := d.Gateway.FindActiveEvent(ctx); err != nil {
						if errors.Is(err, domain.ErrNotFound) {
							return conversation.Abort(msgNoActiveEvents, nil)
						}
						return err
					}
					rows := make([][]conversation.InlineButton, 0, len(opts.Amounts)+2)
					for _, a := range opts.Amounts {
						rows = append(rows, []conversation.InlineButton{
							conversation.Btn(fmt.Sprintf("💵 %d ₽", a), fmt.Sprintf("donate_%d", a)),
						})
					}
					rows = append(rows,
						[]conversation.InlineButton{conversation.Btn("✨ Other amount", "donate_custom")},
						cancelRow(),
					)
					sc.Reply("🎁 Choose the donation amount.\nYour support helps the community grow!",
						&conversation.Keyboard{Inline: rows})
					return nil
				},
				Handle: func(_ context.Context, sc *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					if in.Arg == "custom" {
						return conversation.Next(stepCustomAmount), nil
					}
					n, err := strconv.ParseInt(in.Arg, 10, 64)
					if err != nil || !inRange(n) {
						return conversation.Outcome{}, conversation.Invalid("Please pick one of the offered amounts.")
					}
					return setAmount(sc, n)
				},
			},
			{
				Name: stepCustomAmount,
				Text: true,
				Prompt: func(_ context.Context, sc *conversation.Scope) error {
					sc.Reply(fmt.Sprintf("💫 Enter the donation amount in rubles\n(from %d to %d):", opts.DonationMin, opts.DonationMax), nil)
					return nil
				},
				Handle: func(_ context.Context, sc *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					n, err := strconv.ParseInt(in.Arg, 10, 64)
					if err != nil {
						return conversation.Outcome{}, conversation.Invalid("🔢 Please enter a number, for example 250 or 1000.")
					}
					if !inRange(n) {
						return conversation.Outcome{}, conversation.Invalid("⚠️ The amount must be between %d and %d ₽.", opts.DonationMin, opts.DonationMax)
					}
					return setAmount(sc, n)
				},
			},
		},
	}
}

// createPayment asks the provider for a payment, records the donation and
// only then shows the link.
func createPayment(d Deps) conversation.Effect {
	return func(ctx context.Context, sc *conversation.Scope) error {
		amount := sc.Int("amount")
		ev, err := d.Gateway.FindActiveEvent(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return conversation.Abort(msgNoActiveEvents, err)
		}
		if err != nil {
			return err
		}
		p, err := participant(ctx, d.Gateway, sc.Event)
		if err != nil {
			return err
		}
		pay, err := d.Payments.CreatePayment(ctx, payment.Request{
			Amount:      amount,
			Currency:    d.Options.Currency,
			Description: "Donation to " + ev.Title,
			ReturnURL:   d.Options.ReturnURL,
			Metadata: map[string]string{
				"user_id":  strconv.FormatInt(sc.UserID(), 10),
				"event_id": strconv.FormatInt(ev.ID, 10),
			},
		})
		if err != nil {
			return err
		}
		if _, err := d.Gateway.CreateDonation(ctx, domain.Donation{
			EventID:       ev.ID,
			ParticipantID: p.ID,
			Amount:        amount,
			PaymentID:     pay.ID,
		}); err != nil {
			return fmt.Errorf("record donation %s: %w", pay.ID, err)
		}
		sc.Reply(fmt.Sprintf("Payment of %d ₽\nTap the button below:", amount),
			conversation.Inline(conversation.Link("💳 Go to payment", pay.RedirectURL)))
		sc.Reply(fmt.Sprintf("✨ Thank you for supporting %s, %s!", ev.Title, p.Name), sc.Menu(ctx))
		return nil
	}
}
