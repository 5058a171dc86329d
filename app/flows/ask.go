package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/logger"
	"github.com/m3rciful/meetupbot/core/telegram/format"
	"github.com/m3rciful/meetupbot/core/telegram/state"
)

const (
	stepSelectingSpeaker = "selecting_speaker"
	stepQuestionText     = "awaiting_question_text"
	stepConfirmQuestion  = "confirming_question"

	maxQuestionLen = 1000
)

var handleRe = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

func askSpeakerFlow(d Deps) conversation.Flow {
	return conversation.Flow{
		Name: "ask_speaker",
		Triggers: []conversation.Trigger{
			conversation.Enter(conversation.OnLabel(LabelAsk)),
			conversation.Enter(conversation.OnCommand("ask")),
			conversation.Shortcut(conversation.OnPrefix("ask_")),
		},
		Fields: map[string]state.Kind{
			"handle": state.KindString,
			"text":   state.KindString,
		},
		Steps: []conversation.Step{
			{
				Name:   stepSelectingSpeaker,
				Accept: []conversation.Pattern{conversation.OnPrefix("ask_")},
				Text:   true,
				Prompt: func(ctx context.Context, sc *conversation.Scope) error {
					return promptSpeakers(ctx, d.Gateway, sc)
				},
				Handle: func(_ context.Context, sc *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					h := domain.NormalizeHandle(in.Arg)
					if !handleRe.MatchString(h) {
						return conversation.Outcome{}, conversation.Invalid("Send the speaker's Telegram handle, for example @alice.")
					}
					if err := sc.Set("handle", state.String(h)); err != nil {
						return conversation.Outcome{}, err
					}
					return conversation.Next(stepQuestionText), nil
				},
			},
			{
				Name: stepQuestionText,
				Text: true,
				Prompt: func(_ context.Context, sc *conversation.Scope) error {
					sc.Reply(fmt.Sprintf("✍️ Write your question for @%s:", sc.String("handle")),
						&conversation.Keyboard{Inline: [][]conversation.InlineButton{cancelRow()}})
					return nil
				},
				Handle: func(_ context.Context, sc *conversation.Scope, in conversation.Input) (conversation.Outcome, error) {
					if in.Arg == "" {
						return conversation.Outcome{}, conversation.Invalid("The question cannot be empty.")
					}
					if utf8.RuneCountInString(in.Arg) > maxQuestionLen {
						return conversation.Outcome{}, conversation.Invalid("The question is too long, keep it under %d characters.", maxQuestionLen)
					}
					if err := sc.Set("text", state.String(in.Arg)); err != nil {
						return conversation.Outcome{}, err
					}
					return conversation.Next(stepConfirmQuestion), nil
				},
			},
			{
				Name:   stepConfirmQuestion,
				Accept: []conversation.Pattern{conversation.OnButton("confirm")},
				Prompt: func(_ context.Context, sc *conversation.Scope) error {
					sc.Reply(fmt.Sprintf("Send this question to @%s?\n\n%s", sc.String("handle"), sc.String("text")),
						conversation.Inline(
							conversation.Btn("✅ Send", "confirm"),
							conversation.Btn("✖ Cancel", "cancel"),
						))
					return nil
				},
				Handle: func(context.Context, *conversation.Scope, conversation.Input) (conversation.Outcome, error) {
					return conversation.Done(routeQuestion(d)), nil
				},
			},
		},
	}
}

func promptSpeakers(ctx context.Context, gw domain.Gateway, sc *conversation.Scope) error {
	ev, err := gw.FindActiveEvent(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	var buttons []conversation.InlineButton
	if err == nil {
		speakers, err := gw.ListEventSpeakers(ctx, ev.ID)
		if err != nil {
			return err
		}
		for _, sp := range speakers {
			if sp.Username == "" {
				continue
			}
			buttons = append(buttons, conversation.Btn(format.Truncate(sp.Name+" "+format.Handle(sp.Username), 48), "ask_"+sp.Username))
		}
	}
	if len(buttons) == 0 {
		sc.Reply("📋 Send the speaker's Telegram handle, for example @alice.",
			&conversation.Keyboard{Inline: [][]conversation.InlineButton{cancelRow()}})
		return nil
	}
	buttons = append(buttons, conversation.Btn("✖ Cancel", "cancel"))
	sc.Reply("📋 Choose a speaker or send their Telegram handle:", conversation.Inline(buttons...))
	return nil
}

// routeQuestion stores the question and forwards it to the speaker with an answer button.
func routeQuestion(d Deps) conversation.Effect {
	return func(ctx context.Context, sc *conversation.Scope) error {
		handle, text := sc.String("handle"), sc.String("text")
		ev, err := d.Gateway.FindActiveEvent(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return conversation.Abort("🙅 There are no active events, questions are closed.", err)
		}
		if err != nil {
			return err
		}
		sp, err := d.Gateway.FindSpeakerByHandle(ctx, handle)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return conversation.Abort(fmt.Sprintf("Speaker @%s was not found.", handle), err)
		case errors.Is(err, domain.ErrAmbiguous):
			return conversation.Abort(fmt.Sprintf("Several speakers use the handle @%s. Please ask the organizers.", handle), err)
		case err != nil:
			return err
		}
		p, err := participant(ctx, d.Gateway, sc.Event)
		if err != nil {
			return err
		}
		q, err := d.Gateway.CreateQuestion(ctx, domain.Question{
			EventID:       ev.ID,
			SpeakerID:     sp.ID,
			ParticipantID: p.ID,
			Text:          text,
		})
		if err != nil {
			return err
		}

		if sp.TelegramID == 0 {
			sc.Reply(fmt.Sprintf("✅ Your question is saved. %s will see it once they open the bot.", format.Handle(sp.Username)), sc.Menu(ctx))
			return nil
		}
		body := fmt.Sprintf("❓ New question from %s:\n\n%s", askerName(p), strings.TrimSpace(text))
		kb := conversation.Inline(conversation.Btn("✅ Answered", fmt.Sprintf("answer_%d", q.ID)))
		if err := domain.Deliver(ctx, d.Messenger, sp.TelegramID, body, kb); err != nil {
			logger.LogEvent(ctx, logger.Flow, slog.LevelWarn, "question.deliver",
				slog.Int64("question_id", q.ID),
				slog.String("err", err.Error()),
			)
			sc.Reply("⚠️ Your question is saved, but the speaker could not be reached right now.", sc.Menu(ctx))
			return nil
		}
		sc.Reply(fmt.Sprintf("✅ Your question was sent to %s.", format.Handle(sp.Username)), sc.Menu(ctx))
		return nil
	}
}

func askerName(p domain.Participant) string {
	if p.Username != "" {
		return fmt.Sprintf("%s (%s)", p.Name, format.Handle(p.Username))
	}
	return p.Name
}
