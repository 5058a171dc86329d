package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/logger"
	"github.com/m3rciful/meetupbot/core/telegram/format"
)

func questionActions(d Deps) []conversation.Action {
	gw := d.Gateway
	return []conversation.Action{
		{
			Name:  "answer",
			Match: []conversation.Pattern{conversation.OnPrefix("answer_")},
			Run: func(ctx context.Context, sc *conversation.Scope, in conversation.Input) error {
				id, err := parseID(in.Arg)
				if err != nil {
					return conversation.ErrStaleAction
				}
				q, err := gw.GetQuestion(ctx, id)
				if errors.Is(err, domain.ErrNotFound) {
					return conversation.ErrStaleAction
				}
				if err != nil {
					return err
				}
				// only the addressed speaker may close a question
				sp, err := gw.GetSpeaker(ctx, q.SpeakerID)
				if errors.Is(err, domain.ErrNotFound) {
					return conversation.ErrStaleAction
				}
				if err != nil {
					return err
				}
				if sp.TelegramID == 0 || sp.TelegramID != sc.UserID() {
					return conversation.Deny(sc.UserID(), "answer this question")
				}
				changed, err := gw.MarkQuestionAnswered(ctx, q.ID)
				if err != nil {
					return err
				}
				if !changed {
					sc.Reply("This question is already marked as answered.", nil)
					return nil
				}
				sc.Reply("✅ Marked as answered.", nil)
				notifyAsker(ctx, d, q, sp)
				return nil
			},
		},
		{
			Name:  "questions",
			Match: []conversation.Pattern{conversation.OnLabel(LabelQuestions), conversation.OnCommand("questions")},
			Run: func(ctx context.Context, sc *conversation.Scope, _ conversation.Input) error {
				sp, err := gw.GetSpeakerByTelegramID(ctx, sc.UserID())
				if errors.Is(err, domain.ErrNotFound) {
					return conversation.Deny(sc.UserID(), "list speaker questions")
				}
				if err != nil {
					return err
				}
				open, err := gw.ListUnansweredQuestions(ctx, sp.ID)
				if err != nil {
					return err
				}
				if len(open) == 0 {
					sc.Reply("🎉 You have no unanswered questions.", nil)
					return nil
				}
				for _, q := range open {
					sc.Reply(fmt.Sprintf("❓ #%d\n\n%s", q.ID, strings.TrimSpace(q.Text)),
						conversation.Inline(conversation.Btn("✅ Answered", fmt.Sprintf("answer_%d", q.ID))))
				}
				return nil
			},
		},
	}
}

// notifyAsker is best effort; the answer toggle already succeeded.
func notifyAsker(ctx context.Context, d Deps, q domain.Question, sp domain.Speaker) {
	asker, err := d.Gateway.GetParticipant(ctx, q.ParticipantID)
	if err != nil || asker.TelegramID == 0 {
		return
	}
	text := fmt.Sprintf("💬 %s answered your question:\n\n%s", sp.Name, format.Truncate(q.Text, 300))
	if err := domain.Deliver(ctx, d.Messenger, asker.TelegramID, text, nil); err != nil {
		logger.LogEvent(ctx, logger.Flow, slog.LevelWarn, "question.notify",
			slog.Int64("question_id", q.ID),
			slog.String("err", err.Error()),
		)
	}
}
