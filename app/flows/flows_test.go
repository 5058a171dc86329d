package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/meetupbot/app/domain"
	"github.com/m3rciful/meetupbot/app/notify"
	"github.com/m3rciful/meetupbot/app/payment"
	"github.com/m3rciful/meetupbot/app/store/memory"
	"github.com/m3rciful/meetupbot/core/conversation"
	"github.com/m3rciful/meetupbot/core/telegram/state"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeProvider) CreatePayment(_ context.Context, req payment.Request) (payment.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return payment.Payment{}, f.err
	}
	id := fmt.Sprintf("pay-%d", f.calls)
	return payment.Payment{ID: id, Status: payment.StatusPending, RedirectURL: "https://pay.example/" + id}, nil
}

func (f *fakeProvider) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	return payment.Payment{ID: id, Status: payment.StatusSucceeded}, nil
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sent struct {
	chatID int64
	text   string
	kb     *conversation.Keyboard
}

type fakeMessenger struct {
	mu   sync.Mutex
	out  []sent
	fail bool
}

func (f *fakeMessenger) Send(_ context.Context, chatID int64, text string, kb *conversation.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("bot was blocked by the user")
	}
	f.out = append(f.out, sent{chatID: chatID, text: text, kb: kb})
	return nil
}

func (f *fakeMessenger) to(chatID int64) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.out {
		if s.chatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

type env struct {
	gw       *memory.Store
	pay      *fakeProvider
	msg      *fakeMessenger
	sessions state.Store
	d        *conversation.Dispatcher
}

var eventSeq atomic.Int64

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		gw:       memory.New(),
		pay:      &fakeProvider{},
		msg:      &fakeMessenger{},
		sessions: state.NewMemoryStore(time.Hour),
	}
	reg, err := Build(Deps{
		Gateway:     e.gw,
		Payments:    e.pay,
		Messenger:   e.msg,
		Broadcaster: notify.New(e.gw, e.msg, notify.Options{Workers: 2, Timeout: time.Second}),
		Options:     Options{ReturnURL: "https://t.me/meetupbot"},
	})
	require.NoError(t, err)
	e.d = conversation.NewDispatcher(reg, e.sessions, conversation.DispatcherOptions{DedupWindow: time.Minute})
	return e
}

func (e *env) sendID(id string, user int64, kind conversation.Kind, payload string) []conversation.Reply {
	return e.d.Handle(context.Background(), conversation.Event{
		ID:        id,
		UserID:    user,
		ChatID:    user,
		Kind:      kind,
		Payload:   payload,
		FirstName: fmt.Sprintf("user%d", user),
	})
}

func (e *env) send(user int64, kind conversation.Kind, payload string) []conversation.Reply {
	return e.sendID(fmt.Sprintf("u%d", eventSeq.Add(1)), user, kind, payload)
}

func (e *env) button(user int64, payload string) []conversation.Reply {
	return e.send(user, conversation.KindButton, payload)
}

func (e *env) text(user int64, payload string) []conversation.Reply {
	return e.send(user, conversation.KindText, payload)
}

func (e *env) command(user int64, name string) []conversation.Reply {
	return e.send(user, conversation.KindCommand, name)
}

func (e *env) session(t *testing.T, user int64) *state.Session {
	t.Helper()
	s, ok, err := e.sessions.Get(context.Background(), user)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	return s
}

func (e *env) activeEvent(t *testing.T) domain.Event {
	t.Helper()
	ev, err := e.gw.CreateEvent(context.Background(), domain.Event{
		Title:    "Go meetup",
		Date:     time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC),
		IsActive: true,
	})
	require.NoError(t, err)
	return ev
}

func joined(replies []conversation.Reply) string {
	parts := make([]string, 0, len(replies))
	for _, r := range replies {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n")
}

func linkIn(replies []conversation.Reply) string {
	for _, r := range replies {
		if r.Keyboard == nil {
			continue
		}
		for _, row := range r.Keyboard.Inline {
			for _, b := range row {
				if b.URL != "" {
					return b.URL
				}
			}
		}
	}
	return ""
}

func TestDonateWithoutActiveEvent(t *testing.T) {
	e := newEnv(t)
	replies := e.button(1, "donate_100")
	require.Contains(t, joined(replies), "no active events")
	require.Empty(t, e.gw.Donations())
	require.Zero(t, e.pay.count())
	require.Nil(t, e.session(t, 1))
}

func TestDonateCreatesDonationBeforeLink(t *testing.T) {
	e := newEnv(t)
	ev := e.activeEvent(t)

	replies := e.button(1, "donate_100")
	require.Equal(t, "https://pay.example/pay-1", linkIn(replies))

	donations := e.gw.Donations()
	require.Len(t, donations, 1)
	require.Equal(t, int64(100), donations[0].Amount)
	require.Equal(t, ev.ID, donations[0].EventID)
	require.Equal(t, "pay-1", donations[0].PaymentID)
	require.False(t, donations[0].IsConfirmed)

	p, err := e.gw.GetParticipantByTelegramID(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, p.ID, donations[0].ParticipantID)
	require.Nil(t, e.session(t, 1))
}

func TestCustomAmountBounds(t *testing.T) {
	e := newEnv(t)
	e.activeEvent(t)

	for _, bad := range []string{"9", "15001", "0", "-5", "abc", ""} {
		e.text(1, LabelDonate)
		e.button(1, "donate_custom")
		e.text(1, bad)
		s := e.session(t, 1)
		require.NotNil(t, s, "input %q", bad)
		require.Equal(t, stepCustomAmount, s.Step, "input %q", bad)
		require.Zero(t, e.pay.count(), "input %q", bad)
		e.command(1, "cancel")
	}

	for i, good := range []string{"10", "777", "15000"} {
		e.text(1, LabelDonate)
		e.button(1, "donate_custom")
		replies := e.text(1, good)
		require.NotEmpty(t, linkIn(replies), "input %q", good)
		require.Equal(t, i+1, e.pay.count())
		require.Nil(t, e.session(t, 1))
	}
	require.Len(t, e.gw.Donations(), 3)
}

func TestPaymentFailureLeavesNoDonation(t *testing.T) {
	e := newEnv(t)
	e.activeEvent(t)
	e.pay.err = &payment.ProviderError{Op: "create", Status: 500}

	replies := e.button(1, "donate_300")
	require.Contains(t, joined(replies), "Could not create the payment")
	require.Empty(t, e.gw.Donations())
	require.Nil(t, e.session(t, 1))
}

func TestReplayedDonationCreatesOneRecord(t *testing.T) {
	e := newEnv(t)
	e.activeEvent(t)

	e.sendID("tg-1", 1, conversation.KindButton, "donate_500")
	require.Nil(t, e.sendID("tg-1", 1, conversation.KindButton, "donate_500"))
	require.Len(t, e.gw.Donations(), 1)
	require.Equal(t, 1, e.pay.count())
}

func TestAmbiguousSpeakerCreatesNoQuestion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.activeEvent(t)
	_, _ = e.gw.AddSpeaker(ctx, domain.Speaker{Name: "Alice", Username: "alice"})
	_, _ = e.gw.AddSpeaker(ctx, domain.Speaker{Name: "Alice B", Username: "alice"})

	e.text(1, LabelAsk)
	e.text(1, "@alice")
	e.text(1, "What about generics?")
	require.Equal(t, stepConfirmQuestion, e.session(t, 1).Step)

	replies := e.button(1, "confirm")
	require.Contains(t, joined(replies), "Several speakers")
	require.Nil(t, e.session(t, 1))
	require.Empty(t, e.gw.Questions())
}

func TestQuestionRoutedAndAnswered(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.activeEvent(t)
	_, err := e.gw.AddSpeaker(ctx, domain.Speaker{Name: "Ann", Username: "ann"}, ev.ID)
	require.NoError(t, err)
	// the speaker opened the bot, which links the Telegram id
	_, _, err = e.gw.GetOrCreateParticipant(ctx, 900, domain.ParticipantDefaults{Username: "ann", Name: "Ann"})
	require.NoError(t, err)

	e.button(1, "ask_ann")
	require.Equal(t, stepQuestionText, e.session(t, 1).Step)
	e.text(1, "How do you test flows?")
	e.sendID("confirm-1", 1, conversation.KindButton, "confirm")
	e.sendID("confirm-1", 1, conversation.KindButton, "confirm")

	questions := e.gw.Questions()
	require.Len(t, questions, 1)
	delivered := e.msg.to(900)
	require.Len(t, delivered, 1)
	require.Contains(t, delivered[0].text, "How do you test flows?")
	answer := fmt.Sprintf("answer_%d", questions[0].ID)
	require.Equal(t, answer, delivered[0].kb.Inline[0][0].Payload)

	// someone else cannot close it
	replies := e.button(2, answer)
	require.Contains(t, joined(replies), "not allowed")

	replies = e.button(900, answer)
	require.Contains(t, joined(replies), "Marked as answered")
	replies = e.button(900, answer)
	require.Contains(t, joined(replies), "already marked")
	require.Len(t, e.msg.to(1), 1)
}

func TestSpeakerAddedAfterOpeningBotGetsQuestions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.activeEvent(t)
	_, _, err := e.gw.GetOrCreateParticipant(ctx, 900, domain.ParticipantDefaults{Username: "@ann", Name: "Ann"})
	require.NoError(t, err)
	_, err = e.gw.AddSpeaker(ctx, domain.Speaker{Name: "Ann", Username: "ann"}, ev.ID)
	require.NoError(t, err)

	e.button(1, "ask_ann")
	e.text(1, "Is the talk recorded?")
	replies := e.button(1, "confirm")
	require.NotContains(t, joined(replies), "once they open the bot")
	require.Len(t, e.msg.to(900), 1)

	replies = e.command(900, "questions")
	require.Contains(t, joined(replies), "Is the talk recorded?")
	answer := fmt.Sprintf("answer_%d", e.gw.Questions()[0].ID)
	replies = e.button(900, answer)
	require.Contains(t, joined(replies), "Marked as answered")
}

func TestAnswerCheckedAgainstQuestionSpeaker(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := e.activeEvent(t)
	first, err := e.gw.AddSpeaker(ctx, domain.Speaker{Name: "Bob", Username: "bob", TelegramID: 77}, ev.ID)
	require.NoError(t, err)
	second, err := e.gw.AddSpeaker(ctx, domain.Speaker{Name: "Bob", Username: "bob", TelegramID: 77}, ev.ID)
	require.NoError(t, err)
	p, _, err := e.gw.GetOrCreateParticipant(ctx, 1, domain.ParticipantDefaults{Name: "Asker"})
	require.NoError(t, err)

	for _, sp := range []domain.Speaker{first, second} {
		q, err := e.gw.CreateQuestion(ctx, domain.Question{EventID: ev.ID, SpeakerID: sp.ID, ParticipantID: p.ID, Text: "hi"})
		require.NoError(t, err)
		replies := e.button(77, fmt.Sprintf("answer_%d", q.ID))
		require.Contains(t, joined(replies), "Marked as answered")
	}
}

func TestMailingDeniedForParticipant(t *testing.T) {
	e := newEnv(t)
	e.command(1, "start")

	replies := e.command(1, "mailing")
	require.Len(t, replies, 1)
	require.Contains(t, replies[0].Text, "not allowed")
	require.NotNil(t, replies[0].Keyboard)
	require.Nil(t, e.session(t, 1))
}

func TestMailingFanOut(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	manager, _, _ := e.gw.GetOrCreateParticipant(ctx, 1, domain.ParticipantDefaults{Name: "Org"})
	require.NoError(t, e.gw.SetEventManager(ctx, manager.ID, true))
	for _, id := range []int64{10, 11} {
		p, _, _ := e.gw.GetOrCreateParticipant(ctx, id, domain.ParticipantDefaults{})
		_, err := e.gw.ToggleSubscription(ctx, p.ID, true)
		require.NoError(t, err)
	}

	e.text(1, LabelMailing)
	e.text(1, "Doors open at 18:00")
	require.Equal(t, stepConfirmMailing, e.session(t, 1).Step)
	replies := e.button(1, "mailing_confirm")
	require.Contains(t, joined(replies), "delivered to 2 subscribers")
	require.Len(t, e.msg.to(10), 1)
	require.Len(t, e.msg.to(11), 1)
	require.Nil(t, e.session(t, 1))
}

func TestViewProfilesCycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	names := map[string]bool{}
	for i, name := range []string{"Ann", "Bob", "Cid"} {
		p, _, _ := e.gw.GetOrCreateParticipant(ctx, int64(100+i), domain.ParticipantDefaults{})
		_, err := e.gw.UpdateProfile(ctx, p.ID, name, "gopher")
		require.NoError(t, err)
		names[name] = true
	}

	var seen []string
	show := func(replies []conversation.Reply) {
		require.Len(t, replies, 1)
		for name := range names {
			if strings.Contains(replies[0].Text, name) {
				seen = append(seen, name)
			}
		}
	}
	show(e.button(1, "view_profiles"))
	show(e.button(1, "view_profiles"))
	show(e.button(1, "next_profile"))
	require.ElementsMatch(t, []string{"Ann", "Bob", "Cid"}, seen)

	show(e.button(1, "next_profile"))
	require.Equal(t, seen[0], seen[3])
	require.Equal(t, stepViewingProfile, e.session(t, 1).Step)
}

func TestViewProfilesEmpty(t *testing.T) {
	e := newEnv(t)
	replies := e.button(1, "view_profiles")
	require.Len(t, replies, 1)
	require.Contains(t, replies[0].Text, "No profiles available")
	require.Nil(t, e.session(t, 1))
}

func TestFillProfileAndRequestContact(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	other, _, _ := e.gw.GetOrCreateParticipant(ctx, 50, domain.ParticipantDefaults{Name: "Bob", Username: "bob"})
	_, _ = e.gw.UpdateProfile(ctx, other.ID, "Bob", "backend")

	e.button(1, "fill_profile")
	e.text(1, "Ann")
	replies := e.text(1, "Go developer")
	require.Contains(t, joined(replies), "profile is saved")
	me, err := e.gw.GetParticipantByTelegramID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Go developer", me.Bio)

	e.button(1, "view_profiles")
	replies = e.button(1, "request_contact")
	require.Contains(t, joined(replies), "Bob got your contact request")
	require.Len(t, e.msg.to(50), 1)
	replies = e.button(1, "request_contact")
	require.Contains(t, joined(replies), "already asked")
	require.Equal(t, stepViewingProfile, e.session(t, 1).Step)
}

func TestCancelFromAnyStep(t *testing.T) {
	e := newEnv(t)
	e.activeEvent(t)
	ctx := context.Background()
	manager, _, _ := e.gw.GetOrCreateParticipant(ctx, 1, domain.ParticipantDefaults{})
	require.NoError(t, e.gw.SetEventManager(ctx, manager.ID, true))

	paths := [][]string{
		{LabelDonate},
		{LabelDonate, "btn:donate_custom"},
		{LabelAsk},
		{LabelAsk, "@ann"},
		{LabelAsk, "@ann", "question"},
		{LabelRegister},
		{LabelSpeak},
		{LabelSubscribe},
		{LabelMailing},
		{LabelMailing, "hello all"},
		{"btn:fill_profile"},
		{"btn:fill_profile", "Ann"},
	}
	for _, path := range paths {
		for _, in := range path {
			if strings.HasPrefix(in, "btn:") {
				e.button(1, strings.TrimPrefix(in, "btn:"))
			} else {
				e.text(1, in)
			}
		}
		require.NotNil(t, e.session(t, 1), "path %v", path)
		replies := e.command(1, "cancel")
		require.Nil(t, e.session(t, 1), "path %v", path)
		require.Equal(t, "Main menu", replies[0].Text)

		replies = e.text(1, "hello")
		require.Len(t, replies, 1)
		require.Equal(t, "Main menu", replies[0].Text)
		require.Nil(t, e.session(t, 1))
	}
}

func TestUsersDoNotSeeEachOthersFields(t *testing.T) {
	e := newEnv(t)
	e.activeEvent(t)

	var wg sync.WaitGroup
	for _, user := range []int64{1, 2} {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			e.text(user, LabelAsk)
			e.text(user, fmt.Sprintf("@speaker%d", user))
			e.text(user, fmt.Sprintf("question from %d", user))
		}(user)
	}
	wg.Wait()

	for _, user := range []int64{1, 2} {
		s := e.session(t, user)
		require.NotNil(t, s)
		require.Equal(t, fmt.Sprintf("speaker%d", user), s.Fields["handle"].S)
		require.Equal(t, fmt.Sprintf("question from %d", user), s.Fields["text"].S)
	}
}

func TestRegistrationAndRemoval(t *testing.T) {
	e := newEnv(t)
	ev := e.activeEvent(t)
	eventBtn := fmt.Sprintf("event_%d", ev.ID)

	e.text(1, LabelSpeak)
	e.button(1, eventBtn)
	require.Equal(t, stepConfirmRegistration, e.session(t, 1).Step)
	e.sendID("reg-1", 1, conversation.KindButton, "confirm")
	e.sendID("reg-1", 1, conversation.KindButton, "confirm")

	ctx := context.Background()
	p, err := e.gw.GetParticipantByTelegramID(ctx, 1)
	require.NoError(t, err)
	require.True(t, p.IsSpeaker)
	regs, err := e.gw.ListRegistrations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, domain.RoleSpeaker, regs[0].Role)

	// a second pass reports the existing registration
	e.text(1, LabelRegister)
	e.button(1, eventBtn)
	replies := e.button(1, "confirm")
	require.Contains(t, joined(replies), "already registered")

	replies = e.text(1, LabelMyEvents)
	require.Contains(t, joined(replies), "Go meetup")
	e.button(1, fmt.Sprintf("my_event_%d", ev.ID))
	regs, _ = e.gw.ListRegistrations(ctx, p.ID)
	require.Empty(t, regs)

	replies = e.button(1, fmt.Sprintf("my_event_%d", ev.ID))
	require.Contains(t, joined(replies), "no longer available")
}

func TestParticipantRegistrationUpgradesToSpeaker(t *testing.T) {
	e := newEnv(t)
	ev := e.activeEvent(t)
	eventBtn := fmt.Sprintf("event_%d", ev.ID)

	e.text(1, LabelRegister)
	e.button(1, eventBtn)
	e.button(1, "confirm")

	e.text(1, LabelSpeak)
	e.button(1, eventBtn)
	replies := e.button(1, "confirm")
	require.NotContains(t, joined(replies), "already registered")
	require.Contains(t, joined(replies), "as speaker")

	ctx := context.Background()
	p, err := e.gw.GetParticipantByTelegramID(ctx, 1)
	require.NoError(t, err)
	require.True(t, p.IsSpeaker)
	regs, err := e.gw.ListRegistrations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, domain.RoleSpeaker, regs[0].Role)
}

func TestRegistrationRejectsUnknownEvent(t *testing.T) {
	e := newEnv(t)
	e.activeEvent(t)
	e.text(1, LabelRegister)
	e.button(1, "event_999")
	require.Equal(t, stepSelectingEvent, e.session(t, 1).Step)
}

func TestSubscribeToggle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.text(1, LabelSubscribe)
	e.button(1, "subscribe_confirm")
	p, err := e.gw.GetParticipantByTelegramID(ctx, 1)
	require.NoError(t, err)
	require.True(t, p.IsSubscribed)

	menu := e.command(1, "start")
	require.Contains(t, menu[0].Keyboard.Reply[3], LabelUnsubscribe)

	e.text(1, LabelUnsubscribe)
	replies := e.button(1, "unsubscribe_cancel")
	require.Equal(t, "Main menu", replies[0].Text)
	p, _ = e.gw.GetParticipantByTelegramID(ctx, 1)
	require.True(t, p.IsSubscribed)

	e.text(1, LabelUnsubscribe)
	e.button(1, "unsubscribe_confirm")
	p, _ = e.gw.GetParticipantByTelegramID(ctx, 1)
	require.False(t, p.IsSubscribed)
}

func TestStaleButtonOutsideFlow(t *testing.T) {
	e := newEnv(t)
	replies := e.button(1, "subscribe_confirm")
	require.Len(t, replies, 1)
	require.Equal(t, "This action is no longer available.", replies[0].Text)
	require.Nil(t, e.session(t, 1))
}

func TestStartGreetsWithEventTitle(t *testing.T) {
	e := newEnv(t)
	e.activeEvent(t)
	e.text(1, LabelDonate)
	replies := e.command(1, "start")
	require.Contains(t, replies[0].Text, "Go meetup")
	require.NotNil(t, replies[0].Keyboard)
	require.Nil(t, e.session(t, 1))
}

func TestMenuCommandsAreRouted(t *testing.T) {
	routed := newEnv(t).d.Registry().Commands()
	for name := range Commands {
		require.Contains(t, routed, name)
	}
}
