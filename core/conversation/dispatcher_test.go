package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/meetupbot/core/telegram/state"
)

// harness wires a small registry whose effects are counted.
type harness struct {
	mu       sync.Mutex
	payments []int64
	notes    map[int64][]string
	profiles []int64
	managers map[int64]bool

	store state.Store
	d     *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, DispatcherOptions{DedupWindow: time.Minute})
}

func newHarnessWith(t *testing.T, opts DispatcherOptions) *harness {
	t.Helper()
	h := &harness{notes: make(map[int64][]string), managers: make(map[int64]bool)}

	pay := func(ctx context.Context, sc *Scope) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.payments = append(h.payments, sc.Int("amount"))
		sc.Reply(fmt.Sprintf("pay %d", sc.Int("amount")), nil)
		return nil
	}

	donate := Flow{
		Name:     "donate",
		Triggers: []Trigger{Enter(OnLabel("Donate")), Enter(OnCommand("donate")), Shortcut(OnPrefix("donate_"))},
		Fields:   map[string]state.Kind{"amount": state.KindInt},
		Steps: []Step{
			{
				Name:   "choosing_amount",
				Accept: []Pattern{OnPrefix("donate_")},
				Prompt: func(_ context.Context, sc *Scope) error {
					sc.Reply("choose amount", nil)
					return nil
				},
				Handle: func(_ context.Context, sc *Scope, in Input) (Outcome, error) {
					if in.Arg == "custom" {
						return Next("awaiting_custom_amount"), nil
					}
					n, err := strconv.ParseInt(in.Arg, 10, 64)
					if err != nil {
						return Outcome{}, Invalid("unknown amount")
					}
					if err := sc.Set("amount", state.Int(n)); err != nil {
						return Outcome{}, err
					}
					return Done(pay), nil
				},
			},
			{
				Name: "awaiting_custom_amount",
				Text: true,
				Prompt: func(_ context.Context, sc *Scope) error {
					sc.Reply("enter amount", nil)
					return nil
				},
				Handle: func(_ context.Context, sc *Scope, in Input) (Outcome, error) {
					n, err := strconv.ParseInt(in.Arg, 10, 64)
					if err != nil || n < 10 || n > 15000 {
						return Outcome{}, Invalid("amount must be between 10 and 15000")
					}
					if err := sc.Set("amount", state.Int(n)); err != nil {
						return Outcome{}, err
					}
					return Done(pay), nil
				},
			},
		},
	}

	note := Flow{
		Name:     "note",
		Triggers: []Trigger{Enter(OnCommand("note"))},
		Fields:   map[string]state.Kind{"text": state.KindString},
		Steps: []Step{
			{
				Name: "awaiting_text",
				Text: true,
				Handle: func(_ context.Context, sc *Scope, in Input) (Outcome, error) {
					if in.Arg == "" {
						return Outcome{}, Invalid("empty")
					}
					return Next("confirming"), sc.Set("text", state.String(in.Arg))
				},
			},
			{
				Name:   "confirming",
				Accept: []Pattern{OnButton("confirm"), OnButton("cancel")},
				Handle: func(_ context.Context, sc *Scope, in Input) (Outcome, error) {
					if in.Payload == "cancel" {
						return Cancelled(), nil
					}
					return Done(func(_ context.Context, sc *Scope) error {
						h.mu.Lock()
						defer h.mu.Unlock()
						h.notes[sc.UserID()] = append(h.notes[sc.UserID()], sc.String("text"))
						return nil
					}), nil
				},
			},
		},
	}

	mailing := Flow{
		Name:     "mailing",
		Triggers: []Trigger{Enter(OnLabel("Mailing"))},
		Guard: func(_ context.Context, ev Event) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			if !h.managers[ev.UserID] {
				return Deny(ev.UserID, "send mailings")
			}
			return nil
		},
		Steps: []Step{{Name: "awaiting_message_text", Text: true, Handle: noop}},
	}

	showNext := func(sc *Scope) error {
		h.mu.Lock()
		all := append([]int64(nil), h.profiles...)
		h.mu.Unlock()
		for attempt := 0; attempt < 2; attempt++ {
			shown := make(map[int64]bool)
			for _, id := range sc.Shown() {
				shown[id] = true
			}
			for _, id := range all {
				if !shown[id] {
					sc.MarkShown(id)
					sc.Reply("profile "+strconv.FormatInt(id, 10), nil)
					return nil
				}
			}
			sc.ResetShown()
		}
		return Abort("no profiles", nil)
	}
	browse := Flow{
		Name:     "browse",
		Triggers: []Trigger{Enter(OnButton("view_profiles"))},
		Steps: []Step{{
			Name:   "viewing_profile",
			Accept: []Pattern{OnButton("next_profile"), OnButton("view_profiles")},
			Prompt: func(_ context.Context, sc *Scope) error { return showNext(sc) },
			Handle: func(_ context.Context, sc *Scope, _ Input) (Outcome, error) {
				return Stay(), showNext(sc)
			},
		}},
	}

	boom := Flow{
		Name:     "boom",
		Triggers: []Trigger{Enter(OnCommand("boom"))},
		Steps: []Step{{Name: "armed", Text: true, Handle: func(context.Context, *Scope, Input) (Outcome, error) {
			panic("kaboom")
		}}},
	}

	reg, err := NewBuilder().
		Flow(donate).Flow(note).Flow(mailing).Flow(browse).Flow(boom).
		Action(Action{
			Name:         "start",
			Match:        []Pattern{OnCommand("start")},
			ClearSession: true,
			Run: func(ctx context.Context, sc *Scope, _ Input) error {
				sc.Reply("welcome", sc.Menu(ctx))
				return nil
			},
		}).
		Action(Action{
			Name:  "answer",
			Match: []Pattern{OnPrefix("answer_")},
			Run: func(_ context.Context, sc *Scope, in Input) error {
				if in.Arg != strconv.FormatInt(sc.UserID(), 10) {
					return Deny(sc.UserID(), "answer")
				}
				sc.Reply("answered", nil)
				return nil
			},
		}).
		Menu(func(context.Context, Event) *Keyboard {
			return &Keyboard{Reply: [][]string{{"Donate", "Mailing"}}}
		}).
		Build()
	require.NoError(t, err)

	h.store = state.NewMemoryStore(time.Minute)
	h.d = NewDispatcher(reg, h.store, opts)
	return h
}

var seq struct {
	sync.Mutex
	n int
}

func nextID() string {
	seq.Lock()
	defer seq.Unlock()
	seq.n++
	return "ev-" + strconv.Itoa(seq.n)
}

func (h *harness) send(user int64, kind Kind, payload string) []Reply {
	return h.d.Handle(context.Background(), Event{ID: nextID(), UserID: user, ChatID: user, Kind: kind, Payload: payload})
}

func (h *harness) session(t *testing.T, user int64) *state.Session {
	t.Helper()
	s, ok, err := h.store.Get(context.Background(), user)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	return s
}

func texts(replies []Reply) []string {
	out := make([]string, 0, len(replies))
	for _, r := range replies {
		out = append(out, r.Text)
	}
	return out
}

func TestCustomAmountBounds(t *testing.T) {
	for _, amount := range []int64{10, 11, 500, 14999, 15000} {
		h := newHarness(t)
		h.send(1, KindButton, "donate_custom")
		require.Equal(t, "awaiting_custom_amount", h.session(t, 1).Step)

		h.send(1, KindText, strconv.FormatInt(amount, 10))
		require.Equal(t, []int64{amount}, h.payments)
		require.Nil(t, h.session(t, 1))
	}
	for _, raw := range []string{"9", "0", "-5", "15001", "1e3", "abc", ""} {
		h := newHarness(t)
		h.send(1, KindButton, "donate_custom")
		replies := h.send(1, KindText, raw)
		require.Empty(t, h.payments, raw)
		require.Equal(t, "awaiting_custom_amount", h.session(t, 1).Step, raw)
		require.Contains(t, texts(replies), "enter amount", raw)
	}
}

func TestShortcutAppliesInputToEntryStep(t *testing.T) {
	h := newHarness(t)
	replies := h.send(5, KindButton, "donate_100")
	require.Equal(t, []string{"pay 100"}, texts(replies))
	require.Equal(t, []int64{100}, h.payments)
	require.Nil(t, h.session(t, 5))
}

func TestReplayedTerminalEventRunsEffectOnce(t *testing.T) {
	h := newHarness(t)
	ev := Event{ID: "upd-1", UserID: 2, ChatID: 2, Kind: KindButton, Payload: "donate_300"}
	h.d.Handle(context.Background(), ev)
	require.Nil(t, h.d.Handle(context.Background(), ev))
	require.Equal(t, []int64{300}, h.payments)

	h.send(2, KindCommand, "note")
	h.send(2, KindText, "hello")
	confirm := Event{ID: "upd-2", UserID: 2, ChatID: 2, Kind: KindButton, Payload: "confirm"}
	h.d.Handle(context.Background(), confirm)
	h.d.Handle(context.Background(), confirm)
	// a new delivery of the same button finds no session
	replies := h.send(2, KindButton, "confirm")
	require.Equal(t, []string{DefaultMessages.Stale}, texts(replies))
	require.Equal(t, []string{"hello"}, h.notes[2])
}

func TestShortcutReplayWithoutDedupWindow(t *testing.T) {
	h := newHarnessWith(t, DispatcherOptions{})
	ev := Event{ID: "upd-9", UserID: 3, ChatID: 3, Kind: KindButton, Payload: "donate_100"}
	h.d.Handle(context.Background(), ev)
	require.Nil(t, h.d.Handle(context.Background(), ev))
	require.Equal(t, []int64{100}, h.payments)
}

func TestNoDedupWithoutDirectTriggers(t *testing.T) {
	reg, err := NewBuilder().
		Flow(Flow{Name: "echo", Triggers: []Trigger{Enter(OnCommand("echo"))}, Steps: []Step{{Name: "s", Text: true, Handle: noop}}}).
		Build()
	require.NoError(t, err)
	d := NewDispatcher(reg, state.NewMemoryStore(time.Minute), DispatcherOptions{})
	require.Nil(t, d.seen)
}

func TestUsersDoNotShareFields(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	for _, user := range []int64{10, 20} {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				h.send(user, KindCommand, "note")
				h.send(user, KindText, fmt.Sprintf("u%d-%d", user, i))
				h.send(user, KindButton, "confirm")
			}
		}(user)
	}
	wg.Wait()

	require.Len(t, h.notes[10], 20)
	require.Len(t, h.notes[20], 20)
	for i := 0; i < 20; i++ {
		require.Equal(t, fmt.Sprintf("u10-%d", i), h.notes[10][i])
		require.Equal(t, fmt.Sprintf("u20-%d", i), h.notes[20][i])
	}
}

func TestBrowseShowsEachProfileOnceThenWraps(t *testing.T) {
	h := newHarness(t)
	h.profiles = []int64{1, 2, 3}

	var seen []string
	seen = append(seen, texts(h.send(1, KindButton, "view_profiles"))...)
	seen = append(seen, texts(h.send(1, KindButton, "view_profiles"))...)
	seen = append(seen, texts(h.send(1, KindButton, "next_profile"))...)
	require.Equal(t, []string{"profile 1", "profile 2", "profile 3"}, seen)

	require.Equal(t, []string{"profile 1"}, texts(h.send(1, KindButton, "next_profile")))
	require.Equal(t, []int64{1}, h.session(t, 1).Shown)
}

func TestBrowseWithoutProfilesTerminates(t *testing.T) {
	h := newHarness(t)
	replies := h.send(1, KindButton, "view_profiles")
	require.Equal(t, []string{"no profiles"}, texts(replies))
	require.NotNil(t, replies[0].Keyboard)
	require.Nil(t, h.session(t, 1))
}

func TestCancelFromAnyStep(t *testing.T) {
	entries := []struct {
		name  string
		setup [][2]string
	}{
		{"donate/choosing", [][2]string{{"command", "donate"}}},
		{"donate/custom", [][2]string{{"button", "donate_custom"}}},
		{"note/text", [][2]string{{"command", "note"}}},
		{"note/confirm", [][2]string{{"command", "note"}, {"text", "x"}}},
	}
	cancels := []Event{
		{Kind: KindCommand, Payload: "cancel"},
		{Kind: KindButton, Payload: "cancel"},
		{Kind: KindButton, Payload: "back"},
	}
	for _, e := range entries {
		for _, c := range cancels {
			t.Run(e.name+"/"+c.Payload+"/"+string(c.Kind), func(t *testing.T) {
				h := newHarness(t)
				for _, s := range e.setup {
					h.send(3, Kind(s[0]), s[1])
				}
				require.NotNil(t, h.session(t, 3))
				replies := h.send(3, c.Kind, c.Payload)
				require.Nil(t, h.session(t, 3))
				require.Equal(t, DefaultMessages.Menu, replies[len(replies)-1].Text)

				// next input is a fresh menu interaction
				replies = h.send(3, KindText, "hello")
				require.Equal(t, []string{DefaultMessages.Menu}, texts(replies))
				require.Nil(t, h.session(t, 3))
			})
		}
	}
}

func TestGuardRejectsBeforeState(t *testing.T) {
	h := newHarness(t)
	replies := h.send(4, KindText, "Mailing")
	require.Equal(t, []string{DefaultMessages.Denied}, texts(replies))
	require.NotNil(t, replies[0].Keyboard)
	require.Nil(t, h.session(t, 4))

	// an existing session survives a rejected entry
	h.send(4, KindCommand, "note")
	h.send(4, KindText, "Mailing")
	require.Equal(t, "note", h.session(t, 4).Flow)

	h.managers[5] = true
	h.send(5, KindText, "Mailing")
	require.Equal(t, "mailing", h.session(t, 5).Flow)
}

func TestStaleButtonDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	replies := h.send(6, KindButton, "confirm")
	require.Equal(t, []string{DefaultMessages.Stale}, texts(replies))
	require.Nil(t, h.session(t, 6))

	h.send(6, KindCommand, "note")
	before := h.session(t, 6)
	replies = h.send(6, KindButton, "next_profile")
	require.Equal(t, []string{DefaultMessages.Stale}, texts(replies))
	require.Equal(t, before.Step, h.session(t, 6).Step)
}

func TestMismatchedSessionIsReset(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Put(context.Background(), state.New(7, "donate", "no_such_step")))
	replies := h.send(7, KindButton, "confirm")
	require.Equal(t, []string{DefaultMessages.Menu}, texts(replies))
	require.Nil(t, h.session(t, 7))

	require.NoError(t, h.store.Put(context.Background(), state.New(7, "gone", "x")))
	replies = h.send(7, KindButton, "donate_500")
	require.Equal(t, []string{"pay 500"}, texts(replies))
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.send(8, KindCommand, "boom")
	replies := h.send(8, KindText, "go")
	require.Equal(t, []string{DefaultMessages.Failure}, texts(replies))
	require.Nil(t, h.session(t, 8))
}

func TestActionsIgnoreSession(t *testing.T) {
	h := newHarness(t)
	h.send(9, KindCommand, "note")

	replies := h.send(9, KindButton, "answer_1")
	require.Equal(t, []string{DefaultMessages.Denied}, texts(replies))
	require.Equal(t, "note", h.session(t, 9).Flow)

	replies = h.send(9, KindButton, "answer_9")
	require.Equal(t, []string{"answered"}, texts(replies))
	require.Equal(t, "note", h.session(t, 9).Flow)

	replies = h.send(9, KindCommand, "start")
	require.Equal(t, []string{"welcome"}, texts(replies))
	require.Nil(t, h.session(t, 9))
}

func TestUndeclaredFieldFailsTheFlow(t *testing.T) {
	reg, err := NewBuilder().Flow(Flow{
		Name:     "typed",
		Triggers: []Trigger{Enter(OnCommand("typed"))},
		Fields:   map[string]state.Kind{"n": state.KindInt},
		Steps: []Step{{Name: "s", Text: true, Handle: func(_ context.Context, sc *Scope, in Input) (Outcome, error) {
			if in.Arg == "wrong-kind" {
				return Stay(), sc.Set("n", state.String("x"))
			}
			return Stay(), sc.Set("other", state.Int(1))
		}}},
	}).Build()
	require.NoError(t, err)
	store := state.NewMemoryStore(time.Minute)
	d := NewDispatcher(reg, store, DispatcherOptions{})
	ctx := context.Background()

	for _, input := range []string{"wrong-kind", "undeclared"} {
		d.Handle(ctx, Event{UserID: 1, Kind: KindCommand, Payload: "typed"})
		replies := d.Handle(ctx, Event{UserID: 1, Kind: KindText, Payload: input})
		require.Equal(t, []string{DefaultMessages.Failure}, texts(replies))
		_, ok, _ := store.Get(ctx, 1)
		require.False(t, ok)
	}

	sc := &Scope{}
	require.True(t, errors.Is(sc.Set("x", state.Int(1)), ErrUnknownField))
}
