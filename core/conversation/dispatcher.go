package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/m3rciful/meetupbot/core/logger"
	"github.com/m3rciful/meetupbot/core/telegram/state"
)

// DefaultDedupWindow is used when a registry has shortcut triggers but no
// window was configured.
const DefaultDedupWindow = 10 * time.Minute

// DispatcherOptions tunes NewDispatcher.
type DispatcherOptions struct {
	// DedupWindow is how long event ids are remembered. 0 disables
	// deduplication unless the registry has shortcut triggers, which then
	// get DefaultDedupWindow.
	DedupWindow time.Duration
}

// Dispatcher routes events to flows. One user's events are handled one at a
// time; different users proceed in parallel.
type Dispatcher struct {
	reg   *Registry
	store state.Store
	seen  *ledger
}

// NewDispatcher wires a registry to a session store.
func NewDispatcher(reg *Registry, store state.Store, opts DispatcherOptions) *Dispatcher {
	// a shortcut starts and ends a flow in one event, so no session is left
	// to absorb a redelivery
	if opts.DedupWindow <= 0 && len(reg.direct) > 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	return &Dispatcher{
		reg:   reg,
		store: store,
		seen:  newLedger(opts.DedupWindow),
	}
}

// Registry returns the registry the dispatcher was built with.
func (d *Dispatcher) Registry() *Registry { return d.reg }

// Handle resolves ev and returns the replies to deliver. It never panics;
// handler failures become a failure notice.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (replies []Reply) {
	if !d.seen.first(ev.ID) {
		d.log(ctx, slog.LevelDebug, "flow.duplicate", ev, slog.String("outcome", "duplicate"))
		return nil
	}

	unlock := d.store.Lock(ev.UserID)
	defer unlock()

	t := &turn{d: d, ev: ev}
	defer func() {
		if rec := recover(); rec != nil {
			d.log(ctx, slog.LevelError, "flow.panic", ev,
				slog.String("err", fmt.Sprint(rec)),
				slog.String("cause", string(debug.Stack())),
			)
			t.clear(ctx)
			t.reply(d.reg.messages.Failure, t.menu(ctx))
			replies = t.replies
		}
	}()

	t.run(ctx)
	return t.replies
}

func (d *Dispatcher) log(ctx context.Context, level slog.Level, event string, ev Event, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("kind", string(ev.Kind)),
		slog.String("payload", logger.SanitizeLimit(ev.Payload, 64)),
	}
	logger.LogEvent(ctx, logger.Flow, level, event, append(base, attrs...)...)
}

// turn is the processing of a single event.
type turn struct {
	d       *Dispatcher
	ev      Event
	replies []Reply
}

func (t *turn) reply(text string, kb *Keyboard) {
	t.replies = append(t.replies, Reply{ChatID: t.ev.chat(), Text: text, Keyboard: kb})
}

func (t *turn) menu(ctx context.Context) *Keyboard {
	if t.d.reg.menu == nil {
		return nil
	}
	return t.d.reg.menu(ctx, t.ev)
}

func (t *turn) showMenu(ctx context.Context) {
	t.reply(t.d.reg.messages.Menu, t.menu(ctx))
}

func (t *turn) clear(ctx context.Context) {
	if err := t.d.store.Clear(ctx, t.ev.UserID); err != nil {
		t.d.log(ctx, slog.LevelError, "session.clear", t.ev, slog.String("err", err.Error()))
	}
}

func (t *turn) put(ctx context.Context, s *state.Session) error {
	if err := t.d.store.Put(ctx, s); err != nil {
		t.d.log(ctx, slog.LevelError, "session.put", t.ev, slog.String("err", err.Error()))
		return err
	}
	return nil
}

func (t *turn) scope(f *Flow, s *state.Session) *Scope {
	return &Scope{Event: t.ev, flow: f, sess: s, t: t}
}

func (t *turn) run(ctx context.Context) {
	reg := t.d.reg
	ev := t.ev

	sess, ok, err := t.d.store.Get(ctx, ev.UserID)
	if err != nil {
		t.d.log(ctx, slog.LevelError, "session.get", ev, slog.String("err", err.Error()))
		t.reply(reg.messages.Failure, nil)
		return
	}
	if !ok || !sess.Active() {
		sess = nil
	}

	var flow *Flow
	var step *Step
	reset := false
	if sess != nil {
		flow, step = reg.lookup(sess.Flow, sess.Step)
		if flow == nil {
			t.d.log(ctx, slog.LevelWarn, "flow.reset", ev,
				slog.String("flow", sess.Flow),
				slog.String("step", sess.Step),
			)
			t.clear(ctx)
			sess, reset = nil, true
		} else {
			ctx = logger.WithFlow(ctx, flow.Name, step.Name)
		}
	}

	if a, in, ok := reg.action(ev); ok {
		if a.ClearSession && sess != nil {
			t.clear(ctx)
		}
		t.runAction(ctx, a, in)
		return
	}

	if sess != nil {
		if in, ok := step.accept(ev); ok {
			t.runStep(ctx, sess, flow, step, in)
			return
		}
	}

	if bt, _, ok := findTrigger(reg.restart, ev); ok {
		t.enter(ctx, sess, bt)
		return
	}

	if sess != nil {
		if in, ok := step.acceptText(ev); ok {
			t.runStep(ctx, sess, flow, step, in)
			return
		}
	}

	if bt, _, ok := findTrigger(reg.direct, ev); ok {
		t.enter(ctx, sess, bt)
		return
	}

	if _, ok := matchAny(reg.fallback, ev); ok {
		if sess != nil {
			t.clear(ctx)
		}
		t.d.log(ctx, slog.LevelInfo, "flow.cancel", ev, slog.String("outcome", "cancelled"))
		t.showMenu(ctx)
		return
	}

	switch {
	case sess != nil && ev.Kind != KindButton:
		// unmatched text or command inside a flow: ask again
		t.d.log(ctx, slog.LevelDebug, "flow.reprompt", ev, slog.String("outcome", "invalid"))
		t.prompt(ctx, sess, flow, step)
	case sess == nil && (ev.Kind != KindButton || reset):
		t.showMenu(ctx)
	default:
		t.d.log(ctx, slog.LevelInfo, "flow.stale", ev, slog.String("outcome", "stale"))
		t.reply(reg.messages.Stale, nil)
	}
}

// enter starts bt.flow. Direct triggers hand the input straight to the entry step.
func (t *turn) enter(ctx context.Context, prev *state.Session, bt *boundTrigger) {
	f := bt.flow
	if f.Guard != nil {
		if err := f.Guard(ctx, t.ev); err != nil {
			t.reject(ctx, f, err)
			return
		}
	}
	st := f.entry(bt.Trigger)
	ctx = logger.WithFlow(ctx, f.Name, st.Name)
	attrs := []slog.Attr{slog.String("trigger", bt.Pattern.String())}
	if prev != nil {
		attrs = append(attrs, slog.String("cause", "restart:"+prev.Flow))
	}
	t.d.log(ctx, slog.LevelInfo, "flow.enter", t.ev, attrs...)

	sess := state.New(t.ev.UserID, f.Name, st.Name)
	if bt.Direct {
		if input, ok := st.accept(t.ev); ok {
			t.runStep(ctx, sess, f, st, input)
			return
		}
	}
	t.prompt(ctx, sess, f, st)
}

func (t *turn) reject(ctx context.Context, f *Flow, err error) {
	var authErr *AuthorizationError
	if errors.As(err, &authErr) {
		t.d.log(ctx, slog.LevelWarn, "flow.denied", t.ev,
			slog.String("flow", f.Name),
			slog.String("outcome", "denied"),
		)
		t.reply(t.d.reg.messages.Denied, t.menu(ctx))
		return
	}
	t.fail(ctx, err)
}

// prompt shows the step instructions on a copy of sess and persists it.
func (t *turn) prompt(ctx context.Context, sess *state.Session, f *Flow, st *Step) {
	work := sess.Clone()
	work.Step = st.Name
	if st.Prompt != nil {
		if err := st.Prompt(ctx, t.scope(f, work)); err != nil {
			t.clear(ctx)
			t.fail(ctx, err)
			return
		}
	}
	_ = t.put(ctx, work)
}

func (t *turn) runStep(ctx context.Context, sess *state.Session, f *Flow, st *Step, in Input) {
	start := time.Now()
	work := sess.Clone()
	sc := t.scope(f, work)
	out, err := st.Handle(ctx, sc, in)
	if err != nil {
		var verr *ValidationError
		var aerr *AuthorizationError
		switch {
		case errors.As(err, &verr):
			t.d.log(ctx, slog.LevelInfo, "flow.step", t.ev,
				slog.String("outcome", "invalid"),
				slog.String("cause", verr.Message),
			)
			if verr.Message != "" {
				t.reply(verr.Message, nil)
			}
			t.prompt(ctx, sess, f, st)
		case errors.As(err, &aerr):
			t.d.log(ctx, slog.LevelWarn, "flow.step", t.ev, slog.String("outcome", "denied"))
			t.reply(t.d.reg.messages.Denied, nil)
		default:
			t.clear(ctx)
			t.fail(ctx, err)
		}
		return
	}

	switch out.kind {
	case outcomeStay:
		_ = t.put(ctx, work)
	case outcomeNext:
		next := f.step(out.next)
		if next == nil {
			t.clear(ctx)
			t.fail(ctx, fmt.Errorf("step %s.%s moved to undeclared step %q", f.Name, st.Name, out.next))
			return
		}
		t.d.log(ctx, slog.LevelDebug, "flow.step", t.ev,
			slog.String("next_step", next.Name),
			slog.Duration("duration", logger.Took(start)),
		)
		t.prompt(logger.WithFlow(ctx, "", next.Name), work, f, next)
	case outcomeDone:
		// cleared before the effect: a replay of this input finds no session
		t.clear(ctx)
		if out.effect != nil {
			if err := out.effect(ctx, sc); err != nil {
				t.fail(ctx, err)
				return
			}
		}
		t.d.log(ctx, slog.LevelInfo, "flow.done", t.ev,
			slog.String("outcome", "ok"),
			slog.Duration("duration", logger.Took(start)),
		)
	case outcomeCancel:
		t.clear(ctx)
		t.d.log(ctx, slog.LevelInfo, "flow.cancel", t.ev, slog.String("outcome", "cancelled"))
		t.showMenu(ctx)
	}
}

func (t *turn) runAction(ctx context.Context, a *Action, in Input) {
	ctx = logger.WithHandler(ctx, a.Name)
	err := a.Run(ctx, t.scope(nil, nil), in)
	if err == nil {
		t.d.log(ctx, slog.LevelDebug, "flow.action", t.ev, slog.String("action", a.Name), slog.String("outcome", "ok"))
		return
	}
	var aerr *AuthorizationError
	if errors.As(err, &aerr) {
		t.d.log(ctx, slog.LevelWarn, "flow.action", t.ev,
			slog.String("action", a.Name),
			slog.String("outcome", "denied"),
		)
		t.reply(t.d.reg.messages.Denied, nil)
		return
	}
	if errors.Is(err, ErrStaleAction) {
		t.d.log(ctx, slog.LevelInfo, "flow.action", t.ev,
			slog.String("action", a.Name),
			slog.String("outcome", "stale"),
		)
		t.reply(t.d.reg.messages.Stale, nil)
		return
	}
	t.fail(ctx, err)
}

// fail reports a terminal error. The session must already be cleared.
func (t *turn) fail(ctx context.Context, err error) {
	var abort *AbortError
	if errors.As(err, &abort) {
		attrs := []slog.Attr{slog.String("outcome", "cancelled"), slog.String("cause", abort.Text)}
		if abort.Cause != nil {
			attrs = append(attrs, slog.String("err", abort.Cause.Error()))
		}
		t.d.log(ctx, slog.LevelInfo, "flow.abort", t.ev, attrs...)
		t.reply(abort.Text, t.menu(ctx))
		return
	}
	t.d.log(ctx, slog.LevelError, "flow.error", t.ev,
		slog.String("outcome", "fail"),
		slog.String("err", err.Error()),
	)
	t.reply(t.failureText(err), t.menu(ctx))
}

func (t *turn) failureText(err error) string {
	if t.d.reg.errText != nil {
		if text := t.d.reg.errText(err); text != "" {
			return text
		}
	}
	return t.d.reg.messages.Failure
}
