package conversation

import (
	"context"
	"strings"

	"github.com/m3rciful/meetupbot/core/telegram/state"
)

// Pattern matches one inbound input shape.
type Pattern struct {
	Kind   Kind
	Value  string
	Prefix bool
}

// OnButton matches a button with exactly this payload.
func OnButton(payload string) Pattern { return Pattern{Kind: KindButton, Value: payload} }

// OnPrefix matches any button whose payload starts with prefix; the remainder becomes Input.Arg.
func OnPrefix(prefix string) Pattern { return Pattern{Kind: KindButton, Value: prefix, Prefix: true} }

// OnCommand matches a slash command by name.
func OnCommand(name string) Pattern {
	return Pattern{Kind: KindCommand, Value: strings.TrimPrefix(name, "/")}
}

// OnLabel matches a text message equal to a reply-keyboard label.
func OnLabel(label string) Pattern { return Pattern{Kind: KindText, Value: label} }

func (p Pattern) match(ev Event) (Input, bool) {
	if ev.Kind != p.Kind {
		return Input{}, false
	}
	payload := ev.Payload
	if p.Kind == KindText {
		payload = strings.TrimSpace(payload)
	}
	if p.Prefix {
		if !strings.HasPrefix(payload, p.Value) || len(payload) == len(p.Value) {
			return Input{}, false
		}
		return Input{Kind: ev.Kind, Payload: ev.Payload, Arg: payload[len(p.Value):]}, true
	}
	if payload != p.Value {
		return Input{}, false
	}
	return Input{Kind: ev.Kind, Payload: ev.Payload}, true
}

func (p Pattern) String() string {
	s := string(p.Kind) + ":" + p.Value
	if p.Prefix {
		s += "*"
	}
	return s
}

func matchAny(patterns []Pattern, ev Event) (Input, bool) {
	for _, p := range patterns {
		if in, ok := p.match(ev); ok {
			return in, true
		}
	}
	return Input{}, false
}

// Input is what a step handler receives.
type Input struct {
	Kind    Kind
	Payload string
	// Arg is the payload remainder after a prefix match, or the trimmed text for free-text input.
	Arg string
}

type outcomeKind uint8

const (
	outcomeStay outcomeKind = iota
	outcomeNext
	outcomeDone
	outcomeCancel
)

// Outcome tells the dispatcher how to move the session after a step handler.
type Outcome struct {
	kind   outcomeKind
	next   string
	effect Effect
}

// Effect is the side effect of a terminal transition. It runs once, after the
// session has been cleared, with the fields collected so far.
type Effect func(ctx context.Context, sc *Scope) error

// Stay keeps the session at the current step and persists field changes.
func Stay() Outcome { return Outcome{kind: outcomeStay} }

// Next moves the session to step and sends that step's prompt.
func Next(step string) Outcome { return Outcome{kind: outcomeNext, next: step} }

// Done ends the flow and runs effect, which may be nil.
func Done(effect Effect) Outcome { return Outcome{kind: outcomeDone, effect: effect} }

// Cancelled ends the flow without side effects and shows the main menu.
func Cancelled() Outcome { return Outcome{kind: outcomeCancel} }

// Step is one state of a flow.
type Step struct {
	Name string
	// Accept lists button and command shapes handled by this step. They take
	// precedence over flow entry triggers while the step is active.
	Accept []Pattern
	// Text makes the step accept any free-text message.
	Text bool
	// Prompt sends the step's instructions. It runs when the step is entered
	// and again after rejected input.
	Prompt func(ctx context.Context, sc *Scope) error
	Handle func(ctx context.Context, sc *Scope, in Input) (Outcome, error)
}

func (s *Step) accept(ev Event) (Input, bool) {
	if in, ok := matchAny(s.Accept, ev); ok {
		return in, true
	}
	return Input{}, false
}

func (s *Step) acceptText(ev Event) (Input, bool) {
	if !s.Text || ev.Kind != KindText {
		return Input{}, false
	}
	return Input{Kind: KindText, Payload: ev.Payload, Arg: strings.TrimSpace(ev.Payload)}, true
}

// Trigger starts a flow.
type Trigger struct {
	Pattern
	// Step is the entry step; empty selects the first step of the flow.
	Step string
	// Direct feeds the triggering input to the entry step handler instead of
	// prompting. Direct triggers are tried after the active step, so a running
	// flow keeps its own buttons.
	Direct bool
}

// Enter starts the flow at its first step when p matches.
func Enter(p Pattern) Trigger { return Trigger{Pattern: p} }

// EnterAt starts the flow at step when p matches.
func EnterAt(p Pattern, step string) Trigger { return Trigger{Pattern: p, Step: step} }

// Shortcut starts the flow and hands the input straight to the entry step.
// When that step finishes the flow, a redelivered event finds no session, so
// replays are stopped only by the dispatcher's event id ledger. Events
// without an ID are never deduplicated.
func Shortcut(p Pattern) Trigger { return Trigger{Pattern: p, Direct: true} }

// Flow is a named multi-step procedure.
type Flow struct {
	Name     string
	Steps    []Step
	Triggers []Trigger
	// Fields declares every value the flow may store and its kind.
	Fields map[string]state.Kind
	// Guard runs before a new session is created. Returning an error rejects entry
	// and leaves any existing session untouched.
	Guard func(ctx context.Context, ev Event) error
}

func (f *Flow) step(name string) *Step {
	for i := range f.Steps {
		if f.Steps[i].Name == name {
			return &f.Steps[i]
		}
	}
	return nil
}

func (f *Flow) entry(tr Trigger) *Step {
	if tr.Step == "" {
		return &f.Steps[0]
	}
	return f.step(tr.Step)
}

// Action is a stateless handler that runs regardless of the user's session.
type Action struct {
	Name         string
	Match        []Pattern
	ClearSession bool // end any active flow before Run
	Run          func(ctx context.Context, sc *Scope, in Input) error
}
