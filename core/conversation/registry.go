package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/m3rciful/meetupbot/core/telegram/state"
)

// MenuFunc renders the main-menu keyboard for the user behind ev.
type MenuFunc func(ctx context.Context, ev Event) *Keyboard

// Messages are the fixed texts the dispatcher sends on its own.
type Messages struct {
	Menu    string
	Stale   string
	Denied  string
	Failure string
}

// DefaultMessages is used for any Messages field left empty.
var DefaultMessages = Messages{
	Menu:    "Main menu",
	Stale:   "This action is no longer available.",
	Denied:  "You are not allowed to do that.",
	Failure: "Something went wrong, please try again later.",
}

// Registry is the frozen set of flows and actions. It is safe for concurrent use.
type Registry struct {
	flows    map[string]*Flow
	order    []string
	actions  []*Action
	restart  []boundTrigger
	direct   []boundTrigger
	fallback []Pattern
	menu     MenuFunc
	errText  func(error) string
	messages Messages
}

type boundTrigger struct {
	Trigger
	flow *Flow
}

// Flow returns the named flow definition.
func (r *Registry) Flow(name string) (*Flow, bool) {
	f, ok := r.flows[name]
	return f, ok
}

// FlowNames lists flows in registration order.
func (r *Registry) FlowNames() []string {
	return append([]string(nil), r.order...)
}

// Commands lists every command name bound to a trigger or action, for bot menus.
func (r *Registry) Commands() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(p Pattern) {
		if p.Kind != KindCommand {
			return
		}
		if _, ok := seen[p.Value]; ok {
			return
		}
		seen[p.Value] = struct{}{}
		out = append(out, p.Value)
	}
	for _, a := range r.actions {
		for _, p := range a.Match {
			add(p)
		}
	}
	for _, t := range r.restart {
		add(t.Pattern)
	}
	for _, p := range r.fallback {
		add(p)
	}
	return out
}

func (r *Registry) action(ev Event) (*Action, Input, bool) {
	for _, a := range r.actions {
		if in, ok := matchAny(a.Match, ev); ok {
			return a, in, true
		}
	}
	return nil, Input{}, false
}

func findTrigger(list []boundTrigger, ev Event) (*boundTrigger, Input, bool) {
	for i := range list {
		if in, ok := list[i].match(ev); ok {
			return &list[i], in, true
		}
	}
	return nil, Input{}, false
}

func (r *Registry) lookup(flow, step string) (*Flow, *Step) {
	f, ok := r.flows[flow]
	if !ok {
		return nil, nil
	}
	st := f.step(step)
	if st == nil {
		return nil, nil
	}
	return f, st
}

// Builder collects flow and action definitions and validates them in Build.
type Builder struct {
	flows    []Flow
	actions  []Action
	fallback []Pattern
	menu     MenuFunc
	errText  func(error) string
	messages Messages
}

// NewBuilder returns a Builder whose fallback set is the cancel command and the cancel/back buttons.
func NewBuilder() *Builder {
	return &Builder{
		fallback: []Pattern{OnCommand("cancel"), OnButton("cancel"), OnButton("back")},
	}
}

// Flow registers a flow definition.
func (b *Builder) Flow(f Flow) *Builder {
	b.flows = append(b.flows, f)
	return b
}

// Action registers a stateless action.
func (b *Builder) Action(a Action) *Builder {
	b.actions = append(b.actions, a)
	return b
}

// Fallback adds inputs that abort any flow and return to the main menu.
func (b *Builder) Fallback(p ...Pattern) *Builder {
	b.fallback = append(b.fallback, p...)
	return b
}

// Menu sets the main-menu keyboard renderer.
func (b *Builder) Menu(fn MenuFunc) *Builder {
	b.menu = fn
	return b
}

// ErrorText maps unexpected handler errors to a user-facing text. Returning
// an empty string falls back to Messages.Failure.
func (b *Builder) ErrorText(fn func(error) string) *Builder {
	b.errText = fn
	return b
}

// Messages overrides the dispatcher's fixed texts.
func (b *Builder) Messages(m Messages) *Builder {
	b.messages = m
	return b
}

// Build validates every definition and returns the frozen Registry.
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		flows:    make(map[string]*Flow, len(b.flows)),
		fallback: append([]Pattern(nil), b.fallback...),
		menu:     b.menu,
		errText:  b.errText,
		messages: withDefaults(b.messages),
	}
	var errs []error
	claimed := make(map[string]string)
	claim := func(p Pattern, owner string) {
		key := p.String()
		if prev, ok := claimed[key]; ok {
			errs = append(errs, fmt.Errorf("input %s bound to both %s and %s", key, prev, owner))
			return
		}
		claimed[key] = owner
	}

	for i := range b.flows {
		f := cloneFlow(b.flows[i])
		if err := validateFlow(f); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := r.flows[f.Name]; dup {
			errs = append(errs, fmt.Errorf("flow %q registered twice", f.Name))
			continue
		}
		r.flows[f.Name] = f
		r.order = append(r.order, f.Name)
		for _, tr := range f.Triggers {
			claim(tr.Pattern, "flow "+f.Name)
			bt := boundTrigger{Trigger: tr, flow: f}
			if tr.Direct {
				r.direct = append(r.direct, bt)
			} else {
				r.restart = append(r.restart, bt)
			}
		}
	}
	for i := range b.actions {
		a := b.actions[i]
		if a.Name == "" || a.Run == nil || len(a.Match) == 0 {
			errs = append(errs, fmt.Errorf("action %q needs a name, a handler and at least one pattern", a.Name))
			continue
		}
		a.Match = append([]Pattern(nil), a.Match...)
		for _, p := range a.Match {
			claim(p, "action "+a.Name)
		}
		r.actions = append(r.actions, &a)
	}
	for _, p := range r.fallback {
		claim(p, "fallback")
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

func validateFlow(f *Flow) error {
	if f.Name == "" {
		return errors.New("flow without a name")
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("flow %q has no steps", f.Name)
	}
	seen := make(map[string]struct{}, len(f.Steps))
	for _, st := range f.Steps {
		if st.Name == "" {
			return fmt.Errorf("flow %q has a step without a name", f.Name)
		}
		if _, dup := seen[st.Name]; dup {
			return fmt.Errorf("flow %q declares step %q twice", f.Name, st.Name)
		}
		seen[st.Name] = struct{}{}
		if st.Handle == nil {
			return fmt.Errorf("step %s.%s has no handler", f.Name, st.Name)
		}
		if !st.Text && len(st.Accept) == 0 {
			return fmt.Errorf("step %s.%s accepts no input", f.Name, st.Name)
		}
	}
	for _, tr := range f.Triggers {
		if tr.Step != "" && f.step(tr.Step) == nil {
			return fmt.Errorf("flow %q trigger %s targets unknown step %q", f.Name, tr.Pattern, tr.Step)
		}
		if tr.Direct && tr.Kind != KindButton {
			return fmt.Errorf("flow %q: direct trigger %s must be a button", f.Name, tr.Pattern)
		}
	}
	for name, k := range f.Fields {
		if k < state.KindString || k > state.KindRef {
			return fmt.Errorf("flow %q field %q has invalid kind %s", f.Name, name, k)
		}
	}
	return nil
}

func cloneFlow(f Flow) *Flow {
	out := f
	out.Steps = make([]Step, len(f.Steps))
	for i, st := range f.Steps {
		st.Accept = append([]Pattern(nil), st.Accept...)
		out.Steps[i] = st
	}
	out.Triggers = append([]Trigger(nil), f.Triggers...)
	out.Fields = make(map[string]state.Kind, len(f.Fields))
	for k, v := range f.Fields {
		out.Fields[k] = v
	}
	return &out
}

func withDefaults(m Messages) Messages {
	if m.Menu == "" {
		m.Menu = DefaultMessages.Menu
	}
	if m.Stale == "" {
		m.Stale = DefaultMessages.Stale
	}
	if m.Denied == "" {
		m.Denied = DefaultMessages.Denied
	}
	if m.Failure == "" {
		m.Failure = DefaultMessages.Failure
	}
	return m
}
