package conversation

import (
	"context"
	"fmt"

	"github.com/m3rciful/meetupbot/core/telegram/state"
)

// Scope is what handlers see of the current turn: the event, the session
// fields of the running flow and the reply buffer.
type Scope struct {
	Event Event

	flow *Flow
	sess *state.Session
	t    *turn
}

// UserID returns the acting user.
func (s *Scope) UserID() int64 { return s.Event.UserID }

// Flow returns the running flow name, or "" inside an action.
func (s *Scope) Flow() string {
	if s.flow == nil {
		return ""
	}
	return s.flow.Name
}

// Step returns the session's current step.
func (s *Scope) Step() string {
	if s.sess == nil {
		return ""
	}
	return s.sess.Step
}

// Reply queues a message to the acting user's chat.
func (s *Scope) Reply(text string, kb *Keyboard) {
	s.t.reply(text, kb)
}

// Menu returns the main-menu keyboard for the acting user.
func (s *Scope) Menu(ctx context.Context) *Keyboard {
	return s.t.menu(ctx)
}

// Set stores a field value. The name must be declared by the flow with the same kind.
func (s *Scope) Set(name string, v state.Value) error {
	if s.flow == nil || s.sess == nil {
		return fmt.Errorf("%w: %q outside a flow", ErrUnknownField, name)
	}
	kind, ok := s.flow.Fields[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.flow.Name, name)
	}
	if v.Kind != kind {
		return fmt.Errorf("field %s.%s: want %s, got %s", s.flow.Name, name, kind, v.Kind)
	}
	s.sess.Fields[name] = v
	return nil
}

// Value returns a stored field.
func (s *Scope) Value(name string) (state.Value, bool) {
	if s.sess == nil {
		return state.Value{}, false
	}
	v, ok := s.sess.Fields[name]
	return v, ok
}

// String returns a string field or "".
func (s *Scope) String(name string) string {
	v, _ := s.Value(name)
	str, _ := v.AsString()
	return str
}

// Int returns an int field or 0.
func (s *Scope) Int(name string) int64 {
	v, _ := s.Value(name)
	n, _ := v.AsInt()
	return n
}

// Ref returns a ref field or 0.
func (s *Scope) Ref(name string) int64 {
	v, _ := s.Value(name)
	id, _ := v.AsRef()
	return id
}

// Shown returns the ids already presented in this session.
func (s *Scope) Shown() []int64 {
	if s.sess == nil {
		return nil
	}
	return append([]int64(nil), s.sess.Shown...)
}

// MarkShown records id as presented.
func (s *Scope) MarkShown(id int64) {
	if s.sess != nil {
		s.sess.Shown = append(s.sess.Shown, id)
	}
}

// ResetShown forgets every presented id.
func (s *Scope) ResetShown() {
	if s.sess != nil {
		s.sess.Shown = nil
	}
}
