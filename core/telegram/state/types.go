package state

import (
	"context"
	"fmt"
	"time"
)

// Kind tags the variant stored in a Value.
type Kind uint8

const (
	// KindString holds free text.
	KindString Kind = iota + 1
	// KindInt holds a number such as an amount.
	KindInt
	// KindRef holds a record identifier.
	KindRef
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindRef:
		return "ref"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a single collected field.
type Value struct {
	Kind Kind   `json:"k"`
	S    string `json:"s,omitempty"`
	I    int64  `json:"i,omitempty"`
}

// String wraps free text.
func String(s string) Value { return Value{Kind: KindString, S: s} }

// Int wraps a number.
func Int(i int64) Value { return Value{Kind: KindInt, I: i} }

// Ref wraps a record identifier.
func Ref(id int64) Value { return Value{Kind: KindRef, I: id} }

// AsString returns the text when v is a string value.
func (v Value) AsString() (string, bool) { return v.S, v.Kind == KindString }

// AsInt returns the number when v is an int value.
func (v Value) AsInt() (int64, bool) { return v.I, v.Kind == KindInt }

// AsRef returns the identifier when v is a ref value.
func (v Value) AsRef() (int64, bool) { return v.I, v.Kind == KindRef }

// Session is the conversation state of one user.
type Session struct {
	UserID int64            `json:"user_id"`
	Flow   string           `json:"flow,omitempty"`
	Step   string           `json:"step,omitempty"`
	Fields map[string]Value `json:"fields,omitempty"`
	// Shown lists item ids already presented while browsing.
	Shown     []int64   `json:"shown,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty session positioned at the given flow step.
func New(userID int64, flow, step string) *Session {
	return &Session{
		UserID: userID,
		Flow:   flow,
		Step:   step,
		Fields: make(map[string]Value),
	}
}

// Active reports whether the session is inside a flow.
func (s *Session) Active() bool {
	return s != nil && s.Flow != ""
}

// Clone returns a deep copy so callers never share maps or slices with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Fields = make(map[string]Value, len(s.Fields))
	for k, v := range s.Fields {
		out.Fields[k] = v
	}
	if s.Shown != nil {
		out.Shown = append([]int64(nil), s.Shown...)
	}
	return &out
}

// Store persists sessions keyed by user id.
//
// Callers hold Lock(userID) around a Get/Put/Clear sequence; two actions from
// the same user never interleave while distinct users never contend.
type Store interface {
	Get(ctx context.Context, userID int64) (*Session, bool, error)
	Put(ctx context.Context, s *Session) error
	Clear(ctx context.Context, userID int64) error
	Lock(userID int64) (unlock func())
}

func stamp(s *Session, now time.Time) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}
