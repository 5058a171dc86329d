package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches a LookupError with zero matches.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous matches a LookupError with more than one match.
	ErrAmbiguous = errors.New("ambiguous")
)

// LookupError reports a lookup that did not resolve to exactly one record.
type LookupError struct {
	// Kind is ErrNotFound or ErrAmbiguous.
	Kind   error
	Entity string
	Key    string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Entity, e.Key, e.Kind)
}

// Is lets errors.Is(err, ErrNotFound) and errors.Is(err, ErrAmbiguous) match.
func (e *LookupError) Is(target error) bool {
	return target == e.Kind
}

// Code implements the error-code convention used in handler logs.
func (e *LookupError) Code() string {
	if e.Kind == ErrAmbiguous {
		return "ambiguous"
	}
	return "not_found"
}

// NotFound builds a zero-match LookupError.
func NotFound(entity string, key any) error {
	return &LookupError{Kind: ErrNotFound, Entity: entity, Key: fmt.Sprint(key)}
}

// Ambiguous builds a multi-match LookupError.
func Ambiguous(entity string, key any) error {
	return &LookupError{Kind: ErrAmbiguous, Entity: entity, Key: fmt.Sprint(key)}
}

// DeliveryError is a failed message to one chat.
type DeliveryError struct {
	ChatID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %d: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Code implements the error-code convention used in handler logs.
func (e *DeliveryError) Code() string { return "delivery_failed" }
