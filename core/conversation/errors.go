package conversation

import (
	"errors"
	"fmt"
)

// ErrStaleAction marks input that refers to a session which no longer exists.
var ErrStaleAction = errors.New("conversation: action no longer available")

// ErrUnknownField is returned when a flow writes a field it did not declare.
var ErrUnknownField = errors.New("conversation: undeclared field")

// ValidationError rejects user input; the step is prompted again and the session is left as it was.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "validation: " + e.Message }

// Code implements the error-code convention used in handler logs.
func (e *ValidationError) Code() string { return "invalid_input" }

// Invalid returns a ValidationError with the given user-facing message.
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError rejects an action before any state changes.
type AuthorizationError struct {
	Action string
	UserID int64
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %d is not allowed to %s", e.UserID, e.Action)
}

// Code implements the error-code convention used in handler logs.
func (e *AuthorizationError) Code() string { return "forbidden" }

// Deny returns an AuthorizationError for the given action.
func Deny(userID int64, action string) error {
	return &AuthorizationError{Action: action, UserID: userID}
}

// AbortError ends the flow with a user-facing message. It is not a failure.
type AbortError struct {
	Text string
	// Cause is kept for logs only.
	Cause error
}

func (e *AbortError) Error() string {
	if e.Cause != nil {
		return "abort: " + e.Text + ": " + e.Cause.Error()
	}
	return "abort: " + e.Text
}

func (e *AbortError) Unwrap() error { return e.Cause }

// Code implements the error-code convention used in handler logs.
func (e *AbortError) Code() string { return "aborted" }

// Abort ends the current flow, clears the session and shows text with the main menu.
func Abort(text string, cause error) error {
	return &AbortError{Text: text, Cause: cause}
}
