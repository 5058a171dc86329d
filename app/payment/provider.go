// Package payment creates donation payments with an external provider.
package payment

import (
	"context"
	"errors"
	"fmt"
)

// Status values reported by the provider.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusCanceled  = "canceled"
)

// Request describes a payment to create. Amount is in whole currency units.
type Request struct {
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	Metadata    map[string]string
}

// Payment is the provider's view of a created payment.
type Payment struct {
	ID          string
	Status      string
	RedirectURL string
}

// Provider talks to the payment service. Calls must honor ctx deadlines.
type Provider interface {
	CreatePayment(ctx context.Context, req Request) (Payment, error)
	GetPayment(ctx context.Context, id string) (Payment, error)
}

// ProviderError is any failure reported by or on the way to the provider.
type ProviderError struct {
	Op     string
	Status int
	// Reason is the provider's error code or description when it returned one.
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	msg := "payment " + e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Code implements the error-code convention used in handler logs.
func (e *ProviderError) Code() string {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return "payment_timeout"
	}
	return "payment_failed"
}

// ErrUnavailable is returned by Unavailable.
var ErrUnavailable = errors.New("payments are not configured")

// Unavailable is used when no shop credentials are configured.
type Unavailable struct{}

func (Unavailable) CreatePayment(context.Context, Request) (Payment, error) {
	return Payment{}, &ProviderError{Op: "create", Err: ErrUnavailable}
}

func (Unavailable) GetPayment(context.Context, string) (Payment, error) {
	return Payment{}, &ProviderError{Op: "get", Err: ErrUnavailable}
}
