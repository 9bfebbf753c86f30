// Package payments adapts payment service providers behind a common
// contract. All monetary amounts cross this boundary in the minor unit
// of their currency, kobo for NGN.
package payments

import (
	"context"
	"errors"
	"time"
)

// Status normalises the payment states reported by providers.
type Status string

const (
	// StatusPending means the provider is still waiting on the customer
	// or on asynchronous confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded means the provider captured the payment.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the provider gave up on the payment.
	StatusFailed Status = "failed"
	// StatusRefunded means the captured amount went back to the customer.
	StatusRefunded Status = "refunded"
)

// ErrUnsupportedProvider is returned when no registered provider can
// take the payment.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// LineItem is one order inside a hosted checkout. UnitAmount is in the
// currency's minor unit.
type LineItem struct {
	Name       string
	SKU        string
	Quantity   int64
	UnitAmount int64
	Currency   string
}

// SessionParams describes the hosted checkout to open. Amount is the
// grand total across Items and is used when Items is empty.
type SessionParams struct {
	Amount         int64
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
	Items          []LineItem
}

// Session is the provider's answer to SessionParams. ID doubles as the
// payment reference stamped onto the orders it covers.
type Session struct {
	ID          string
	Provider    string
	RedirectURL string
	IntentID    string
	ExpiresAt   time.Time
}

// RefundParams asks the provider to return a captured payment.
// Reference is the provider payment reference stored on the order.
// A nil Amount refunds the full capture.
type RefundParams struct {
	Reference      string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundResult reports what the provider did with a refund request.
type RefundResult struct {
	Provider  string
	Reference string
	RefundID  string
	Status    Status
	Amount    int64
	Currency  string
	CreatedAt time.Time
}

// Provider is the contract each payment service provider adapter
// implements.
type Provider interface {
	CreateSession(ctx context.Context, params SessionParams) (Session, error)
	Refund(ctx context.Context, params RefundParams) (RefundResult, error)
}
