// Package processor abstracts the card payment gateway behind a small
// read-only lookup interface so webhook handlers can be tested with fakes
// and so retry/backoff policy lives in one place.
package processor

import (
	"context"
	"errors"
	"time"
)

// Processor errors.
var (
	// ErrNotConfigured is returned when the processor credentials are
	// missing. Treated as a server configuration failure, never retried.
	ErrNotConfigured = errors.New("payment processor is not configured")
	// ErrNotFound is returned for lookups of unknown processor objects.
	ErrNotFound = errors.New("processor object not found")
)

// Charge is a slim view of a processor-side settlement record.
type Charge struct {
	ID                 string
	Amount             int64
	Currency           string
	PaymentIntentID    string
	BalanceTransaction *BalanceTransaction // nil until the charge settles
	ApplicationFeeID   string              // empty outside Connect accounts
	BillingName        string
	BillingEmail       string
	BillingPhone       string
}

// BalanceTransaction is the processor's ledger entry for a charge or refund.
// All amounts are integer minor units.
type BalanceTransaction struct {
	ID     string
	Amount int64
	Fee    int64
	Net    int64
}

// ApplicationFee is the platform's cut of a Connect charge.
type ApplicationFee struct {
	ID     string
	Amount int64
}

// FeeRefund is a refund of an application fee.
type FeeRefund struct {
	ID      string
	Amount  int64
	Created time.Time
}

// PaymentIntent is a slim view of a processor-side payment attempt.
type PaymentIntent struct {
	ID             string
	Amount         int64
	Currency       string
	LatestChargeID string
	Metadata       map[string]string
}

// Client is the read-only processor lookup port. None of these calls
// mutate processor-side state.
type Client interface {
	// VerifyWebhookSignature verifies a webhook delivery against the raw
	// body and the shared endpoint secret.
	VerifyWebhookSignature(payload []byte, signature string) error

	// GetCharge retrieves a charge with its balance transaction expanded.
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)

	// GetBalanceTransaction retrieves a balance transaction by ID.
	GetBalanceTransaction(ctx context.Context, id string) (*BalanceTransaction, error)

	// GetApplicationFee retrieves an application fee by ID.
	GetApplicationFee(ctx context.Context, id string) (*ApplicationFee, error)

	// ListFeeRefunds lists the refunds recorded against an application fee,
	// most recent first.
	ListFeeRefunds(ctx context.Context, applicationFeeID string) ([]*FeeRefund, error)

	// GetPaymentIntent retrieves a payment intent by ID.
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
}
