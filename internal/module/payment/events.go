package payment

import (
	"time"

	"github.com/google/uuid"
)

// SucceededEvent is the decoded form of a payment_intent.succeeded
// delivery. Amounts are integer minor units straight off the wire.
type SucceededEvent struct {
	PaymentIntentID string
	Amount          int64
	Currency        string
	ChargeID        string
	Metadata        map[string]string
}

// FailedEvent is the decoded form of a payment_intent.payment_failed
// delivery.
type FailedEvent struct {
	PaymentIntentID string
	Amount          int64
	Currency        string
	FailureCode     string
	FailureMessage  string
	Metadata        map[string]string
}

// RefundEvent is the decoded form of a refund.updated delivery.
type RefundEvent struct {
	RefundID             string
	ChargeID             string
	PaymentIntentID      string
	Amount               int64
	Status               string
	Created              time.Time
	BalanceTransactionID string
}

// Succeeded reports whether the refund reached its terminal success
// state. Intermediate states (pending, requires_action) and failures are
// ignored by the handler.
func (e RefundEvent) Succeeded() bool {
	return e.Status == "succeeded"
}

// Outcome summarizes what one handler invocation did. Degraded lists the
// best-effort sub-steps that failed without aborting the event, so tests
// and operators can see partial processing without parsing logs.
type Outcome struct {
	Processed bool
	Duplicate bool
	Skipped   bool
	PaymentID *uuid.UUID
	Degraded  []string
}

func (o *Outcome) degrade(step string) {
	o.Degraded = append(o.Degraded, step)
}

// IsDegraded reports whether any best-effort sub-step failed.
func (o *Outcome) IsDegraded() bool {
	return len(o.Degraded) > 0
}
