package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/applicationfee"
	"github.com/stripe/stripe-go/v76/balancetransaction"
	"github.com/stripe/stripe-go/v76/charge"
	"github.com/stripe/stripe-go/v76/feerefund"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/clinicpay/server/internal/utils/metrics"
	"github.com/clinicpay/server/internal/utils/retry"
)

// StripeConfig holds Stripe client configuration.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// StripeClient implements Client against the Stripe API.
type StripeClient struct {
	apiKey        string
	webhookSecret string
	retryCfg      retry.Config
	breaker       *gobreaker.CircuitBreaker[any]
	metrics       *metrics.Metrics
}

// NewStripeClient creates a new Stripe-backed processor client.
func NewStripeClient(cfg *StripeConfig, m *metrics.Metrics) *StripeClient {
	stripe.Key = cfg.APIKey

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &StripeClient{
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		retryCfg:      retry.DefaultConfig(),
		breaker:       breaker,
		metrics:       m,
	}
}

// VerifyWebhookSignature verifies a Stripe webhook signature against the
// raw request body.
func (c *StripeClient) VerifyWebhookSignature(payload []byte, signature string) error {
	if c.webhookSecret == "" {
		return ErrNotConfigured
	}
	if _, err := webhook.ConstructEvent(payload, signature, c.webhookSecret); err != nil {
		return fmt.Errorf("verify webhook signature: %w", err)
	}
	return nil
}

// GetCharge retrieves a charge with its balance transaction expanded.
func (c *StripeClient) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	var ch *stripe.Charge
	err := c.call(ctx, "get_charge", func() error {
		params := &stripe.ChargeParams{}
		params.Context = ctx
		params.AddExpand("balance_transaction")
		var err error
		ch, err = charge.Get(chargeID, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get charge %s: %w", chargeID, mapStripeErr(err))
	}

	result := &Charge{
		ID:       ch.ID,
		Amount:   ch.Amount,
		Currency: string(ch.Currency),
	}
	if ch.PaymentIntent != nil {
		result.PaymentIntentID = ch.PaymentIntent.ID
	}
	if ch.BalanceTransaction != nil {
		result.BalanceTransaction = &BalanceTransaction{
			ID:     ch.BalanceTransaction.ID,
			Amount: ch.BalanceTransaction.Amount,
			Fee:    ch.BalanceTransaction.Fee,
			Net:    ch.BalanceTransaction.Net,
		}
	}
	if ch.ApplicationFee != nil {
		result.ApplicationFeeID = ch.ApplicationFee.ID
	}
	if ch.BillingDetails != nil {
		result.BillingName = ch.BillingDetails.Name
		result.BillingEmail = ch.BillingDetails.Email
		result.BillingPhone = ch.BillingDetails.Phone
	}
	return result, nil
}

// GetBalanceTransaction retrieves a balance transaction by ID.
func (c *StripeClient) GetBalanceTransaction(ctx context.Context, id string) (*BalanceTransaction, error) {
	var bt *stripe.BalanceTransaction
	err := c.call(ctx, "get_balance_transaction", func() error {
		params := &stripe.BalanceTransactionParams{}
		params.Context = ctx
		var err error
		bt, err = balancetransaction.Get(id, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get balance transaction %s: %w", id, mapStripeErr(err))
	}
	return &BalanceTransaction{
		ID:     bt.ID,
		Amount: bt.Amount,
		Fee:    bt.Fee,
		Net:    bt.Net,
	}, nil
}

// GetApplicationFee retrieves an application fee by ID.
func (c *StripeClient) GetApplicationFee(ctx context.Context, id string) (*ApplicationFee, error) {
	var fee *stripe.ApplicationFee
	err := c.call(ctx, "get_application_fee", func() error {
		params := &stripe.ApplicationFeeParams{}
		params.Context = ctx
		var err error
		fee, err = applicationfee.Get(id, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get application fee %s: %w", id, mapStripeErr(err))
	}
	return &ApplicationFee{ID: fee.ID, Amount: fee.Amount}, nil
}

// ListFeeRefunds lists the refunds recorded against an application fee.
func (c *StripeClient) ListFeeRefunds(ctx context.Context, applicationFeeID string) ([]*FeeRefund, error) {
	var refunds []*FeeRefund
	err := c.call(ctx, "list_fee_refunds", func() error {
		refunds = refunds[:0]
		params := &stripe.FeeRefundListParams{
			ID: stripe.String(applicationFeeID),
		}
		params.Context = ctx
		iter := feerefund.List(params)
		for iter.Next() {
			fr := iter.FeeRefund()
			refunds = append(refunds, &FeeRefund{
				ID:      fr.ID,
				Amount:  fr.Amount,
				Created: time.Unix(fr.Created, 0),
			})
		}
		return iter.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list fee refunds for %s: %w", applicationFeeID, mapStripeErr(err))
	}
	return refunds, nil
}

// GetPaymentIntent retrieves a payment intent by ID.
func (c *StripeClient) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var pi *stripe.PaymentIntent
	err := c.call(ctx, "get_payment_intent", func() error {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		var err error
		pi, err = paymentintent.Get(id, params)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", id, mapStripeErr(err))
	}

	result := &PaymentIntent{
		ID:       pi.ID,
		Amount:   pi.Amount,
		Currency: string(pi.Currency),
		Metadata: pi.Metadata,
	}
	if pi.LatestCharge != nil {
		result.LatestChargeID = pi.LatestCharge.ID
	}
	return result, nil
}

// call runs a Stripe API operation through the circuit breaker, retrying
// transient failures with bounded exponential backoff. Business-class
// Stripe errors (4xx) are returned immediately so callers fall through to
// their fallback tier.
func (c *StripeClient) call(ctx context.Context, operation string, fn func() error) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, retry.Do(ctx, c.retryCfg, fn, isTransient)
	})
	c.metrics.ObserveProcessorLookup(operation, err, time.Since(start))
	return err
}

// isTransient reports whether a Stripe API error is worth retrying.
// Rate limits and server-side failures are; invalid-request and
// missing-resource responses are terminal.
func isTransient(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
			return true
		case stripeErr.HTTPStatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// Non-Stripe errors are network-class failures.
	return true
}

// mapStripeErr converts missing-resource responses to ErrNotFound so
// callers can distinguish an orphaned lookup from an outage.
func mapStripeErr(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, stripeErr.Msg)
	}
	return err
}
