package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinicpay/server/internal/module/processor"
)

// FeeBreakdown is the per-payment money split learned from the
// processor's balance transaction and application fee.
type FeeBreakdown struct {
	StripeFee   int64
	NetAmount   int64
	PlatformFee int64
}

var errNoApplicationFee = errors.New("charge has no application fee")

// FeeResolver answers fee questions against the processor. Every lookup
// here is best-effort from the callers' perspective; a resolver failure
// must never block recording the underlying payment or refund.
type FeeResolver struct {
	client    processor.Client
	tolerance time.Duration
	logger    *zap.Logger
}

// NewFeeResolver creates a fee resolver. tolerance bounds the timestamp
// match in the application-fee refund tier.
func NewFeeResolver(client processor.Client, tolerance time.Duration, logger *zap.Logger) *FeeResolver {
	if tolerance <= 0 {
		tolerance = 10 * time.Second
	}
	return &FeeResolver{client: client, tolerance: tolerance, logger: logger}
}

// ResolveChargeFees retrieves the charge and extracts the processor fee,
// net settlement and platform cut. A charge without a settled balance
// transaction yields zero fees, not an error.
func (f *FeeResolver) ResolveChargeFees(ctx context.Context, chargeID string) (FeeBreakdown, error) {
	var fees FeeBreakdown

	charge, err := f.client.GetCharge(ctx, chargeID)
	if err != nil {
		return fees, fmt.Errorf("get charge %s: %w", chargeID, err)
	}

	if charge.BalanceTransaction != nil {
		fees.StripeFee = charge.BalanceTransaction.Fee
		fees.NetAmount = charge.BalanceTransaction.Net
	}

	if charge.ApplicationFeeID != "" {
		appFee, err := f.client.GetApplicationFee(ctx, charge.ApplicationFeeID)
		if err != nil {
			return fees, fmt.Errorf("get application fee %s: %w", charge.ApplicationFeeID, err)
		}
		fees.PlatformFee = appFee.Amount
	}

	return fees, nil
}

// refundFeeStrategy is one tier of the refund-fee lookup chain.
type refundFeeStrategy struct {
	name string
	fn   func(ctx context.Context, charge *processor.Charge, ev RefundEvent) (int64, error)
}

// ResolveRefundFee resolves the processor fee charged for a refund. The
// tiers are tried in order and the first success wins:
//
//  1. Connect charges carry an application fee whose refunds mirror the
//     charge refunds. Match the fee refund created closest in time to
//     this refund, within the configured tolerance, falling back to the
//     most recent fee refund when nothing is within tolerance.
//  2. Charges without an application fee settle the fee on the refund's
//     own balance transaction; take the absolute value of its fee.
//
// Returns the fee and the name of the tier that produced it.
func (f *FeeResolver) ResolveRefundFee(ctx context.Context, charge *processor.Charge, ev RefundEvent) (int64, string, error) {
	strategies := []refundFeeStrategy{
		{name: "application_fee_chain", fn: f.applicationFeeChain},
		{name: "balance_transaction", fn: f.balanceTransactionFallback},
	}

	var lastErr error
	for _, s := range strategies {
		fee, err := s.fn(ctx, charge, ev)
		if err == nil {
			return fee, s.name, nil
		}
		lastErr = err
		f.logger.Debug("refund fee tier did not resolve",
			zap.String("tier", s.name),
			zap.String("refund_id", ev.RefundID),
			zap.Error(err),
		)
	}
	return 0, "", fmt.Errorf("all refund fee tiers failed: %w", lastErr)
}

func (f *FeeResolver) applicationFeeChain(ctx context.Context, charge *processor.Charge, ev RefundEvent) (int64, error) {
	if charge.ApplicationFeeID == "" {
		return 0, errNoApplicationFee
	}

	refunds, err := f.client.ListFeeRefunds(ctx, charge.ApplicationFeeID)
	if err != nil {
		return 0, fmt.Errorf("list fee refunds for %s: %w", charge.ApplicationFeeID, err)
	}
	if len(refunds) == 0 {
		return 0, fmt.Errorf("application fee %s has no refunds", charge.ApplicationFeeID)
	}

	// Prefer the fee refund created together with this refund. Several
	// partial refunds on one charge each spawn their own fee refund, so
	// timestamp proximity is the only linkage the processor exposes.
	var best *processor.FeeRefund
	var bestDelta time.Duration
	for _, fr := range refunds {
		delta := fr.Created.Sub(ev.Created)
		if delta < 0 {
			delta = -delta
		}
		if delta <= f.tolerance && (best == nil || delta < bestDelta) {
			best = fr
			bestDelta = delta
		}
	}
	if best != nil {
		return best.Amount, nil
	}

	// Nothing within tolerance; take the most recently created.
	latest := refunds[0]
	for _, fr := range refunds[1:] {
		if fr.Created.After(latest.Created) {
			latest = fr
		}
	}
	return latest.Amount, nil
}

func (f *FeeResolver) balanceTransactionFallback(ctx context.Context, _ *processor.Charge, ev RefundEvent) (int64, error) {
	if ev.BalanceTransactionID == "" {
		return 0, errors.New("refund has no balance transaction")
	}
	bt, err := f.client.GetBalanceTransaction(ctx, ev.BalanceTransactionID)
	if err != nil {
		return 0, fmt.Errorf("get balance transaction %s: %w", ev.BalanceTransactionID, err)
	}
	fee := bt.Fee
	if fee < 0 {
		fee = -fee
	}
	return fee, nil
}
