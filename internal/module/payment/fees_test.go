package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicpay/server/internal/module/processor"
)

func newFeeResolver(client *MockProcessorClient) *FeeResolver {
	return NewFeeResolver(client, 10*time.Second, zap.NewNop())
}

func TestResolveChargeFees(t *testing.T) {
	client := NewMockProcessorClient()
	client.charges["ch_1"] = &processor.Charge{
		ID: "ch_1",
		BalanceTransaction: &processor.BalanceTransaction{
			ID:  "txn_1",
			Fee: 95,
			Net: 4905,
		},
		ApplicationFeeID: "fee_1",
	}
	client.appFees["fee_1"] = &processor.ApplicationFee{ID: "fee_1", Amount: 150}

	fees, err := newFeeResolver(client).ResolveChargeFees(context.Background(), "ch_1")
	require.NoError(t, err)
	assert.Equal(t, int64(95), fees.StripeFee)
	assert.Equal(t, int64(4905), fees.NetAmount)
	assert.Equal(t, int64(150), fees.PlatformFee)
}

func TestResolveChargeFeesUnsettledCharge(t *testing.T) {
	client := NewMockProcessorClient()
	client.charges["ch_1"] = &processor.Charge{ID: "ch_1"}

	fees, err := newFeeResolver(client).ResolveChargeFees(context.Background(), "ch_1")
	require.NoError(t, err)
	assert.Zero(t, fees.StripeFee)
	assert.Zero(t, fees.NetAmount)
	assert.Zero(t, fees.PlatformFee)
}

func TestResolveRefundFeeMatchesByTimestamp(t *testing.T) {
	client := NewMockProcessorClient()
	refundAt := time.Now()
	client.feeRefunds["fee_1"] = []*processor.FeeRefund{
		{ID: "fr_old", Amount: 300, Created: refundAt.Add(-2 * time.Hour)},
		{ID: "fr_match", Amount: 150, Created: refundAt.Add(3 * time.Second)},
		{ID: "fr_close", Amount: 200, Created: refundAt.Add(8 * time.Second)},
	}
	charge := &processor.Charge{ID: "ch_1", ApplicationFeeID: "fee_1"}
	ev := RefundEvent{RefundID: "re_1", Created: refundAt}

	fee, tier, err := newFeeResolver(client).ResolveRefundFee(context.Background(), charge, ev)
	require.NoError(t, err)
	assert.Equal(t, int64(150), fee)
	assert.Equal(t, "application_fee_chain", tier)
}

func TestResolveRefundFeeFallsBackToLatest(t *testing.T) {
	client := NewMockProcessorClient()
	refundAt := time.Now()
	// Nothing within the 10s window; the most recent fee refund wins.
	client.feeRefunds["fee_1"] = []*processor.FeeRefund{
		{ID: "fr_old", Amount: 300, Created: refundAt.Add(-2 * time.Hour)},
		{ID: "fr_latest", Amount: 175, Created: refundAt.Add(-5 * time.Minute)},
	}
	charge := &processor.Charge{ID: "ch_1", ApplicationFeeID: "fee_1"}
	ev := RefundEvent{RefundID: "re_1", Created: refundAt}

	fee, tier, err := newFeeResolver(client).ResolveRefundFee(context.Background(), charge, ev)
	require.NoError(t, err)
	assert.Equal(t, int64(175), fee)
	assert.Equal(t, "application_fee_chain", tier)
}

func TestResolveRefundFeeBalanceTransactionTier(t *testing.T) {
	client := NewMockProcessorClient()
	client.balanceTxns["txn_r1"] = &processor.BalanceTransaction{
		ID:  "txn_r1",
		Fee: -120,
	}
	// No application fee on the charge at all.
	charge := &processor.Charge{ID: "ch_1"}
	ev := RefundEvent{RefundID: "re_1", BalanceTransactionID: "txn_r1", Created: time.Now()}

	fee, tier, err := newFeeResolver(client).ResolveRefundFee(context.Background(), charge, ev)
	require.NoError(t, err)
	assert.Equal(t, int64(120), fee)
	assert.Equal(t, "balance_transaction", tier)
}

func TestResolveRefundFeeBothTiersFail(t *testing.T) {
	client := NewMockProcessorClient()
	charge := &processor.Charge{ID: "ch_1"}
	ev := RefundEvent{RefundID: "re_1", Created: time.Now()}

	_, _, err := newFeeResolver(client).ResolveRefundFee(context.Background(), charge, ev)
	assert.Error(t, err)
}

func TestResolveRefundFeeConfigurableTolerance(t *testing.T) {
	client := NewMockProcessorClient()
	refundAt := time.Now()
	client.feeRefunds["fee_1"] = []*processor.FeeRefund{
		{ID: "fr_1", Amount: 150, Created: refundAt.Add(25 * time.Second)},
	}
	charge := &processor.Charge{ID: "ch_1", ApplicationFeeID: "fee_1"}
	ev := RefundEvent{RefundID: "re_1", Created: refundAt}

	// A wider window admits the match that the default would only reach
	// through the latest-refund fallback.
	resolver := NewFeeResolver(client, time.Minute, zap.NewNop())
	fee, _, err := resolver.ResolveRefundFee(context.Background(), charge, ev)
	require.NoError(t, err)
	assert.Equal(t, int64(150), fee)
}
