package service

import (
	"context"
	"testing"

	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amountPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestRefundPartialThenFull(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, true, false)
	ctx := context.Background()
	txn := h.completed(t, p.ID, "50.00", "pi_refund")

	h.gw.EXPECT().RefundPayment(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
			assert.Equal(t, "pi_refund", req.ExternalID)
			assert.True(t, decimal.RequireFromString("20").Equal(req.Amount))
			assert.True(t, decimal.RequireFromString("50").Equal(req.CapturedAmount))
			return &domain.RefundResult{Success: true, Status: domain.StatusCompleted, RefundID: "re_1"}, nil
		})

	out, err := h.svc.RefundPayment(ctx, domain.RefundInput{TransactionID: txn.ID, Amount: amountPtr("20.00"), Reason: "duplicate"})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, domain.StatusPartiallyRefunded, out.Original.Status)
	assert.Equal(t, domain.TransactionTypeRefund, out.Refund.TransactionType)
	assert.Equal(t, "re_1", out.Refund.ExternalRef())
	require.NotNil(t, out.Refund.ParentTransactionID)
	assert.Equal(t, txn.ID, *out.Refund.ParentTransactionID)
	assert.Equal(t, txn.ID.String(), out.Refund.Metadata["originalTransactionId"])
	assert.True(t, decimal.RequireFromString("20").Equal(out.Refund.Amount))

	_, err = h.svc.RefundPayment(ctx, domain.RefundInput{TransactionID: txn.ID, Amount: amountPtr("80.00")})
	assert.ErrorIs(t, err, domain.ErrRefundExceedsAmount)

	h.gw.EXPECT().RefundPayment(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
			assert.True(t, decimal.RequireFromString("30").Equal(req.Amount))
			return &domain.RefundResult{Success: true, Status: domain.StatusCompleted, RefundID: "re_2"}, nil
		})
	out, err = h.svc.RefundPayment(ctx, domain.RefundInput{TransactionID: txn.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, out.Original.Status)

	_, err = h.svc.RefundPayment(ctx, domain.RefundInput{TransactionID: txn.ID, Amount: amountPtr("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidTransactionState)

	refunds, err := h.svc.ListTransactions(ctx, domain.TransactionFilter{ParentTransactionID: txn.ID})
	require.NoError(t, err)
	assert.Len(t, refunds.Transactions, 2)
}

func TestRefundRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	noRefunds := h.provider(t, false, false)
	txn := h.completed(t, noRefunds.ID, "50.00", "pi_norefund")
	_, err := h.svc.RefundPayment(ctx, domain.RefundInput{TransactionID: txn.ID})
	assert.ErrorIs(t, err, domain.ErrRefundsNotSupported)

	refundsOn := true
	_, err = h.svc.UpdateProvider(ctx, domain.UpdateProviderInput{ID: noRefunds.ID, SupportsRefunds: &refundsOn})
	require.NoError(t, err)

	_, err = h.svc.RefundPayment(ctx, domain.RefundInput{TransactionID: txn.ID, Amount: amountPtr("0")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.svc.RefundPayment(ctx, domain.RefundInput{TransactionID: txn.ID, Amount: amountPtr("-5")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.svc.RefundPayment(ctx, domain.RefundInput{TransactionID: txn.ID, Amount: amountPtr("0.004")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.svc.RefundPayment(ctx, domain.RefundInput{TransactionID: txn.ID, Amount: amountPtr("10.005")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	pending := h.createPending(t, noRefunds.ID, "10.00", "pi_pending")
	_, err = h.svc.RefundPayment(ctx, domain.RefundInput{TransactionID: pending.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransactionState)

	assert.Equal(t, int64(2), count(t, h.db, &domain.Transaction{}))
}

func TestRefundDeclinedKeepsOriginal(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, true, false)
	txn := h.completed(t, p.ID, "50.00", "pi_declined_refund")

	h.gw.EXPECT().RefundPayment(gomock.Any(), gomock.Any()).
		Return(&domain.RefundResult{Success: false, Status: domain.StatusFailed, RefundID: "re_failed", ErrorMessage: "charge disputed"}, nil)

	out, err := h.svc.RefundPayment(context.Background(), domain.RefundInput{TransactionID: txn.ID, Amount: amountPtr("10")})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, domain.StatusFailed, out.Refund.Status)
	assert.Equal(t, domain.StatusCompleted, out.Original.Status)

	// A failed refund does not consume the refundable balance.
	h.gw.EXPECT().RefundPayment(gomock.Any(), gomock.Any()).
		Return(&domain.RefundResult{Success: true, Status: domain.StatusCompleted, RefundID: "re_ok"}, nil)
	out, err = h.svc.RefundPayment(context.Background(), domain.RefundInput{TransactionID: txn.ID, Amount: amountPtr("50")})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, out.Original.Status)
}

func TestRefundProviderErrorWritesNothing(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, true, false)
	txn := h.completed(t, p.ID, "50.00", "pi_refund_err")

	h.gw.EXPECT().RefundPayment(gomock.Any(), gomock.Any()).
		Return(nil, &domain.ProviderError{Provider: domain.ProviderStripe, Operation: "refund", StatusCode: 500, Message: "boom"})

	_, err := h.svc.RefundPayment(context.Background(), domain.RefundInput{TransactionID: txn.ID})
	assert.ErrorIs(t, err, domain.ErrProviderCall)

	stored, err := h.svc.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, int64(1), count(t, h.db, &domain.Transaction{}))
}
