package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/events"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/finbridge/payhub/pkg/db/pagination"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func paymentInput(providerID snowflake.ID, amount string) domain.CreateTransactionInput {
	client := int64(7)
	return domain.CreateTransactionInput{
		ProviderID:      providerID,
		Amount:          decimal.RequireFromString(amount),
		Currency:        "usd",
		ReferenceNumber: "LOAN-7",
		ClientID:        &client,
		Description:     "loan repayment",
		UserID:          "teller",
	}
}

// createPending creates a transaction the mock provider reports as pending.
func (h *harness) createPending(t *testing.T, providerID snowflake.ID, amount, externalID string) *domain.Transaction {
	t.Helper()
	h.gw.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).
		Return(&domain.CreatePaymentResult{ExternalID: externalID, Status: domain.StatusPending}, nil)
	res, err := h.svc.CreateTransaction(context.Background(), paymentInput(providerID, amount))
	require.NoError(t, err)
	return res.Transaction
}

func (h *harness) completed(t *testing.T, providerID snowflake.ID, amount, externalID string) *domain.Transaction {
	t.Helper()
	txn := h.createPending(t, providerID, amount, externalID)
	h.gw.EXPECT().ExecutePayment(gomock.Any(), gomock.Any()).
		Return(&domain.ExecutePaymentResult{Success: true, Status: domain.StatusCompleted}, nil)
	out, err := h.svc.ExecutePayment(context.Background(), domain.ExecutePaymentInput{TransactionID: txn.ID, PaymentMethodToken: "pm_card"})
	require.NoError(t, err)
	return out.Transaction
}

func TestCreateTransactionStoresProviderReference(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)

	h.gw.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
			assert.NotZero(t, req.TransactionID)
			assert.Equal(t, "USD", req.Currency)
			assert.True(t, decimal.RequireFromString("50.00").Equal(req.Amount))
			return &domain.CreatePaymentResult{
				ExternalID: "pi_abc",
				Status:     domain.StatusPending,
				Audit:      domain.Audit{Request: []byte(`{"amount":5000}`), Response: []byte(`{"id":"pi_abc"}`)},
			}, nil
		})

	res, err := h.svc.CreateTransaction(context.Background(), paymentInput(p.ID, "50.00"))
	require.NoError(t, err)
	txn := res.Transaction
	assert.Equal(t, domain.StatusPending, txn.Status)
	assert.Equal(t, "pi_abc", txn.ExternalRef())
	assert.Equal(t, "USD", txn.Currency)
	assert.Equal(t, "teller", txn.CreatedBy)

	stored, err := h.svc.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_abc", stored.ExternalRef())
	assert.JSONEq(t, `{"id":"pi_abc"}`, string(stored.ResponsePayload))

	require.Len(t, h.published.events, 1)
	assert.Equal(t, events.TypeTransactionCreated, h.published.events[0].Type)
}

func TestCreateTransactionValidation(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	ctx := context.Background()

	_, err := h.svc.CreateTransaction(ctx, paymentInput(p.ID, "0"))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	in := paymentInput(p.ID, "10")
	in.Currency = "dollars"
	_, err = h.svc.CreateTransaction(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)

	_, err = h.svc.CreateTransaction(ctx, paymentInput(snowflake.ID(999), "10"))
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	h.gw.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).Return(nil, domain.Invalid("customer is required"))
	_, err = h.svc.CreateTransaction(ctx, paymentInput(p.ID, "10"))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	assert.Zero(t, count(t, h.db, &domain.Transaction{}))
}

func TestCreateTransactionKeepsRowOnProviderFailure(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)

	h.gw.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).
		Return(nil, &domain.ProviderError{Provider: domain.ProviderStripe, Operation: "create", StatusCode: 502, Message: "bad gateway"})

	_, err := h.svc.CreateTransaction(context.Background(), paymentInput(p.ID, "10"))
	assert.ErrorIs(t, err, domain.ErrProviderCall)

	list, err := h.svc.ListTransactions(context.Background(), domain.TransactionFilter{ProviderID: p.ID})
	require.NoError(t, err)
	require.Len(t, list.Transactions, 1)
	txn := list.Transactions[0]
	assert.Equal(t, domain.StatusPending, txn.Status)
	require.NotNil(t, txn.ErrorMessage)
	assert.Contains(t, *txn.ErrorMessage, "bad gateway")
}

func TestCreateTransactionRejectsSubUnitAmounts(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)

	for _, amount := range []string{"50.005", "0.004"} {
		_, err := h.svc.CreateTransaction(context.Background(), paymentInput(p.ID, amount))
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, amount)
	}
	assert.Zero(t, count(t, h.db, &domain.Transaction{}))

	h.gw.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).
		Return(&domain.CreatePaymentResult{ExternalID: "pi_trailing", Status: domain.StatusPending}, nil)
	_, err := h.svc.CreateTransaction(context.Background(), paymentInput(p.ID, "50.000"))
	assert.NoError(t, err)
}

func TestCreateTransactionKeepsRowWhenResultIsRejected(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)

	h.gw.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).
		Return(&domain.CreatePaymentResult{ExternalID: "pi_live", Status: domain.StatusRefunded}, nil)

	_, err := h.svc.CreateTransaction(context.Background(), paymentInput(p.ID, "10"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransactionState)

	list, err := h.svc.ListTransactions(context.Background(), domain.TransactionFilter{ProviderID: p.ID})
	require.NoError(t, err)
	require.Len(t, list.Transactions, 1)
	txn := list.Transactions[0]
	assert.Equal(t, domain.StatusPending, txn.Status)
	assert.Equal(t, "pi_live", txn.ExternalRef())
	require.NotNil(t, txn.ErrorMessage)
	assert.Contains(t, *txn.ErrorMessage, "cannot move")
}

func TestCreateTransactionKeepsRowWhenUpdateFails(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)

	h.gw.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
			err := h.db.Callback().Update().Before("gorm:update").Register("test:fail_update", func(db *gorm.DB) {
				_ = db.AddError(errors.New("disk full"))
			})
			require.NoError(t, err)
			return &domain.CreatePaymentResult{ExternalID: "pi_charged", Status: domain.StatusCompleted}, nil
		})

	_, err := h.svc.CreateTransaction(context.Background(), paymentInput(p.ID, "10"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	list, err := h.svc.ListTransactions(context.Background(), domain.TransactionFilter{ProviderID: p.ID})
	require.NoError(t, err)
	require.Len(t, list.Transactions, 1)
	assert.Equal(t, domain.StatusPending, list.Transactions[0].Status)
	assert.Empty(t, h.published.events)
}

func TestExecutePaymentThenCachedStatus(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	ctx := context.Background()
	txn := h.createPending(t, p.ID, "50.00", "pi_abc")

	h.gw.EXPECT().ExecutePayment(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.ExecutePaymentRequest) (*domain.ExecutePaymentResult, error) {
			assert.Equal(t, "pi_abc", req.ExternalID)
			assert.Equal(t, "pm_card_visa", req.PaymentMethodToken)
			return &domain.ExecutePaymentResult{
				Success:        true,
				Status:         domain.StatusCompleted,
				PaymentDetails: map[string]any{"last4": "4242"},
			}, nil
		})

	out, err := h.svc.ExecutePayment(ctx, domain.ExecutePaymentInput{TransactionID: txn.ID, PaymentMethod: "card", PaymentMethodToken: "pm_card_visa"})
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, domain.StatusCompleted, out.Transaction.Status)
	assert.Equal(t, "4242", out.Transaction.PaymentDetails["last4"])

	// Settled rows are served locally: the mock has no CheckPaymentStatus
	// expectation and would fail the test on a remote call.
	for i := 0; i < 2; i++ {
		got, err := h.svc.CheckPaymentStatus(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCompleted, got.Status)
	}

	_, err = h.svc.ExecutePayment(ctx, domain.ExecutePaymentInput{TransactionID: txn.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransactionState)

	last := h.published.events[len(h.published.events)-1]
	assert.Equal(t, events.TypeTransactionStatusChanged, last.Type)
	assert.Equal(t, "pending", last.FromStatus)
	assert.Equal(t, "completed", last.ToStatus)
}

func TestExecutePaymentChallengeStaysPending(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	txn := h.createPending(t, p.ID, "50.00", "pi_3ds")

	h.gw.EXPECT().ExecutePayment(gomock.Any(), gomock.Any()).
		Return(&domain.ExecutePaymentResult{Success: false, Status: domain.StatusPending, RedirectURL: "https://hooks.stripe.com/3ds"}, nil)

	out, err := h.svc.ExecutePayment(context.Background(), domain.ExecutePaymentInput{TransactionID: txn.ID, PaymentMethodToken: "pm_3ds"})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "https://hooks.stripe.com/3ds", out.RedirectURL)
	assert.Equal(t, domain.StatusPending, out.Transaction.Status)
}

func TestExecutePaymentProviderFailureKeepsPending(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	txn := h.createPending(t, p.ID, "50.00", "pi_timeout")

	h.gw.EXPECT().ExecutePayment(gomock.Any(), gomock.Any()).
		Return(nil, &domain.ProviderError{Provider: domain.ProviderStripe, Operation: "confirm", Message: "timeout"})

	_, err := h.svc.ExecutePayment(context.Background(), domain.ExecutePaymentInput{TransactionID: txn.ID})
	assert.ErrorIs(t, err, domain.ErrProviderCall)

	stored, err := h.svc.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
}

func TestCheckPaymentStatusPollsPending(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	txn := h.createPending(t, p.ID, "50.00", "pi_poll")

	h.gw.EXPECT().CheckPaymentStatus(gomock.Any(), domain.StatusRequest{TransactionID: txn.ID, ExternalID: "pi_poll"}).
		Return(&domain.StatusResult{Status: domain.StatusPending}, nil)
	got, err := h.svc.CheckPaymentStatus(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)

	h.gw.EXPECT().CheckPaymentStatus(gomock.Any(), gomock.Any()).
		Return(&domain.StatusResult{Status: domain.StatusFailed, ErrorMessage: "card_declined"}, nil)
	got, err = h.svc.CheckPaymentStatus(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "card_declined", *got.ErrorMessage)
}

func TestCheckPaymentStatusIgnoresRegression(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	txn := h.createPending(t, p.ID, "50.00", "pi_auth")
	require.NoError(t, h.db.Model(&domain.Transaction{}).Where("id = ?", txn.ID).Update("status", domain.StatusAuthorized).Error)

	h.gw.EXPECT().CheckPaymentStatus(gomock.Any(), gomock.Any()).
		Return(&domain.StatusResult{Status: domain.StatusPending}, nil)
	got, err := h.svc.CheckPaymentStatus(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAuthorized, got.Status)
}

func TestCheckPaymentStatusNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CheckPaymentStatus(context.Background(), snowflake.ID(12345))
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestListTransactionsPages(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	for _, ref := range []string{"pi_1", "pi_2", "pi_3"} {
		h.createPending(t, p.ID, "10", ref)
	}

	first, err := h.svc.ListTransactions(context.Background(), domain.TransactionFilter{
		ProviderID: p.ID,
		Page:       pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.Transactions, 2)
	require.True(t, first.PageInfo.HasMore)

	second, err := h.svc.ListTransactions(context.Background(), domain.TransactionFilter{
		ProviderID: p.ID,
		Page:       pagination.Pagination{PageSize: 2, PageToken: first.PageInfo.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.Transactions, 1)
	assert.False(t, second.PageInfo.HasMore)
	assert.Equal(t, "pi_1", second.Transactions[0].ExternalRef())

	_, err = h.svc.ListTransactions(context.Background(), domain.TransactionFilter{Page: pagination.Pagination{PageToken: "garbage"}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.svc.ListTransactions(context.Background(), domain.TransactionFilter{Status: "settled"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestReconcilePending(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	txn := h.createPending(t, p.ID, "50.00", "pi_stale")

	h.gw.EXPECT().CheckPaymentStatus(gomock.Any(), gomock.Any()).
		Return(&domain.StatusResult{Status: domain.StatusCompleted}, nil)

	settled, err := h.svc.ReconcilePending(context.Background(), testNow.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	stored, err := h.svc.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)

	settled, err = h.svc.ReconcilePending(context.Background(), testNow.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Zero(t, settled)
}
