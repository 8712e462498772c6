package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) savePM(t *testing.T, providerID snowflake.ID, token string, isDefault bool) *domain.PaymentMethod {
	t.Helper()
	h.tokens.EXPECT().ValidatePaymentMethodToken(gomock.Any(), token, "card").Return(true, nil)
	pm, err := h.svc.SavePaymentMethod(context.Background(), domain.SavePaymentMethodInput{
		ProviderID: providerID,
		ClientID:   7,
		Token:      token,
		Type:       "card",
		IsDefault:  isDefault,
		Last4:      "4242",
		Brand:      "visa",
	})
	require.NoError(t, err)
	return pm
}

func TestSavePaymentMethodKeepsSingleDefault(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	ctx := context.Background()

	a := h.savePM(t, p.ID, "pm_a", true)
	b := h.savePM(t, p.ID, "pm_b", true)
	again := h.savePM(t, p.ID, "pm_a", false)
	assert.Equal(t, a.ID, again.ID, "same token upserts")

	c := h.savePM(t, p.ID, "pm_c", true)

	items, err := h.svc.ListPaymentMethods(ctx, domain.PaymentMethodFilter{ProviderID: p.ID, ClientID: 7})
	require.NoError(t, err)
	require.Len(t, items, 3)
	defaults := 0
	for _, pm := range items {
		if pm.IsDefault {
			defaults++
			assert.Equal(t, c.ID, pm.ID)
		}
	}
	assert.Equal(t, 1, defaults)
	assert.NotEqual(t, b.ID, c.ID)
}

func TestSavePaymentMethodRejectsInvalidToken(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)

	h.tokens.EXPECT().ValidatePaymentMethodToken(gomock.Any(), "pm_gone", "card").Return(false, nil)
	_, err := h.svc.SavePaymentMethod(context.Background(), domain.SavePaymentMethodInput{
		ProviderID: p.ID, ClientID: 7, Token: "pm_gone", Type: "card",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)

	_, err = h.svc.SavePaymentMethod(context.Background(), domain.SavePaymentMethodInput{ProviderID: p.ID, ClientID: 7, Type: "card"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Zero(t, count(t, h.db, &domain.PaymentMethod{}))
}

func TestDeletePaymentMethodDeactivates(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	pm := h.savePM(t, p.ID, "pm_del", true)

	require.NoError(t, h.svc.DeletePaymentMethod(context.Background(), pm.ID))
	assert.ErrorIs(t, h.svc.DeletePaymentMethod(context.Background(), 424242), domain.ErrPaymentMethodNotFound)

	active, err := h.svc.ListPaymentMethods(context.Background(), domain.PaymentMethodFilter{ProviderID: p.ID, ClientID: 7, ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := h.svc.ListPaymentMethods(context.Background(), domain.PaymentMethodFilter{ProviderID: p.ID, ClientID: 7})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsDefault)
	assert.False(t, all[0].IsActive)
}

func recurringInput(providerID snowflake.ID, token string) domain.CreateRecurringInput {
	return domain.CreateRecurringInput{
		ProviderID:         providerID,
		ClientID:           7,
		PaymentMethodToken: token,
		Frequency:          domain.FrequencyBiweekly,
		Amount:             decimal.RequireFromString("25.00"),
		Currency:           "USD",
		StartDate:          testNow.Add(24 * time.Hour),
		Description:        "savings plan",
	}
}

func TestCreateRecurringPaymentRequiresSavedToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	noRecurring := h.provider(t, false, false)
	_, err := h.svc.CreateRecurringPayment(ctx, recurringInput(noRecurring.ID, "pm_sub"))
	assert.ErrorIs(t, err, domain.ErrRecurringNotSupported)

	recurringOn := true
	_, err = h.svc.UpdateProvider(ctx, domain.UpdateProviderInput{ID: noRecurring.ID, SupportsRecurringPayments: &recurringOn})
	require.NoError(t, err)

	_, err = h.svc.CreateRecurringPayment(ctx, recurringInput(noRecurring.ID, "pm_sub"))
	assert.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)

	in := recurringInput(noRecurring.ID, "pm_sub")
	in.Frequency = "fortnightly"
	_, err = h.svc.CreateRecurringPayment(ctx, in)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFrequency)

	assert.Zero(t, count(t, h.db, &domain.RecurringPaymentConfig{}))
}

func TestRecurringLifecycle(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, true)
	ctx := context.Background()
	h.savePM(t, p.ID, "pm_sub", true)

	h.gw.EXPECT().CreateRecurringPayment(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.RecurringRequest) (*domain.RecurringResult, error) {
			assert.Equal(t, domain.FrequencyBiweekly, req.Frequency)
			assert.Equal(t, "pm_sub", req.PaymentMethodToken)
			assert.NotZero(t, req.ConfigID)
			return &domain.RecurringResult{SubscriptionID: "sub_1", Status: domain.RecurringActive, ApprovalURL: "https://approve"}, nil
		})
	cfg, err := h.svc.CreateRecurringPayment(ctx, recurringInput(p.ID, "pm_sub"))
	require.NoError(t, err)
	assert.Equal(t, domain.RecurringActive, cfg.Status)
	require.NotNil(t, cfg.ExternalSubscriptionID)
	assert.Equal(t, "sub_1", *cfg.ExternalSubscriptionID)
	assert.Equal(t, "https://approve", cfg.Metadata["approvalUrl"])

	h.gw.EXPECT().UpdateRecurringPaymentStatus(gomock.Any(), "sub_1", domain.RecurringPaused).
		Return(&domain.RecurringStatusResult{Updated: true}, nil)
	cfg, err = h.svc.UpdateRecurringPaymentStatus(ctx, domain.UpdateRecurringStatusInput{ID: cfg.ID, Status: domain.RecurringPaused})
	require.NoError(t, err)
	assert.Equal(t, domain.RecurringPaused, cfg.Status)

	// Provider refusal leaves the local row untouched.
	h.gw.EXPECT().UpdateRecurringPaymentStatus(gomock.Any(), "sub_1", domain.RecurringActive).
		Return(nil, domain.ErrOperationNotSupported)
	_, err = h.svc.UpdateRecurringPaymentStatus(ctx, domain.UpdateRecurringStatusInput{ID: cfg.ID, Status: domain.RecurringActive})
	assert.ErrorIs(t, err, domain.ErrOperationNotSupported)
	stored, err := h.svc.GetRecurringPayment(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RecurringPaused, stored.Status)

	h.gw.EXPECT().UpdateRecurringPaymentStatus(gomock.Any(), "sub_1", domain.RecurringCancelled).
		Return(&domain.RecurringStatusResult{Updated: true}, nil)
	_, err = h.svc.UpdateRecurringPaymentStatus(ctx, domain.UpdateRecurringStatusInput{ID: cfg.ID, Status: domain.RecurringCancelled})
	require.NoError(t, err)

	_, err = h.svc.UpdateRecurringPaymentStatus(ctx, domain.UpdateRecurringStatusInput{ID: cfg.ID, Status: domain.RecurringActive})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	_, err = h.svc.UpdateRecurringPaymentStatus(ctx, domain.UpdateRecurringStatusInput{ID: cfg.ID, Status: domain.RecurringCompleted})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	items, err := h.svc.ListRecurringPayments(ctx, domain.RecurringFilter{ClientID: 7, Status: domain.RecurringCancelled})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = h.svc.GetRecurringPayment(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrRecurringNotFound)
}

func TestExecutePaymentUsesSavedMethodType(t *testing.T) {
	h := newHarness(t)
	p := h.provider(t, false, false)
	h.savePM(t, p.ID, "pm_saved", true)
	txn := h.createPending(t, p.ID, "12.00", "pi_saved")

	h.gw.EXPECT().ExecutePayment(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.ExecutePaymentRequest) (*domain.ExecutePaymentResult, error) {
			assert.Equal(t, "card", req.PaymentMethod)
			assert.Equal(t, "pm_saved", req.PaymentMethodToken)
			return &domain.ExecutePaymentResult{Success: true, Status: domain.StatusCompleted}, nil
		})
	out, err := h.svc.ExecutePayment(context.Background(), domain.ExecutePaymentInput{TransactionID: txn.ID, PaymentMethodToken: "pm_saved"})
	require.NoError(t, err)
	assert.Equal(t, "card", out.Transaction.PaymentMethod)
}
