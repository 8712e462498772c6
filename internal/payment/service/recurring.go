package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateRecurringPayment only accepts tokens that were stored through
// SavePaymentMethod for the same client. The provider schedules the charges;
// nothing here bills on a cadence.
func (s *Service) CreateRecurringPayment(ctx context.Context, input domain.CreateRecurringInput) (*domain.RecurringPaymentConfig, error) {
	ctx, span := s.startSpan(ctx, "create_recurring_payment", attribute.String("provider_id", input.ProviderID.String()))
	cfg, err := s.createRecurringPayment(ctx, input)
	endSpan(span, err)
	return cfg, err
}

func (s *Service) createRecurringPayment(ctx context.Context, input domain.CreateRecurringInput) (*domain.RecurringPaymentConfig, error) {
	token := strings.TrimSpace(input.PaymentMethodToken)
	if token == "" {
		return nil, domain.Invalid("paymentMethodToken is required")
	}
	if input.ClientID <= 0 {
		return nil, domain.Invalid("clientId is required")
	}
	if !input.Frequency.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFrequency, input.Frequency)
	}
	if _, err := input.Frequency.Interval(input.Metadata); err != nil {
		return nil, err
	}
	currency := domain.NormalizeCurrency(input.Currency)
	if !domain.ValidCurrency(currency) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCurrency, input.Currency)
	}
	if err := domain.ValidateAmount(input.Amount, currency); err != nil {
		return nil, err
	}
	start := input.StartDate
	if start.IsZero() {
		start = s.clock.Now(ctx)
	}
	if input.EndDate != nil && !input.EndDate.After(start) {
		return nil, domain.Invalid("endDate must be after startDate")
	}

	provider, err := s.loadActiveProvider(ctx, nil, input.ProviderID)
	if err != nil {
		return nil, err
	}
	if !provider.SupportsRecurringPayments {
		return nil, domain.ErrRecurringNotSupported
	}
	pm, err := s.paymentMethods.FindByNaturalKey(ctx, nil, provider.ID, input.ClientID, token)
	if err != nil {
		return nil, err
	}
	if pm == nil || !pm.IsActive {
		return nil, fmt.Errorf("%w: no active payment method for client %d", domain.ErrPaymentMethodNotFound, input.ClientID)
	}

	gw, err := s.adapterFor(provider)
	if err != nil {
		return nil, err
	}
	id := s.genID.Generate()
	res, err := gw.CreateRecurringPayment(ctx, domain.RecurringRequest{
		ConfigID:           id,
		PaymentMethodToken: token,
		Frequency:          input.Frequency,
		Amount:             input.Amount,
		Currency:           currency,
		StartDate:          start,
		EndDate:            input.EndDate,
		Description:        input.Description,
		Metadata:           input.Metadata,
	})
	if err != nil {
		s.log.Error("provider create subscription failed",
			zap.String("provider_id", provider.ID.String()),
			zap.Error(err))
		return nil, err
	}

	status := res.Status
	if !status.Valid() {
		status = domain.RecurringActive
	}
	metadata := cloneMap(input.Metadata)
	if res.ApprovalURL != "" {
		metadata = mergeMap(metadata, map[string]any{"approvalUrl": res.ApprovalURL})
	}
	now := s.clock.Now(ctx)
	cfg := &domain.RecurringPaymentConfig{
		ID:                     id,
		ProviderID:             provider.ID,
		ClientID:               input.ClientID,
		ExternalSubscriptionID: strPtr(res.SubscriptionID),
		PaymentMethodToken:     token,
		Frequency:              input.Frequency,
		Amount:                 input.Amount,
		Currency:               currency,
		StartDate:              start,
		EndDate:                input.EndDate,
		Status:                 status,
		Description:            input.Description,
		LoanID:                 input.LoanID,
		SavingsAccountID:       input.SavingsAccountID,
		Metadata:               metadata,
		CreatedBy:              input.UserID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.recurring.Insert(ctx, nil, cfg); err != nil {
		s.log.Error("subscription created at provider but not stored",
			zap.String("subscription_id", res.SubscriptionID),
			zap.String("provider_id", provider.ID.String()),
			zap.Error(err))
		return nil, err
	}

	s.log.Info("recurring payment created",
		zap.String("recurring_id", cfg.ID.String()),
		zap.String("subscription_id", res.SubscriptionID),
		zap.String("frequency", string(cfg.Frequency)))
	return cfg, nil
}

// UpdateRecurringPaymentStatus changes the local row only after the provider
// accepted the change.
func (s *Service) UpdateRecurringPaymentStatus(ctx context.Context, input domain.UpdateRecurringStatusInput) (*domain.RecurringPaymentConfig, error) {
	if !input.Status.Requestable() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, input.Status)
	}
	ctx, span := s.startSpan(ctx, "update_recurring_status", attribute.String("recurring_id", input.ID.String()))
	var cfg *domain.RecurringPaymentConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		cfg, err = s.recurring.FindByID(ctx, tx, input.ID)
		if err != nil {
			return err
		}
		if cfg == nil {
			return domain.ErrRecurringNotFound
		}
		if cfg.Status == input.Status {
			return nil
		}
		switch cfg.Status {
		case domain.RecurringCancelled, domain.RecurringCompleted, domain.RecurringFailed:
			return fmt.Errorf("%w: subscription is %s", domain.ErrInvalidStatus, cfg.Status)
		}

		provider, err := s.loadProvider(ctx, tx, cfg.ProviderID)
		if err != nil {
			return err
		}
		gw, err := s.adapterFor(provider)
		if err != nil {
			return err
		}
		subscriptionID := ""
		if cfg.ExternalSubscriptionID != nil {
			subscriptionID = *cfg.ExternalSubscriptionID
		}
		res, err := gw.UpdateRecurringPaymentStatus(ctx, subscriptionID, input.Status)
		if err != nil {
			return err
		}
		if !res.Updated {
			return fmt.Errorf("%w: %s did not apply status %s", domain.ErrOperationNotSupported, provider.ProviderType, input.Status)
		}
		cfg.Status = input.Status
		cfg.UpdatedAt = s.clock.Now(ctx)
		return s.recurring.Update(ctx, tx, cfg)
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	s.log.Info("recurring payment status updated",
		zap.String("recurring_id", cfg.ID.String()),
		zap.String("status", string(cfg.Status)),
		zap.String("user_id", input.UserID))
	return cfg, nil
}

func (s *Service) GetRecurringPayment(ctx context.Context, id snowflake.ID) (*domain.RecurringPaymentConfig, error) {
	cfg, err := s.recurring.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, domain.ErrRecurringNotFound
	}
	return cfg, nil
}

func (s *Service) ListRecurringPayments(ctx context.Context, filter domain.RecurringFilter) ([]*domain.RecurringPaymentConfig, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, filter.Status)
	}
	return s.recurring.List(ctx, nil, filter)
}
