package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SavePaymentMethod upserts on (provider, client, token). Making a method the
// default clears the previous default in the same database transaction.
func (s *Service) SavePaymentMethod(ctx context.Context, input domain.SavePaymentMethodInput) (*domain.PaymentMethod, error) {
	token := strings.TrimSpace(input.Token)
	if token == "" {
		return nil, domain.Invalid("token is required")
	}
	methodType := strings.TrimSpace(input.Type)
	if methodType == "" {
		return nil, domain.Invalid("type is required")
	}
	if input.ClientID <= 0 {
		return nil, domain.Invalid("clientId is required")
	}
	if len(input.Last4) > 4 {
		return nil, domain.Invalid("last4 must be at most 4 characters")
	}

	provider, err := s.loadActiveProvider(ctx, nil, input.ProviderID)
	if err != nil {
		return nil, err
	}
	gw, err := s.adapterFor(provider)
	if err != nil {
		return nil, err
	}
	if validator, ok := gw.(domain.TokenValidator); ok {
		valid, err := validator.ValidatePaymentMethodToken(ctx, token, methodType)
		if err != nil {
			return nil, err
		}
		if !valid {
			return nil, fmt.Errorf("%w: token rejected by %s", domain.ErrInvalidPaymentMethod, provider.ProviderType)
		}
	}

	var pm *domain.PaymentMethod
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.paymentMethods.FindByNaturalKey(ctx, tx, provider.ID, input.ClientID, token)
		if err != nil {
			return err
		}
		now := s.clock.Now(ctx)
		if existing == nil {
			pm = &domain.PaymentMethod{
				ID:         s.genID.Generate(),
				ProviderID: provider.ID,
				ClientID:   input.ClientID,
				Token:      token,
				CreatedBy:  input.UserID,
				CreatedAt:  now,
			}
		} else {
			pm = existing
		}
		pm.Type = methodType
		pm.IsDefault = input.IsDefault
		pm.IsActive = true
		pm.Last4 = input.Last4
		pm.Brand = input.Brand
		pm.ExpMonth = input.ExpMonth
		pm.ExpYear = input.ExpYear
		pm.HolderName = input.HolderName
		pm.Metadata = mergeMap(pm.Metadata, input.Metadata)
		pm.UpdatedAt = now

		if pm.IsDefault {
			if err := s.paymentMethods.ClearDefault(ctx, tx, provider.ID, input.ClientID, pm.ID); err != nil {
				return err
			}
		}
		if existing == nil {
			return s.paymentMethods.Insert(ctx, tx, pm)
		}
		return s.paymentMethods.Update(ctx, tx, pm)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment method saved",
		zap.String("payment_method_id", pm.ID.String()),
		zap.Int64("client_id", pm.ClientID),
		zap.Bool("default", pm.IsDefault))
	return pm, nil
}

func (s *Service) ListPaymentMethods(ctx context.Context, filter domain.PaymentMethodFilter) ([]*domain.PaymentMethod, error) {
	return s.paymentMethods.List(ctx, nil, filter)
}

// DeletePaymentMethod deactivates the row. Tokens stay on record because
// recurring configurations may still reference them.
func (s *Service) DeletePaymentMethod(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pm, err := s.paymentMethods.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if pm == nil {
			return domain.ErrPaymentMethodNotFound
		}
		pm.IsActive = false
		pm.IsDefault = false
		pm.UpdatedAt = s.clock.Now(ctx)
		return s.paymentMethods.Update(ctx, tx, pm)
	})
}
