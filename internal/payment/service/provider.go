package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/finbridge/payhub/pkg/db"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func providerCode(code, name string) string {
	if c := slug.Make(strings.TrimSpace(code)); c != "" {
		return c
	}
	return slug.Make(strings.TrimSpace(name))
}

// RegisterProvider validates the credentials by building an adapter before
// anything is written. No network call is made.
func (s *Service) RegisterProvider(ctx context.Context, input domain.RegisterProviderInput) (*domain.Provider, error) {
	ctx, span := s.startSpan(ctx, "register_provider", attribute.String("provider_type", string(input.ProviderType)))
	provider, err := s.registerProvider(ctx, input)
	endSpan(span, err)
	return provider, err
}

func (s *Service) registerProvider(ctx context.Context, input domain.RegisterProviderInput) (*domain.Provider, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domain.Invalid("name is required")
	}
	providerType, ok := domain.ParseProviderType(string(input.ProviderType))
	if !ok || !s.registry.ProviderExists(providerType) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, input.ProviderType)
	}
	code := providerCode(input.Code, name)
	if code == "" {
		return nil, domain.Invalid("code is required")
	}

	id := s.genID.Generate()
	if _, err := s.registry.NewAdapter(id, providerType, input.Configuration); err != nil {
		return nil, err
	}
	sealed, err := s.encryptConfig(input.Configuration)
	if err != nil {
		return nil, err
	}

	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}
	now := s.clock.Now(ctx)
	provider := &domain.Provider{
		ID:                        id,
		Code:                      code,
		Name:                      name,
		ProviderType:              providerType,
		Configuration:             sealed,
		SupportsRefunds:           input.SupportsRefunds,
		SupportsPartialPayments:   input.SupportsPartialPayments,
		SupportsRecurringPayments: input.SupportsRecurringPayments,
		IsActive:                  active,
		CreatedBy:                 input.UserID,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.providers.FindByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", domain.ErrProviderCodeTaken, code)
		}
		if err := s.providers.Insert(ctx, tx, provider); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s", domain.ErrProviderCodeTaken, code)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment provider registered",
		zap.String("provider_id", provider.ID.String()),
		zap.String("code", provider.Code),
		zap.String("provider_type", string(provider.ProviderType)))
	return provider, nil
}

// UpdateProvider re-validates credentials only when a new configuration is
// supplied.
func (s *Service) UpdateProvider(ctx context.Context, input domain.UpdateProviderInput) (*domain.Provider, error) {
	ctx, span := s.startSpan(ctx, "update_provider", attribute.String("provider_id", input.ID.String()))
	var provider *domain.Provider
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		provider, err = s.loadProvider(ctx, tx, input.ID)
		if err != nil {
			return err
		}
		if input.Name != nil {
			name := strings.TrimSpace(*input.Name)
			if name == "" {
				return domain.Invalid("name cannot be empty")
			}
			provider.Name = name
		}
		if input.Configuration != nil {
			if _, err := s.registry.NewAdapter(provider.ID, provider.ProviderType, input.Configuration); err != nil {
				return err
			}
			sealed, err := s.encryptConfig(input.Configuration)
			if err != nil {
				return err
			}
			provider.Configuration = sealed
		}
		if input.SupportsRefunds != nil {
			provider.SupportsRefunds = *input.SupportsRefunds
		}
		if input.SupportsPartialPayments != nil {
			provider.SupportsPartialPayments = *input.SupportsPartialPayments
		}
		if input.SupportsRecurringPayments != nil {
			provider.SupportsRecurringPayments = *input.SupportsRecurringPayments
		}
		if input.IsActive != nil {
			provider.IsActive = *input.IsActive
		}
		provider.UpdatedAt = s.clock.Now(ctx)
		return s.providers.Update(ctx, tx, provider)
	})
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	s.log.Info("payment provider updated",
		zap.String("provider_id", provider.ID.String()),
		zap.Bool("configuration_changed", input.Configuration != nil),
		zap.String("user_id", input.UserID))
	return provider, nil
}

func (s *Service) GetProvider(ctx context.Context, id snowflake.ID) (*domain.Provider, error) {
	return s.loadProvider(ctx, nil, id)
}

func (s *Service) GetProviderByCode(ctx context.Context, code string) (*domain.Provider, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, domain.ErrInvalidProvider
	}
	provider, err := s.providers.FindByCode(ctx, nil, code)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, domain.ErrProviderNotFound
	}
	return provider, nil
}

func (s *Service) ListProviders(ctx context.Context, filter domain.ProviderFilter) ([]*domain.Provider, error) {
	if filter.ProviderType != "" {
		t, ok := domain.ParseProviderType(string(filter.ProviderType))
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedProvider, filter.ProviderType)
		}
		filter.ProviderType = t
	}
	return s.providers.List(ctx, nil, filter)
}

// DeleteProvider keeps providers that still own ledger rows and only
// deactivates them.
func (s *Service) DeleteProvider(ctx context.Context, id snowflake.ID) (*domain.DeleteProviderResult, error) {
	var result domain.DeleteProviderResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		provider, err := s.loadProvider(ctx, tx, id)
		if err != nil {
			return err
		}
		inUse, err := s.providers.HasDependents(ctx, tx, id)
		if err != nil {
			return err
		}
		if inUse {
			provider.IsActive = false
			provider.UpdatedAt = s.clock.Now(ctx)
			result.Deactivated = true
			result.Provider = provider
			return s.providers.Update(ctx, tx, provider)
		}
		result.Deleted = true
		return s.providers.Delete(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("payment provider removed",
		zap.String("provider_id", id.String()),
		zap.Bool("deleted", result.Deleted),
		zap.Bool("deactivated", result.Deactivated))
	return &result, nil
}
