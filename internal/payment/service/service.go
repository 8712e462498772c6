package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/clock"
	"github.com/finbridge/payhub/internal/events"
	"github.com/finbridge/payhub/internal/observability"
	"github.com/finbridge/payhub/internal/payment/adapters"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/finbridge/payhub/internal/payment/webhook"
	"github.com/finbridge/payhub/internal/security/vault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const tracerName = "github.com/finbridge/payhub/internal/payment/service"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Registry *adapters.Registry
	Vault    vault.Provider
	Clock    clock.Clock

	Providers      domain.ProviderRepository
	Transactions   domain.TransactionRepository
	PaymentMethods domain.PaymentMethodRepository
	Recurring      domain.RecurringRepository
	WebhookEvents  domain.WebhookEventRepository

	Deduper   domain.Deduper         `optional:"true"`
	Publisher events.Publisher       `optional:"true"`
	Metrics   *observability.Metrics `optional:"true"`
}

// Service reconciles local payment rows with provider state. Every remote
// call goes through a fresh adapter built from the provider's stored
// configuration.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	registry *adapters.Registry
	vault    vault.Provider
	clock    clock.Clock
	tracer   trace.Tracer

	providers      domain.ProviderRepository
	transactions   domain.TransactionRepository
	paymentMethods domain.PaymentMethodRepository
	recurring      domain.RecurringRepository
	webhookEvents  domain.WebhookEventRepository

	deduper   domain.Deduper
	publisher events.Publisher
	metrics   *observability.Metrics
}

var _ domain.GatewayService = (*Service)(nil)

func NewService(p Params) *Service {
	s := &Service{
		db:             p.DB,
		log:            p.Log.Named("payment.service"),
		genID:          p.GenID,
		registry:       p.Registry,
		vault:          p.Vault,
		clock:          p.Clock,
		tracer:         otel.Tracer(tracerName),
		providers:      p.Providers,
		transactions:   p.Transactions,
		paymentMethods: p.PaymentMethods,
		recurring:      p.Recurring,
		webhookEvents:  p.WebhookEvents,
		deduper:        p.Deduper,
		publisher:      p.Publisher,
		metrics:        p.Metrics,
	}
	if s.clock == nil {
		s.clock = clock.SystemClock{}
	}
	if s.deduper == nil {
		s.deduper = webhook.NoopDeduper{}
	}
	if s.publisher == nil {
		s.publisher = events.NoopPublisher{}
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "payment."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *Service) loadProvider(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Provider, error) {
	if id == 0 {
		return nil, domain.ErrInvalidProvider
	}
	provider, err := s.providers.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, domain.ErrProviderNotFound
	}
	return provider, nil
}

func (s *Service) loadActiveProvider(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Provider, error) {
	provider, err := s.loadProvider(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if !provider.IsActive {
		return nil, domain.ErrProviderInactive
	}
	return provider, nil
}

func (s *Service) encryptConfig(config map[string]any) (datatypes.JSON, error) {
	plain, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	sealed, err := s.vault.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt provider configuration: %w", err)
	}
	return datatypes.JSON(sealed), nil
}

func (s *Service) decryptConfig(provider *domain.Provider) (map[string]any, error) {
	plain, err := s.vault.Decrypt(provider.Configuration)
	if err != nil {
		return nil, fmt.Errorf("decrypt configuration of provider %s: %w", provider.ID, err)
	}
	config := map[string]any{}
	if err := json.Unmarshal(plain, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return config, nil
}

// adapterFor builds a new adapter per call. Adapters are stateless, but
// configuration edits must take effect on the next operation.
func (s *Service) adapterFor(provider *domain.Provider) (domain.Gateway, error) {
	config, err := s.decryptConfig(provider)
	if err != nil {
		return nil, err
	}
	return s.registry.NewAdapter(provider.ID, provider.ProviderType, config)
}

// applyStatus moves txn to next when the transition is legal. It reports
// whether the status changed.
func applyStatus(txn *domain.Transaction, next domain.TransactionStatus) (bool, error) {
	if next == "" || next == txn.Status {
		return false, nil
	}
	if !domain.CanTransition(txn.Status, next) {
		return false, fmt.Errorf("%w: %s cannot move from %s to %s", domain.ErrInvalidTransactionState, txn.ID, txn.Status, next)
	}
	txn.Status = next
	return true, nil
}

type statusChange struct {
	txn  *domain.Transaction
	from domain.TransactionStatus
}

// publish runs after commit. Delivery failures are logged; the ledger row is
// already the source of truth.
func (s *Service) publish(ctx context.Context, provider *domain.Provider, source string, created bool, changes ...statusChange) {
	for _, ch := range changes {
		if ch.txn == nil {
			continue
		}
		evtType := events.TypeTransactionStatusChanged
		if created {
			evtType = events.TypeTransactionCreated
		} else {
			s.metrics.IncTransition(string(provider.ProviderType), string(ch.from), string(ch.txn.Status))
		}
		evt := events.TransactionEvent{
			Type:            evtType,
			TransactionID:   ch.txn.ID.String(),
			ProviderID:      provider.ID.String(),
			ProviderType:    string(provider.ProviderType),
			TransactionType: string(ch.txn.TransactionType),
			ExternalID:      ch.txn.ExternalRef(),
			FromStatus:      string(ch.from),
			ToStatus:        string(ch.txn.Status),
			Amount:          ch.txn.Amount.String(),
			Currency:        ch.txn.Currency,
			Source:          source,
			OccurredAt:      s.clock.Now(ctx),
		}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			s.log.Warn("publish transaction event failed",
				zap.String("transaction_id", evt.TransactionID),
				zap.String("type", evt.Type),
				zap.Error(err))
		}
	}
}

func auditJSON(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return datatypes.JSON(raw)
}

func strPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	return strPtr(err.Error())
}

func mergeMap(dst datatypes.JSONMap, src map[string]any) datatypes.JSONMap {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = datatypes.JSONMap{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneMap(src map[string]any) datatypes.JSONMap {
	if len(src) == 0 {
		return nil
	}
	return mergeMap(nil, src)
}

// isProviderFailure separates remote call failures, after which the local row
// is kept with its last known status, from local validation errors.
func isProviderFailure(err error) bool {
	return errors.Is(err, domain.ErrProviderCall)
}
