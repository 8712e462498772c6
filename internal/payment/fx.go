package payment

import (
	"net/http"

	"github.com/finbridge/payhub/internal/config"
	"github.com/finbridge/payhub/internal/observability"
	"github.com/finbridge/payhub/internal/payment/adapters"
	"github.com/finbridge/payhub/internal/payment/adapters/authorizenet"
	"github.com/finbridge/payhub/internal/payment/adapters/mpesa"
	"github.com/finbridge/payhub/internal/payment/adapters/paypal"
	"github.com/finbridge/payhub/internal/payment/adapters/razorpay"
	"github.com/finbridge/payhub/internal/payment/adapters/square"
	"github.com/finbridge/payhub/internal/payment/adapters/stripe"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/finbridge/payhub/internal/payment/repository"
	paymentservice "github.com/finbridge/payhub/internal/payment/service"
	"github.com/finbridge/payhub/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(
		repository.NewProviderRepository,
		repository.NewTransactionRepository,
		repository.NewPaymentMethodRepository,
		repository.NewRecurringRepository,
		repository.NewWebhookEventRepository,
	),
	fx.Provide(NewRegistry),
	fx.Provide(webhook.NewDeduper),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(s *paymentservice.Service) domain.GatewayService { return s }),
	fx.Provide(webhook.NewIngestor),
)

// NewRegistry registers every supported provider and shares one outbound
// HTTP client between them.
func NewRegistry(cfg config.Config, metrics *observability.Metrics, log *zap.Logger) *adapters.Registry {
	registry := adapters.NewRegistry(
		stripe.NewFactory(),
		paypal.NewFactory(),
		authorizenet.NewFactory(),
		mpesa.NewFactory(),
		square.NewFactory(),
		razorpay.NewFactory(),
	).Configure(
		adapters.WithHTTPClient(&http.Client{Timeout: cfg.Gateway.Timeout}),
		adapters.WithObserver(metrics),
		adapters.WithRateLimit(cfg.Gateway.RatePerSecond, cfg.Gateway.Burst),
	)

	names := make([]string, 0, len(registry.Providers()))
	for _, p := range registry.Providers() {
		names = append(names, string(p))
	}
	log.Named("payment").Info("payment adapters registered", zap.Strings("providers", names))
	return registry
}
