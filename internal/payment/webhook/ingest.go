package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/finbridge/payhub/internal/config"
	"github.com/finbridge/payhub/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultMaxPayloadSize = 1 << 20

type Params struct {
	fx.In

	Log     *zap.Logger
	Cfg     config.Config
	Gateway domain.GatewayService
}

// Ingestor accepts raw provider deliveries. It checks the envelope and hands
// the payload to the gateway service with signature verification enabled.
type Ingestor struct {
	log        *zap.Logger
	gateway    domain.GatewayService
	maxPayload int64
}

func NewIngestor(p Params) *Ingestor {
	maxPayload := p.Cfg.Webhook.MaxPayloadSize
	if maxPayload <= 0 {
		maxPayload = defaultMaxPayloadSize
	}
	return &Ingestor{
		log:        p.Log.Named("payment.webhook"),
		gateway:    p.Gateway,
		maxPayload: maxPayload,
	}
}

func (i *Ingestor) MaxPayloadSize() int64 {
	return i.maxPayload
}

// Ingest processes one delivery addressed to a provider code. eventType may
// be empty; adapters then classify the payload themselves.
func (i *Ingestor) Ingest(ctx context.Context, providerCode, eventType string, payload []byte, headers http.Header) (*domain.WebhookOutcome, error) {
	providerCode = strings.ToLower(strings.TrimSpace(providerCode))
	if providerCode == "" {
		return nil, domain.ErrInvalidProvider
	}
	if int64(len(payload)) > i.maxPayload {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", domain.ErrInvalidPayload, i.maxPayload)
	}
	if !json.Valid(payload) {
		return nil, domain.ErrInvalidPayload
	}

	i.log.Info("processing webhook",
		zap.String("provider_code", providerCode),
		zap.String("event_type", eventType),
		zap.Int("payload_size", len(payload)))

	outcome, err := i.gateway.ProcessWebhook(ctx, domain.ProcessWebhookInput{
		ProviderCode:    providerCode,
		EventType:       strings.TrimSpace(eventType),
		Payload:         json.RawMessage(payload),
		Headers:         headers,
		VerifySignature: true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			i.log.Warn("webhook signature rejected", zap.String("provider_code", providerCode))
		} else {
			i.log.Error("webhook processing failed",
				zap.String("provider_code", providerCode),
				zap.Int("payload_size", len(payload)),
				zap.Error(err))
		}
		return outcome, err
	}
	if outcome != nil && outcome.Duplicate {
		i.log.Debug("duplicate webhook delivery", zap.String("provider_code", providerCode))
	}
	return outcome, nil
}
