package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/finbridge/payhub/internal/payment/webhook"
	"github.com/finbridge/payhub/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProcessWebhook stores the event before the adapter interprets it, so every
// accepted delivery leaves a row even when processing fails. A failure marks
// the event failed and is returned so the provider retries the delivery.
func (s *Service) ProcessWebhook(ctx context.Context, input domain.ProcessWebhookInput) (*domain.WebhookOutcome, error) {
	ctx, span := s.startSpan(ctx, "process_webhook",
		attribute.String("provider_code", input.ProviderCode),
		attribute.String("event_type", input.EventType))
	outcome, err := s.processWebhook(ctx, input)
	endSpan(span, err)
	return outcome, err
}

func (s *Service) webhookProvider(ctx context.Context, input domain.ProcessWebhookInput) (*domain.Provider, error) {
	if input.ProviderID != 0 {
		return s.loadProvider(ctx, nil, input.ProviderID)
	}
	return s.GetProviderByCode(ctx, input.ProviderCode)
}

func (s *Service) processWebhook(ctx context.Context, input domain.ProcessWebhookInput) (*domain.WebhookOutcome, error) {
	payload := []byte(input.Payload)
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, domain.ErrInvalidPayload
	}
	provider, err := s.webhookProvider(ctx, input)
	if err != nil {
		return nil, err
	}
	gw, err := s.adapterFor(provider)
	if err != nil {
		return nil, err
	}

	if input.VerifySignature {
		if verifier, ok := gw.(domain.WebhookVerifier); ok {
			if err := verifier.VerifyWebhook(ctx, payload, input.Headers); err != nil {
				s.metrics.IncWebhook(string(provider.ProviderType), "rejected")
				return nil, err
			}
		}
	}

	eventType := strings.TrimSpace(input.EventType)
	if eventType == "" {
		if classifier, ok := gw.(domain.WebhookClassifier); ok {
			eventType, err = classifier.WebhookEventType(payload, input.Headers)
			if err != nil {
				return nil, err
			}
		}
	}
	if eventType == "" {
		return nil, domain.Invalid("eventType is required")
	}

	now := s.clock.Now(ctx)
	evt := &domain.WebhookEvent{
		ID:         s.genID.Generate(),
		ProviderID: provider.ID,
		EventType:  eventType,
		Payload:    datatypes.JSON(webhook.MaskPayload(payload)),
		Status:     domain.WebhookEventReceived,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.webhookEvents.Insert(ctx, nil, evt); err != nil {
		return nil, err
	}
	return s.handleEvent(ctx, provider, gw, evt, payload, input.Headers)
}

// ReplayWebhookEvent reprocesses a stored event that failed or never
// finished. The stored payload has card data masked.
func (s *Service) ReplayWebhookEvent(ctx context.Context, eventID snowflake.ID) (*domain.WebhookOutcome, error) {
	ctx, span := s.startSpan(ctx, "replay_webhook", attribute.String("event_id", eventID.String()))
	outcome, err := s.replayWebhookEvent(ctx, eventID)
	endSpan(span, err)
	return outcome, err
}

func (s *Service) replayWebhookEvent(ctx context.Context, eventID snowflake.ID) (*domain.WebhookOutcome, error) {
	evt, err := s.webhookEvents.FindByID(ctx, nil, eventID)
	if err != nil {
		return nil, err
	}
	if evt == nil {
		return nil, domain.ErrWebhookEventNotFound
	}
	if evt.Status == domain.WebhookEventProcessed {
		return nil, fmt.Errorf("%w: event %s is already processed", domain.ErrInvalidEvent, evt.ID)
	}
	provider, err := s.loadProvider(ctx, nil, evt.ProviderID)
	if err != nil {
		return nil, err
	}
	gw, err := s.adapterFor(provider)
	if err != nil {
		return nil, err
	}
	s.log.Info("replaying webhook event",
		zap.String("event_id", evt.ID.String()),
		zap.Int("attempts", evt.ProcessingAttempts))
	return s.handleEvent(ctx, provider, gw, evt, []byte(evt.Payload), http.Header{})
}

func (s *Service) ListWebhookEvents(ctx context.Context, filter domain.WebhookEventFilter) ([]*domain.WebhookEvent, error) {
	return s.webhookEvents.List(ctx, nil, filter)
}

// PurgeWebhookEvents deletes processed events created before cutoff in
// batches and returns the number removed.
func (s *Service) PurgeWebhookEvents(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	var total int64
	for {
		n, err := s.webhookEvents.DeleteProcessedBefore(ctx, nil, cutoff, batch)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 || (batch > 0 && n < int64(batch)) || ctx.Err() != nil {
			return total, nil
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, provider *domain.Provider, gw domain.Gateway, evt *domain.WebhookEvent, payload []byte, headers http.Header) (*domain.WebhookOutcome, error) {
	outcome := &domain.WebhookOutcome{Event: evt}

	res, err := gw.ProcessWebhook(ctx, domain.WebhookRequest{EventType: evt.EventType, Payload: payload, Headers: headers})
	if err != nil {
		return outcome, s.failEvent(ctx, provider, evt, err)
	}
	evt.IdempotencyKey = strPtr(res.IdempotencyKey)
	evt.Message = res.Message

	key := res.IdempotencyKey
	claimed, err := s.deduper.Claim(ctx, provider.ID, evt.EventType, key)
	if err != nil {
		s.log.Warn("webhook dedupe claim failed, relying on event log", zap.Error(err))
		claimed = true
	}
	prior, err := s.webhookEvents.FindProcessedByKey(ctx, nil, provider.ID, evt.EventType, key)
	if err != nil {
		s.releaseClaim(ctx, provider.ID, evt.EventType, key, claimed)
		return outcome, s.failEvent(ctx, provider, evt, err)
	}
	if (prior != nil && prior.ID != evt.ID) || !claimed {
		return s.markDuplicate(ctx, provider, evt, prior)
	}

	var (
		txn    *domain.Transaction
		change *statusChange
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.matchTransaction(ctx, tx, provider.ID, res)
		if err != nil {
			return err
		}

		switch {
		case txn != nil:
			from := txn.Status
			changed, note, err := s.applyWebhook(ctx, tx, txn, res)
			if err != nil {
				return err
			}
			if changed {
				change = &statusChange{txn: txn, from: from}
			}
			if note != "" {
				evt.Message = joinMessage(evt.Message, note)
			}
		case res.ShouldCreateTransaction && res.TransactionData != nil:
			txn, outcome.Created, err = s.createFromWebhook(ctx, tx, provider.ID, evt.ID, res)
			if err != nil {
				return err
			}
			if !outcome.Created {
				evt.Message = joinMessage(evt.Message, "transaction already recorded")
			}
		default:
			if res.TransactionID != "" || res.LocalReference != "" {
				evt.Message = joinMessage(evt.Message, "no matching transaction")
			}
		}

		if txn != nil {
			evt.RelatedTransactionID = &txn.ID
		}
		processed := s.clock.Now(ctx)
		evt.Status = domain.WebhookEventProcessed
		evt.ErrorMessage = nil
		evt.ProcessedAt = &processed
		evt.UpdatedAt = processed
		return s.webhookEvents.Update(ctx, tx, evt)
	})
	if err != nil {
		s.releaseClaim(ctx, provider.ID, evt.EventType, key, claimed)
		return outcome, s.failEvent(ctx, provider, evt, err)
	}

	outcome.Transaction = txn
	s.metrics.IncWebhook(string(provider.ProviderType), string(domain.WebhookEventProcessed))
	if outcome.Created {
		s.publish(ctx, provider, "webhook", true, statusChange{txn: txn})
	}
	if change != nil {
		s.publish(ctx, provider, "webhook", false, *change)
	}
	s.log.Info("webhook processed",
		zap.String("event_id", evt.ID.String()),
		zap.String("event_type", evt.EventType),
		zap.Bool("linked", txn != nil),
		zap.Bool("created", outcome.Created))
	return outcome, nil
}

// matchTransaction tries the provider reference, then the fallback reference,
// then our own id echoed back by the provider. The match is returned locked.
func (s *Service) matchTransaction(ctx context.Context, tx *gorm.DB, providerID snowflake.ID, res *domain.WebhookResult) (*domain.Transaction, error) {
	for _, ref := range []string{res.TransactionID, res.FallbackTransactionID} {
		found, err := s.transactions.FindByExternalID(ctx, tx, providerID, ref)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return s.transactions.FindByIDForUpdate(ctx, tx, found.ID)
		}
	}
	if res.LocalReference == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(strings.TrimSpace(res.LocalReference))
	if err != nil {
		return nil, nil
	}
	found, err := s.transactions.FindByIDForUpdate(ctx, tx, id)
	if err != nil || found == nil {
		return nil, err
	}
	if found.ProviderID != providerID {
		return nil, nil
	}
	return found, nil
}

// applyWebhook writes the reported state onto txn. A status that would move
// the row backwards is skipped and explained in the returned note.
func (s *Service) applyWebhook(ctx context.Context, tx *gorm.DB, txn *domain.Transaction, res *domain.WebhookResult) (bool, string, error) {
	note := ""
	if txn.ExternalID == nil && res.TransactionID != "" {
		txn.ExternalID = strPtr(res.TransactionID)
	}
	changed, err := applyStatus(txn, res.Status)
	if err != nil {
		note = fmt.Sprintf("ignored status %s: transaction is %s", res.Status, txn.Status)
		s.log.Warn("ignoring out of order webhook status",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("current", string(txn.Status)),
			zap.String("reported", string(res.Status)))
	}
	if changed && res.ErrorMessage != "" {
		txn.ErrorMessage = strPtr(res.ErrorMessage)
	}
	txn.PaymentDetails = mergeMap(txn.PaymentDetails, res.PaymentDetails)
	txn.UpdatedAt = s.clock.Now(ctx)
	if err := s.transactions.Update(ctx, tx, txn); err != nil {
		return false, "", err
	}
	return changed, note, nil
}

func (s *Service) createFromWebhook(ctx context.Context, tx *gorm.DB, providerID, eventID snowflake.ID, res *domain.WebhookResult) (*domain.Transaction, bool, error) {
	data := res.TransactionData
	externalID := data.ExternalID
	if externalID == "" {
		externalID = res.TransactionID
	}
	if existing, err := s.transactions.FindByExternalID(ctx, tx, providerID, externalID); err != nil || existing != nil {
		return existing, false, err
	}
	if !data.Amount.IsPositive() {
		return nil, false, fmt.Errorf("%w: webhook transaction has no amount", domain.ErrInvalidPayload)
	}
	currency := domain.NormalizeCurrency(data.Currency)
	if !domain.ValidCurrency(currency) {
		return nil, false, fmt.Errorf("%w: %q", domain.ErrInvalidCurrency, data.Currency)
	}
	txnType := data.TransactionType
	if txnType == "" {
		txnType = domain.TransactionTypePayment
	}
	status := data.Status
	if status == "" {
		status = res.Status
	}
	if !status.Valid() {
		status = domain.StatusPending
	}

	now := s.clock.Now(ctx)
	txn := &domain.Transaction{
		ID:              s.genID.Generate(),
		ProviderID:      providerID,
		TransactionType: txnType,
		ExternalID:      strPtr(externalID),
		Amount:          data.Amount,
		Currency:        currency,
		Status:          status,
		PaymentMethod:   data.PaymentMethod,
		PaymentDetails:  cloneMap(data.PaymentDetails),
		ReferenceNumber: data.ReferenceNumber,
		Description:     data.Description,
		Metadata: mergeMap(cloneMap(data.Metadata), map[string]any{
			"webhookEventId": eventID.String(),
		}),
		CreatedBy: "webhook",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.transactions.Insert(ctx, tx, txn); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, false, fmt.Errorf("%w: transaction %s recorded concurrently", domain.ErrInvalidEvent, externalID)
		}
		return nil, false, err
	}
	return txn, true, nil
}

func (s *Service) markDuplicate(ctx context.Context, provider *domain.Provider, evt *domain.WebhookEvent, prior *domain.WebhookEvent) (*domain.WebhookOutcome, error) {
	now := s.clock.Now(ctx)
	evt.Status = domain.WebhookEventProcessed
	evt.ProcessedAt = &now
	evt.UpdatedAt = now
	if prior != nil {
		evt.Message = fmt.Sprintf("duplicate of event %s", prior.ID)
		evt.RelatedTransactionID = prior.RelatedTransactionID
	} else {
		evt.Message = "duplicate delivery"
	}
	if err := s.webhookEvents.Update(ctx, nil, evt); err != nil {
		return nil, err
	}
	s.metrics.IncWebhook(string(provider.ProviderType), "duplicate")
	s.log.Info("duplicate webhook ignored",
		zap.String("event_id", evt.ID.String()),
		zap.String("event_type", evt.EventType))

	outcome := &domain.WebhookOutcome{Event: evt, Duplicate: true}
	if evt.RelatedTransactionID != nil {
		txn, err := s.transactions.FindByID(ctx, nil, *evt.RelatedTransactionID)
		if err != nil {
			return nil, err
		}
		outcome.Transaction = txn
	}
	return outcome, nil
}

// failEvent records the failure on the event and returns cause.
func (s *Service) failEvent(ctx context.Context, provider *domain.Provider, evt *domain.WebhookEvent, cause error) error {
	evt.Status = domain.WebhookEventFailed
	evt.ErrorMessage = errorText(cause)
	evt.ProcessingAttempts++
	evt.RelatedTransactionID = nil
	evt.ProcessedAt = nil
	evt.UpdatedAt = s.clock.Now(ctx)
	if err := s.webhookEvents.Update(ctx, nil, evt); err != nil {
		s.log.Error("mark webhook event failed", zap.String("event_id", evt.ID.String()), zap.Error(err))
	}
	s.metrics.IncWebhook(string(provider.ProviderType), string(domain.WebhookEventFailed))
	s.log.Error("webhook processing failed",
		zap.String("event_id", evt.ID.String()),
		zap.String("event_type", evt.EventType),
		zap.Int("attempts", evt.ProcessingAttempts),
		zap.Error(cause))
	return cause
}

func (s *Service) releaseClaim(ctx context.Context, providerID snowflake.ID, eventType, key string, claimed bool) {
	if !claimed {
		return
	}
	if err := s.deduper.Release(ctx, providerID, eventType, key); err != nil {
		s.log.Warn("release webhook claim failed", zap.Error(err))
	}
}

func joinMessage(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}
