package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/stripe/stripe-go/v76/webhook"
)

type stripeEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	PaymentMethod    any               `json:"payment_method"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"last_payment_error"`
}

type stripeCharge struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Refunded       bool   `json:"refunded"`
	Currency       string `json:"currency"`
}

type stripeInvoice struct {
	ID            string `json:"id"`
	Number        string `json:"number"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	PaymentIntent string `json:"payment_intent"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	Currency      string `json:"currency"`
}

// VerifyWebhook checks the Stripe-Signature header with stripe-go's webhook
// package, rejecting signatures older than its default five-minute tolerance.
func (a *Adapter) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return fmt.Errorf("%w: stripe webhook_secret is not configured", domain.ErrInvalidSignature)
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.webhookSecret, webhook.DefaultTolerance); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return nil
}

func (a *Adapter) WebhookEventType(payload []byte, _ http.Header) (string, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", domain.ErrInvalidPayload
	}
	if event.Type == "" {
		return "", domain.ErrInvalidEvent
	}
	return event.Type, nil
}

func (a *Adapter) ProcessWebhook(_ context.Context, req domain.WebhookRequest) (*domain.WebhookResult, error) {
	var event stripeEvent
	if err := json.Unmarshal(req.Payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	eventType := event.Type
	if eventType == "" {
		eventType = req.EventType
	}

	result := &domain.WebhookResult{IdempotencyKey: event.ID}
	switch {
	case strings.HasPrefix(eventType, "payment_intent."):
		var pi stripePaymentIntent
		if err := json.Unmarshal(event.Data.Object, &pi); err != nil || pi.ID == "" {
			return nil, domain.ErrInvalidPayload
		}
		result.TransactionID = pi.ID
		result.LocalReference = pi.Metadata["transaction_id"]
		result.PaymentDetails = map[string]any{"payment_intent_status": pi.Status}
		if pm, ok := pi.PaymentMethod.(string); ok && pm != "" {
			result.PaymentDetails["payment_method"] = pm
		}
		switch eventType {
		case "payment_intent.succeeded":
			result.Status = domain.StatusCompleted
			result.PaymentDetails["amount_received"] = pi.AmountReceived
		case "payment_intent.payment_failed":
			result.Status = domain.StatusFailed
			if pi.LastPaymentError != nil {
				result.ErrorMessage = pi.LastPaymentError.Message
			}
		case "payment_intent.canceled":
			result.Status = domain.StatusCancelled
		case "payment_intent.amount_capturable_updated":
			result.Status = domain.StatusAuthorized
		default:
			result.Status = domain.StatusPending
		}

	case eventType == "charge.refunded":
		var charge stripeCharge
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		result.TransactionID = charge.PaymentIntent
		result.FallbackTransactionID = charge.ID
		result.Status = domain.StatusPartiallyRefunded
		if charge.Refunded || charge.AmountRefunded >= charge.Amount {
			result.Status = domain.StatusRefunded
		}
		result.PaymentDetails = map[string]any{
			"charge_id":       charge.ID,
			"amount_refunded": charge.AmountRefunded,
		}

	case eventType == "invoice.payment_succeeded" || eventType == "invoice.paid" || eventType == "invoice.payment_failed":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		if inv.PaymentIntent == "" {
			result.Message = "invoice has no payment intent"
			return result, nil
		}
		status, amount := domain.StatusCompleted, inv.AmountPaid
		if eventType == "invoice.payment_failed" {
			status, amount = domain.StatusFailed, inv.AmountDue
		}
		currency := domain.NormalizeCurrency(inv.Currency)
		result.TransactionID = inv.PaymentIntent
		result.Status = status
		result.ShouldCreateTransaction = inv.Subscription != ""
		result.TransactionData = &domain.WebhookTransactionData{
			ExternalID:      inv.PaymentIntent,
			TransactionType: domain.TransactionTypePayment,
			Amount:          domain.FromMinorUnits(amount, currency),
			Currency:        currency,
			Status:          status,
			PaymentMethod:   "card",
			ReferenceNumber: inv.Number,
			Description:     "Subscription invoice " + inv.ID,
			Metadata: map[string]any{
				"subscription_id": inv.Subscription,
				"invoice_id":      inv.ID,
				"customer_id":     inv.Customer,
			},
		}

	case strings.HasPrefix(eventType, "customer.subscription."):
		result.Message = "subscription lifecycle event recorded"

	default:
		result.Message = "event type not handled: " + eventType
	}
	return result, nil
}
