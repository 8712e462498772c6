package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/finbridge/payhub/internal/payment/domain"
)

type event struct {
	Entity    string   `json:"entity"`
	AccountID string   `json:"account_id"`
	Event     string   `json:"event"`
	Contains  []string `json:"contains"`
	CreatedAt int64    `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity payment `json:"entity"`
		} `json:"payment"`
		Refund *struct {
			Entity refund `json:"entity"`
		} `json:"refund"`
		Order *struct {
			Entity order `json:"entity"`
		} `json:"order"`
		Subscription *struct {
			Entity struct {
				ID         string `json:"id"`
				PlanID     string `json:"plan_id"`
				CustomerID string `json:"customer_id"`
				Status     string `json:"status"`
				PaidCount  int    `json:"paid_count"`
				TotalCount int    `json:"total_count"`
				Notes      notes  `json:"notes"`
			} `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

// VerifyWebhook checks X-Razorpay-Signature, a hex HMAC-SHA256 of the raw
// body keyed with the webhook secret.
func (a *Adapter) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return fmt.Errorf("%w: razorpay webhook_secret is not configured", domain.ErrInvalidSignature)
	}
	given, err := hex.DecodeString(strings.TrimSpace(headers.Get("X-Razorpay-Signature")))
	if err != nil || len(given) == 0 {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) WebhookEventType(payload []byte, _ http.Header) (string, error) {
	var ev struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Event == "" {
		return "", domain.ErrInvalidPayload
	}
	return ev.Event, nil
}

func (a *Adapter) ProcessWebhook(_ context.Context, req domain.WebhookRequest) (*domain.WebhookResult, error) {
	var ev event
	if err := json.Unmarshal(req.Payload, &ev); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	eventType := ev.Event
	if eventType == "" {
		eventType = req.EventType
	}

	var (
		result *domain.WebhookResult
		key    string
	)
	switch {
	case eventType == "subscription.charged":
		if ev.Payload.Payment == nil || ev.Payload.Subscription == nil {
			return nil, domain.ErrInvalidPayload
		}
		result = subscriptionCharge(ev)
		key = eventType + ":" + ev.Payload.Payment.Entity.ID
	case strings.HasPrefix(eventType, "subscription."):
		if ev.Payload.Subscription == nil {
			return nil, domain.ErrInvalidPayload
		}
		sub := ev.Payload.Subscription.Entity
		result = &domain.WebhookResult{Message: fmt.Sprintf("subscription %s is %s", sub.ID, sub.Status)}
		key = eventType + ":" + sub.ID
	case strings.HasPrefix(eventType, "payment."):
		if ev.Payload.Payment == nil || ev.Payload.Payment.Entity.ID == "" {
			return nil, domain.ErrInvalidPayload
		}
		p := ev.Payload.Payment.Entity
		result = paymentUpdate(eventType, &p)
		key = eventType + ":" + p.ID
	case strings.HasPrefix(eventType, "refund."):
		if ev.Payload.Refund == nil || ev.Payload.Refund.Entity.ID == "" {
			return nil, domain.ErrInvalidPayload
		}
		r := ev.Payload.Refund.Entity
		result = &domain.WebhookResult{
			TransactionID:  r.ID,
			Status:         mapRefundStatus(r.Status),
			PaymentDetails: map[string]any{"payment_id": r.PaymentID, "refund_status": r.Status},
		}
		if eventType == "refund.failed" {
			result.Status = domain.StatusFailed
			result.ErrorMessage = "refund failed"
		}
		key = eventType + ":" + r.ID
	case eventType == "order.paid":
		if ev.Payload.Order == nil || ev.Payload.Order.Entity.ID == "" {
			return nil, domain.ErrInvalidPayload
		}
		o := ev.Payload.Order.Entity
		result = &domain.WebhookResult{
			TransactionID:  o.ID,
			LocalReference: o.Notes["transaction_id"],
			Status:         domain.StatusCompleted,
			PaymentDetails: map[string]any{"order_status": o.Status},
		}
		key = eventType + ":" + o.ID
	default:
		return nil, fmt.Errorf("%w: razorpay event %q", domain.ErrInvalidEvent, eventType)
	}

	if id := req.Headers.Get("X-Razorpay-Event-Id"); id != "" {
		key = id
	}
	result.IdempotencyKey = key
	return result, nil
}

func paymentUpdate(eventType string, p *payment) *domain.WebhookResult {
	result := &domain.WebhookResult{
		TransactionID:         p.OrderID,
		FallbackTransactionID: p.ID,
		LocalReference:        p.Notes["transaction_id"],
		Status:                mapPaymentStatus(p),
		PaymentDetails: map[string]any{
			"payment_id":     p.ID,
			"method":         p.Method,
			"payment_status": p.Status,
		},
	}
	if p.OrderID == "" {
		result.TransactionID, result.FallbackTransactionID = p.ID, ""
	}
	switch eventType {
	case "payment.failed":
		result.Status = domain.StatusFailed
		result.ErrorMessage = p.ErrorDescription
		if p.ErrorCode != "" {
			result.PaymentDetails["error_code"] = p.ErrorCode
		}
	case "payment.authorized":
		// Orders are created with auto-capture, so captured follows shortly.
		result.Status = domain.StatusAuthorized
	}
	return result
}

// subscriptionCharge records a renewal that Razorpay charged on its own.
func subscriptionCharge(ev event) *domain.WebhookResult {
	p := ev.Payload.Payment.Entity
	sub := ev.Payload.Subscription.Entity
	return &domain.WebhookResult{
		TransactionID:           p.ID,
		Status:                  domain.StatusCompleted,
		ShouldCreateTransaction: true,
		TransactionData: &domain.WebhookTransactionData{
			ExternalID:      p.ID,
			TransactionType: domain.TransactionTypePayment,
			Amount:          domain.FromMinorUnits(p.Amount, currency),
			Currency:        currency,
			Status:          domain.StatusCompleted,
			PaymentMethod:   p.Method,
			ReferenceNumber: p.InvoiceID,
			Description:     fmt.Sprintf("Razorpay subscription %s charge %d", sub.ID, sub.PaidCount),
			PaymentDetails: map[string]any{
				"payment_id": p.ID,
				"invoice_id": p.InvoiceID,
			},
			Metadata: map[string]any{
				"subscription_id": sub.ID,
				"plan_id":         sub.PlanID,
				"customer_id":     sub.CustomerID,
				"config_id":       sub.Notes["config_id"],
			},
		},
	}
}
