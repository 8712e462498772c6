package authorizenet

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/shopspring/decimal"
)

const eventPrefix = "net.authorize."

type notification struct {
	NotificationID string              `json:"notificationId"`
	EventType      string              `json:"eventType"`
	EventDate      string              `json:"eventDate"`
	WebhookID      string              `json:"webhookId"`
	Payload        notificationPayload `json:"payload"`
}

type notificationPayload struct {
	ResponseCode  json.Number     `json:"responseCode"`
	AuthCode      string          `json:"authCode"`
	AuthAmount    decimal.Decimal `json:"authAmount"`
	InvoiceNumber string          `json:"invoiceNumber"`
	EntityName    string          `json:"entityName"`
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Status        string          `json:"status"`
}

// VerifyWebhook checks X-ANET-Signature, an HMAC-SHA512 of the body keyed
// with the merchant signature key and sent as "sha512=<HEX>".
func (a *Adapter) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) error {
	if a.signatureKey == "" {
		return fmt.Errorf("%w: authorize.net signature_key is not configured", domain.ErrInvalidSignature)
	}
	header := strings.TrimSpace(headers.Get("X-ANET-Signature"))
	scheme, signature, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(scheme, "sha512") || signature == "" {
		return domain.ErrInvalidSignature
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha512.New, []byte(a.signatureKey))
	_, _ = mac.Write(payload)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) WebhookEventType(payload []byte, _ http.Header) (string, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return "", domain.ErrInvalidPayload
	}
	if n.EventType == "" {
		return "", domain.ErrInvalidEvent
	}
	return n.EventType, nil
}

func (a *Adapter) ProcessWebhook(_ context.Context, req domain.WebhookRequest) (*domain.WebhookResult, error) {
	var n notification
	if err := json.Unmarshal(req.Payload, &n); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if n.NotificationID == "" {
		return nil, domain.ErrInvalidEvent
	}
	eventType := n.EventType
	if eventType == "" {
		eventType = req.EventType
	}
	event := strings.TrimPrefix(eventType, eventPrefix)

	result := &domain.WebhookResult{IdempotencyKey: n.NotificationID}
	switch {
	case strings.HasPrefix(event, "payment."):
		if n.Payload.ID == "" {
			return nil, domain.ErrInvalidPayload
		}
		result.TransactionID = n.Payload.ID
		result.LocalReference = n.Payload.InvoiceNumber
		result.PaymentDetails = map[string]any{
			"response_code": n.Payload.ResponseCode.String(),
			"auth_code":     n.Payload.AuthCode,
			"auth_amount":   n.Payload.AuthAmount.String(),
		}
		switch event {
		case "payment.authorization.created":
			result.Status = domain.StatusAuthorized
			if code := mapResponseCode(n.Payload.ResponseCode.String()); code != domain.StatusCompleted {
				result.Status = code
			}
		case "payment.authcapture.created", "payment.capture.created", "payment.priorAuthCapture.created", "payment.fraud.approved":
			result.Status = mapResponseCode(n.Payload.ResponseCode.String())
		case "payment.void.created":
			result.Status = domain.StatusCancelled
		case "payment.fraud.declined":
			result.Status = domain.StatusFailed
			result.ErrorMessage = "declined by fraud review"
		case "payment.fraud.held":
			result.Status = domain.StatusPending
			result.Message = "held for fraud review"
		case "payment.refund.created":
			// Refund notifications carry the refund's own id; the refund
			// row was already written by the refund call.
			result.Message = "refund recorded"
		default:
			result.Message = "event type not handled: " + eventType
		}

	case strings.HasPrefix(event, "customer.subscription."):
		result.Message = "subscription lifecycle event recorded"

	default:
		result.Message = "event type not handled: " + eventType
	}
	return result, nil
}
