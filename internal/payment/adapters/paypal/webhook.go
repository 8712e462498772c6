package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/finbridge/payhub/internal/payment/adapters/gatewayhttp"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/shopspring/decimal"
)

type webhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

type captureResource struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	Amount            *money `json:"amount,omitempty"`
	CustomID          string `json:"custom_id"`
	InvoiceID         string `json:"invoice_id"`
	Links             []link `json:"links"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type saleResource struct {
	ID                 string `json:"id"`
	State              string `json:"state"`
	BillingAgreementID string `json:"billing_agreement_id"`
	CustomID           string `json:"custom"`
	InvoiceNumber      string `json:"invoice_number"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

var verifyHeaders = map[string]string{
	"auth_algo":         "Paypal-Auth-Algo",
	"cert_url":          "Paypal-Cert-Url",
	"transmission_id":   "Paypal-Transmission-Id",
	"transmission_sig":  "Paypal-Transmission-Sig",
	"transmission_time": "Paypal-Transmission-Time",
}

// VerifyWebhook asks PayPal to validate the transmission signature against
// the configured webhook id.
func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookID == "" {
		return fmt.Errorf("%w: paypal webhook_id is not configured", domain.ErrInvalidSignature)
	}
	if !json.Valid(payload) {
		return domain.ErrInvalidPayload
	}

	body := map[string]any{
		"webhook_id":    a.webhookID,
		"webhook_event": json.RawMessage(payload),
	}
	for field, header := range verifyHeaders {
		value := strings.TrimSpace(headers.Get(header))
		if value == "" {
			return fmt.Errorf("%w: missing %s header", domain.ErrInvalidSignature, header)
		}
		body[field] = value
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if _, err := a.do(ctx, gatewayhttp.Request{
		Operation: "verify_webhook_signature",
		Method:    http.MethodPost,
		Path:      "/v1/notifications/verify-webhook-signature",
		JSON:      body,
	}, &out); err != nil {
		return err
	}
	if !strings.EqualFold(out.VerificationStatus, "SUCCESS") {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) WebhookEventType(payload []byte, _ http.Header) (string, error) {
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", domain.ErrInvalidPayload
	}
	if event.EventType == "" {
		return "", domain.ErrInvalidEvent
	}
	return event.EventType, nil
}

func (a *Adapter) ProcessWebhook(_ context.Context, req domain.WebhookRequest) (*domain.WebhookResult, error) {
	var event webhookEvent
	if err := json.Unmarshal(req.Payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if event.ID == "" {
		return nil, domain.ErrInvalidEvent
	}
	eventType := strings.ToUpper(event.EventType)
	if eventType == "" {
		eventType = strings.ToUpper(req.EventType)
	}

	result := &domain.WebhookResult{IdempotencyKey: event.ID}
	switch {
	case strings.HasPrefix(eventType, "CHECKOUT.ORDER."):
		var o order
		if err := json.Unmarshal(event.Resource, &o); err != nil || o.ID == "" {
			return nil, domain.ErrInvalidPayload
		}
		result.TransactionID = o.ID
		result.PaymentDetails = map[string]any{"order_status": o.Status}
		switch eventType {
		case "CHECKOUT.ORDER.COMPLETED":
			result.Status = mapOrderStatus(o.Status, o.firstCapture())
		case "CHECKOUT.ORDER.VOIDED":
			result.Status = domain.StatusCancelled
		default:
			// APPROVED and SAVED still wait on a capture call.
			result.Status = domain.StatusPending
			result.Message = "order " + strings.ToLower(strings.TrimPrefix(eventType, "CHECKOUT.ORDER."))
		}

	case eventType == "PAYMENT.CAPTURE.REFUNDED" || eventType == "PAYMENT.CAPTURE.REVERSED":
		var refund captureResource
		if err := json.Unmarshal(event.Resource, &refund); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		// The resource is the refund; its "up" link names the capture.
		result.TransactionID = captureIDFromLinks(refund.Links)
		result.FallbackTransactionID = refund.SupplementaryData.RelatedIDs.OrderID
		result.PaymentDetails = map[string]any{"refund_id": refund.ID, "refund_status": refund.Status}
		result.Message = "refund " + strings.ToLower(refund.Status)

	case strings.HasPrefix(eventType, "PAYMENT.CAPTURE."):
		var c captureResource
		if err := json.Unmarshal(event.Resource, &c); err != nil || c.ID == "" {
			return nil, domain.ErrInvalidPayload
		}
		result.TransactionID = c.SupplementaryData.RelatedIDs.OrderID
		result.FallbackTransactionID = c.ID
		result.LocalReference = c.CustomID
		result.PaymentDetails = map[string]any{"capture_id": c.ID, "capture_status": c.Status}
		switch eventType {
		case "PAYMENT.CAPTURE.COMPLETED":
			result.Status = domain.StatusCompleted
		case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
			result.Status = domain.StatusFailed
			result.ErrorMessage = "capture " + strings.ToLower(c.Status)
		default:
			result.Status = mapCaptureStatus(c.Status)
		}

	case eventType == "PAYMENT.SALE.COMPLETED" || eventType == "PAYMENT.SALE.DENIED":
		var sale saleResource
		if err := json.Unmarshal(event.Resource, &sale); err != nil || sale.ID == "" {
			return nil, domain.ErrInvalidPayload
		}
		amount, err := decimal.NewFromString(sale.Amount.Total)
		if err != nil {
			return nil, fmt.Errorf("%w: sale amount %q", domain.ErrInvalidPayload, sale.Amount.Total)
		}
		status := domain.StatusCompleted
		if eventType == "PAYMENT.SALE.DENIED" {
			status = domain.StatusFailed
		}
		result.TransactionID = sale.ID
		result.Status = status
		result.ShouldCreateTransaction = sale.BillingAgreementID != ""
		result.TransactionData = &domain.WebhookTransactionData{
			ExternalID:      sale.ID,
			TransactionType: domain.TransactionTypePayment,
			Amount:          amount,
			Currency:        domain.NormalizeCurrency(sale.Amount.Currency),
			Status:          status,
			PaymentMethod:   "paypal",
			ReferenceNumber: sale.InvoiceNumber,
			Description:     "PayPal subscription payment",
			Metadata: map[string]any{
				"subscription_id": sale.BillingAgreementID,
				"custom_id":       sale.CustomID,
			},
		}

	case strings.HasPrefix(eventType, "BILLING.SUBSCRIPTION."):
		result.Message = "subscription lifecycle event recorded"

	default:
		result.Message = "event type not handled: " + eventType
	}
	return result, nil
}

func captureIDFromLinks(links []link) string {
	href := findLink(links, "up")
	if href == "" {
		return ""
	}
	idx := strings.LastIndex(href, "/captures/")
	if idx < 0 {
		return ""
	}
	return strings.Trim(href[idx+len("/captures/"):], "/")
}
