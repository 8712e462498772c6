package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/finbridge/payhub/internal/payment/domain"
)

type event struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       struct {
		Type   string          `json:"type"`
		ID     string          `json:"id"`
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type invoice struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	SubscriptionID  string `json:"subscription_id"`
	InvoiceNumber   string `json:"invoice_number"`
	Status          string `json:"status"`
	PaymentRequests []struct {
		ComputedAmountMoney       *money `json:"computed_amount_money"`
		TotalCompletedAmountMoney *money `json:"total_completed_amount_money"`
	} `json:"payment_requests"`
	PrimaryRecipient struct {
		CustomerID string `json:"customer_id"`
	} `json:"primary_recipient"`
}

// VerifyWebhook checks x-square-hmacsha256-signature, a base64 HMAC-SHA256
// over the notification URL followed by the raw body.
func (a *Adapter) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) error {
	if a.signatureKey == "" || a.notificationURL == "" {
		return fmt.Errorf("%w: square signature_key and notification_url are required", domain.ErrInvalidSignature)
	}
	given, err := base64.StdEncoding.DecodeString(strings.TrimSpace(headers.Get("X-Square-Hmacsha256-Signature")))
	if err != nil || len(given) == 0 {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.signatureKey))
	_, _ = mac.Write([]byte(a.notificationURL))
	_, _ = mac.Write(payload)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) WebhookEventType(payload []byte, _ http.Header) (string, error) {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Type == "" {
		return "", domain.ErrInvalidPayload
	}
	return ev.Type, nil
}

func (a *Adapter) ProcessWebhook(_ context.Context, req domain.WebhookRequest) (*domain.WebhookResult, error) {
	var ev event
	if err := json.Unmarshal(req.Payload, &ev); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	eventType := ev.Type
	if eventType == "" {
		eventType = req.EventType
	}
	if eventType == "" {
		return nil, domain.ErrInvalidPayload
	}

	var (
		result *domain.WebhookResult
		err error
	)
	switch {
	case eventType == "payment.created" || eventType == "payment.updated":
		result, err = processPayment(ev.Data.Object)
	case strings.HasPrefix(eventType, "refund."):
		result, err = processRefund(ev.Data.Object)
	case eventType == "order.updated" || eventType == "order.fulfillment.updated":
		result, err = processOrder(ev.Data.ID, ev.Data.Object)
	case eventType == "invoice.payment_made":
		result, err = processInvoicePayment(ev.Data.Object)
	case strings.HasPrefix(eventType, "subscription.") || strings.HasPrefix(eventType, "invoice."):
		result = &domain.WebhookResult{Message: eventType + " " + ev.Data.ID}
	default:
		return nil, fmt.Errorf("%w: square event %q", domain.ErrInvalidEvent, eventType)
	}
	if err != nil {
		return nil, err
	}
	result.IdempotencyKey = ev.EventID
	return result, nil
}

func processPayment(object json.RawMessage) (*domain.WebhookResult, error) {
	var wrapper struct {
		Payment *payment `json:"payment"`
	}
	if err := json.Unmarshal(object, &wrapper); err != nil || wrapper.Payment == nil || wrapper.Payment.ID == "" {
		return nil, domain.ErrInvalidPayload
	}
	p := wrapper.Payment
	result := &domain.WebhookResult{
		TransactionID:         p.ID,
		FallbackTransactionID: p.OrderID,
		LocalReference:        p.ReferenceID,
		Status:                mapPaymentStatus(p),
		PaymentDetails: map[string]any{
			"payment_id":     p.ID,
			"order_id":       p.OrderID,
			"payment_status": p.Status,
		},
	}
	if p.CardDetails != nil {
		result.PaymentDetails["card_status"] = p.CardDetails.Status
		if result.Status == domain.StatusFailed {
			result.ErrorMessage = "card " + strings.ToLower(p.CardDetails.Status)
		}
	}
	return result, nil
}

func processRefund(object json.RawMessage) (*domain.WebhookResult, error) {
	var wrapper struct {
		Refund *refund `json:"refund"`
	}
	if err := json.Unmarshal(object, &wrapper); err != nil || wrapper.Refund == nil || wrapper.Refund.ID == "" {
		return nil, domain.ErrInvalidPayload
	}
	r := wrapper.Refund
	result := &domain.WebhookResult{
		TransactionID: r.ID,
		Status:        mapRefundStatus(r.Status),
		PaymentDetails: map[string]any{
			"payment_id":    r.PaymentID,
			"refund_status": r.Status,
		},
	}
	if result.Status == domain.StatusFailed {
		result.ErrorMessage = "refund " + strings.ToLower(r.Status)
	}
	return result, nil
}

func processOrder(orderID string, object json.RawMessage) (*domain.WebhookResult, error) {
	var wrapper struct {
		OrderUpdated *struct {
			OrderID string `json:"order_id"`
			State   string `json:"state"`
		} `json:"order_updated"`
	}
	if err := json.Unmarshal(object, &wrapper); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if wrapper.OrderUpdated != nil {
		if wrapper.OrderUpdated.OrderID != "" {
			orderID = wrapper.OrderUpdated.OrderID
		}
		if orderID == "" {
			return nil, domain.ErrInvalidPayload
		}
		result := &domain.WebhookResult{
			TransactionID:  orderID,
			PaymentDetails: map[string]any{"order_state": wrapper.OrderUpdated.State},
		}
		// Open orders carry no news; the payment events move the row.
		if state := mapOrderState(wrapper.OrderUpdated.State); state != domain.StatusPending {
			result.Status = state
		}
		return result, nil
	}
	if orderID == "" {
		return nil, domain.ErrInvalidPayload
	}
	return &domain.WebhookResult{TransactionID: orderID, Message: "order fulfillment updated"}, nil
}

// processInvoicePayment records subscription charges, which Square bills
// without any request from us.
func processInvoicePayment(object json.RawMessage) (*domain.WebhookResult, error) {
	var wrapper struct {
		Invoice *invoice `json:"invoice"`
	}
	if err := json.Unmarshal(object, &wrapper); err != nil || wrapper.Invoice == nil || wrapper.Invoice.ID == "" {
		return nil, domain.ErrInvalidPayload
	}
	inv := wrapper.Invoice
	if inv.SubscriptionID == "" {
		return &domain.WebhookResult{
			TransactionID: inv.OrderID,
			Message:       "invoice " + inv.ID + " paid",
		}, nil
	}

	var paid *money
	for _, pr := range inv.PaymentRequests {
		switch {
		case pr.TotalCompletedAmountMoney != nil:
			paid = pr.TotalCompletedAmountMoney
		case pr.ComputedAmountMoney != nil && paid == nil:
			paid = pr.ComputedAmountMoney
		}
	}
	if paid == nil {
		return nil, fmt.Errorf("%w: square invoice %s has no amount", domain.ErrInvalidPayload, inv.ID)
	}

	return &domain.WebhookResult{
		TransactionID:           inv.OrderID,
		Status:                  domain.StatusCompleted,
		ShouldCreateTransaction: true,
		TransactionData: &domain.WebhookTransactionData{
			ExternalID:      inv.OrderID,
			TransactionType: domain.TransactionTypePayment,
			Amount:          domain.FromMinorUnits(paid.Amount, paid.Currency),
			Currency:        domain.NormalizeCurrency(paid.Currency),
			Status:          domain.StatusCompleted,
			PaymentMethod:   "card",
			ReferenceNumber: inv.InvoiceNumber,
			Description:     "Square subscription invoice " + inv.InvoiceNumber,
			PaymentDetails: map[string]any{
				"invoice_id":      inv.ID,
				"subscription_id": inv.SubscriptionID,
			},
			Metadata: map[string]any{
				"subscription_id": inv.SubscriptionID,
				"customer_id":     inv.PrimaryRecipient.CustomerID,
			},
		},
	}, nil
}
