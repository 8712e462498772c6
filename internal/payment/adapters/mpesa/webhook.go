package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/shopspring/decimal"
)

const (
	EventSTKCallback     = "stk_callback"
	EventC2BConfirmation = "c2b_confirmation"
	EventC2BValidation   = "c2b_validation"
	EventReversalResult  = "reversal_result"
	EventB2CResult       = "b2c_result"
	EventTimeout         = "timeout"
)

type callbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type c2bPayload struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       string `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber"`
	ThirdPartyTransID string `json:"ThirdPartyTransID"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
}

type resultEnvelope struct {
	Result *struct {
		ResultType               json.Number `json:"ResultType"`
		ResultCode               json.Number `json:"ResultCode"`
		ResultDesc               string      `json:"ResultDesc"`
		OriginatorConversationID string      `json:"OriginatorConversationID"`
		ConversationID           string      `json:"ConversationID"`
		TransactionID            string      `json:"TransactionID"`
		ResultParameters         *struct {
			ResultParameter json.RawMessage `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// WebhookEventType derives the callback kind from the payload shape, since
// Daraja posts every callback type without a discriminator field.
func (a *Adapter) WebhookEventType(payload []byte, _ http.Header) (string, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", domain.ErrInvalidPayload
	}
	if body, ok := probe["Body"]; ok {
		if strings.Contains(string(body), `"stkCallback"`) {
			return EventSTKCallback, nil
		}
	}
	if result, ok := probe["Result"]; ok {
		if strings.Contains(string(result), "B2CRecipientIsRegisteredCustomer") || strings.Contains(string(result), "TransactionReceipt") {
			return EventB2CResult, nil
		}
		return EventReversalResult, nil
	}
	if _, ok := probe["TransID"]; ok {
		return EventC2BConfirmation, nil
	}
	return "", domain.ErrInvalidEvent
}

func (a *Adapter) ProcessWebhook(_ context.Context, req domain.WebhookRequest) (*domain.WebhookResult, error) {
	eventType := strings.ToLower(strings.TrimSpace(req.EventType))
	if eventType == "" {
		derived, err := a.WebhookEventType(req.Payload, req.Headers)
		if err != nil {
			return nil, err
		}
		eventType = derived
	}

	switch eventType {
	case EventSTKCallback:
		return processSTKCallback(req.Payload)
	case EventC2BConfirmation, EventC2BValidation:
		return processC2B(eventType, req.Payload)
	case EventReversalResult, EventB2CResult, EventTimeout:
		return processResult(eventType, req.Payload)
	default:
		return nil, fmt.Errorf("%w: m-pesa event %q", domain.ErrInvalidEvent, eventType)
	}
}

func processSTKCallback(payload []byte) (*domain.WebhookResult, error) {
	var env stkCallbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	cb := env.Body.StkCallback
	if cb == nil || cb.CheckoutRequestID == "" {
		return nil, domain.ErrInvalidPayload
	}

	result := &domain.WebhookResult{
		TransactionID:  cb.CheckoutRequestID,
		Status:         mapResultCode(cb.ResultCode.String()),
		IdempotencyKey: "stk:" + cb.CheckoutRequestID,
		PaymentDetails: map[string]any{
			"merchant_request_id": cb.MerchantRequestID,
			"result_code":         cb.ResultCode.String(),
			"result_desc":         cb.ResultDesc,
		},
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			result.PaymentDetails["mpesa_receipt_number"] = fmt.Sprint(item.Value)
		case "TransactionDate":
			result.PaymentDetails["transaction_date"] = numberString(item.Value)
		case "PhoneNumber":
			result.PaymentDetails["phone_number"] = numberString(item.Value)
		case "Amount":
			result.PaymentDetails["amount"] = numberString(item.Value)
		}
	}
	if result.Status != domain.StatusCompleted {
		result.ErrorMessage = cb.ResultDesc
	}
	return result, nil
}

// processC2B handles paybill deposits that did not start from an STK push.
func processC2B(eventType string, payload []byte) (*domain.WebhookResult, error) {
	var c c2bPayload
	if err := json.Unmarshal(payload, &c); err != nil || c.TransID == "" {
		return nil, domain.ErrInvalidPayload
	}
	if eventType == EventC2BValidation {
		return &domain.WebhookResult{
			IdempotencyKey: "validation:" + c.TransID,
			Message:        "validation accepted",
		}, nil
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(c.TransAmount))
	if err != nil {
		return nil, fmt.Errorf("%w: TransAmount %q", domain.ErrInvalidPayload, c.TransAmount)
	}
	return &domain.WebhookResult{
		TransactionID:           c.TransID,
		Status:                  domain.StatusCompleted,
		IdempotencyKey:          "c2b:" + c.TransID,
		PaymentDetails:          map[string]any{"mpesa_receipt_number": c.TransID},
		ShouldCreateTransaction: true,
		TransactionData: &domain.WebhookTransactionData{
			ExternalID:      c.TransID,
			TransactionType: domain.TransactionTypePayment,
			Amount:          amount,
			Currency:        currency,
			Status:          domain.StatusCompleted,
			PaymentMethod:   "mpesa",
			ReferenceNumber: c.BillRefNumber,
			Description:     "M-Pesa " + c.TransactionType,
			PaymentDetails: map[string]any{
				"mpesa_receipt_number": c.TransID,
				"trans_time":           c.TransTime,
				"msisdn":               c.MSISDN,
			},
			Metadata: map[string]any{
				"bill_ref_number": c.BillRefNumber,
				"first_name":      c.FirstName,
				"short_code":      c.BusinessShortCode,
			},
		},
	}, nil
}

func processResult(eventType string, payload []byte) (*domain.WebhookResult, error) {
	var env resultEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Result == nil {
		return nil, domain.ErrInvalidPayload
	}
	r := env.Result
	if r.ConversationID == "" {
		return nil, domain.ErrInvalidPayload
	}

	result := &domain.WebhookResult{
		TransactionID:         r.ConversationID,
		FallbackTransactionID: r.OriginatorConversationID,
		IdempotencyKey:        eventType + ":" + r.ConversationID,
		PaymentDetails: map[string]any{
			"result_code": r.ResultCode.String(),
			"result_desc": r.ResultDesc,
		},
	}
	if eventType == EventTimeout {
		result.Message = "request timed out in the m-pesa queue"
		return result, nil
	}
	if r.ResultCode.String() == "0" {
		result.Status = domain.StatusCompleted
	} else {
		result.Status = domain.StatusFailed
		result.ErrorMessage = r.ResultDesc
	}
	if r.TransactionID != "" {
		result.PaymentDetails["transaction_id"] = r.TransactionID
	}
	return result, nil
}

// numberString renders callback values, which Daraja sends as JSON numbers
// (phone numbers and dates included), without float notation.
func numberString(v any) string {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n).String()
	case json.Number:
		return n.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(n)
	}
}
