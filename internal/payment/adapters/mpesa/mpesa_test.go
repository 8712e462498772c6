package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeDaraja(t *testing.T, handler http.HandlerFunc, extra map[string]any) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/v1/generate" {
			assert.Equal(t, "client_credentials", r.URL.Query().Get("grant_type"))
			writeJSON(w, http.StatusOK, `{"access_token":"daraja-token","expires_in":"3599"}`)
			return
		}
		require.Equal(t, "Bearer daraja-token", r.Header.Get("Authorization"))
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := map[string]any{
		"consumer_key":    "ck",
		"consumer_secret": "cs",
		"short_code":      "174379",
		"passkey":         "pk",
		"environment":     "sandbox",
		"callback_url":    "https://payhub.example/webhooks/mpesa",
		"base_url":        srv.URL,
	}
	for k, v := range extra {
		cfg[k] = v
	}
	gw, err := NewFactory().NewAdapter(domain.AdapterConfig{Provider: domain.ProviderMPesa, Config: cfg})
	require.NoError(t, err)
	a := gw.(*Adapter)
	a.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	return a
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestNormalizePhone(t *testing.T) {
	for raw, want := range map[string]string{
		"0712345678":      "254712345678",
		"712345678":       "254712345678",
		"+254 712 345678": "254712345678",
		"254112345678":    "254112345678",
	} {
		got, err := NormalizePhone(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := NormalizePhone("12345")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCreatePaymentSendsSTKPush(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mpesa/stkpush/v1/processrequest", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "20260501120000", body["Timestamp"])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("174379pk20260501120000")), body["Password"])
		assert.Equal(t, float64(150), body["Amount"])
		assert.Equal(t, "254712345678", body["PhoneNumber"])
		assert.Equal(t, "https://payhub.example/webhooks/mpesa?eventType=stk_callback", body["CallBackURL"])
		writeJSON(w, http.StatusOK, `{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success"}`)
	}, nil)

	res, err := a.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		TransactionID: 1234567890123456789,
		Amount:        decimal.NewFromInt(150),
		Currency:      "KES",
		Metadata:      map[string]any{"phone_number": "0712345678"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", res.ExternalID)
	assert.Equal(t, domain.StatusPending, res.Status)
	assert.Contains(t, string(res.Audit.Request), `"Password":"***"`)
}

func TestCreatePaymentValidatesAmountAndCurrency(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no call expected")
	}, nil)

	_, err := a.CreatePayment(context.Background(), domain.CreatePaymentRequest{Amount: decimal.NewFromInt(10), Currency: "USD"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)

	_, err = a.CreatePayment(context.Background(), domain.CreatePaymentRequest{Amount: decimal.RequireFromString("10.50"), Currency: "KES"})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = a.CreatePayment(context.Background(), domain.CreatePaymentRequest{Amount: decimal.NewFromInt(10), Currency: "KES"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCheckPaymentStatusStillProcessing(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mpesa/stkpushquery/v1/query", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, `{"requestId":"x","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`)
	}, nil)

	res, err := a.CheckPaymentStatus(context.Background(), domain.StatusRequest{ExternalID: "ws_CO_1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Status)
}

func TestCheckPaymentStatusResultCodes(t *testing.T) {
	for code, want := range map[string]domain.TransactionStatus{
		"0":    domain.StatusCompleted,
		"1032": domain.StatusCancelled,
		"1037": domain.StatusExpired,
		"2001": domain.StatusFailed,
		"4242": domain.StatusPending,
	} {
		a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"ResponseCode":"0","ResultCode":"`+code+`","ResultDesc":"desc"}`)
		}, nil)
		res, err := a.CheckPaymentStatus(context.Background(), domain.StatusRequest{ExternalID: "ws_CO_1"})
		require.NoError(t, err)
		assert.Equal(t, want, res.Status, code)
	}
}

func TestRefundRequiresInitiator(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	_, err := a.RefundPayment(context.Background(), domain.RefundRequest{Amount: decimal.NewFromInt(10), Currency: "KES"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestRefundSendsReversal(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mpesa/reversal/v1/request", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "NLJ7RT61SV", body["TransactionID"])
		assert.Equal(t, "TransactionReversal", body["CommandID"])
		assert.Equal(t, "https://payhub.example/webhooks/mpesa?eventType=reversal_result", body["ResultURL"])
		writeJSON(w, http.StatusOK, `{"OriginatorConversationID":"oc-1","ConversationID":"AG_2026_1","ResponseCode":"0","ResponseDescription":"Accept the service request successfully."}`)
	}, map[string]any{"initiator_name": "api_op", "security_credential": "cred"})

	res, err := a.RefundPayment(context.Background(), domain.RefundRequest{
		TransactionID:  5,
		Amount:         decimal.NewFromInt(150),
		CapturedAmount: decimal.NewFromInt(150),
		Currency:       "KES",
		PaymentDetails: map[string]any{"mpesa_receipt_number": "NLJ7RT61SV"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.StatusPending, res.Status)
	assert.Equal(t, "AG_2026_1", res.RefundID)

	_, err = a.RefundPayment(context.Background(), domain.RefundRequest{
		Amount:         decimal.NewFromInt(50),
		CapturedAmount: decimal.NewFromInt(150),
		Currency:       "KES",
		PaymentDetails: map[string]any{"mpesa_receipt_number": "NLJ7RT61SV"},
	})
	assert.ErrorIs(t, err, domain.ErrOperationNotSupported)
}

func TestRecurringIsSynthetic(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no call expected")
	}, nil)

	res, err := a.CreateRecurringPayment(context.Background(), domain.RecurringRequest{
		PaymentMethodToken: "0712345678",
		Frequency:          domain.FrequencyMonthly,
		Amount:             decimal.NewFromInt(500),
		Currency:           "KES",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.SubscriptionID, "MPESA-SUB-"))
	assert.Len(t, res.SubscriptionID, len("MPESA-SUB-")+26)

	upd, err := a.UpdateRecurringPaymentStatus(context.Background(), res.SubscriptionID, domain.RecurringPaused)
	require.NoError(t, err)
	assert.True(t, upd.Updated)

	_, err = a.UpdateRecurringPaymentStatus(context.Background(), "sub_123", domain.RecurringPaused)
	assert.ErrorIs(t, err, domain.ErrRecurringNotFound)
}

func TestWebhookEventTypeFromShape(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	cases := map[string]string{
		`{"Body":{"stkCallback":{"CheckoutRequestID":"x"}}}`:                                                         EventSTKCallback,
		`{"TransID":"RKTQDM7W6S","TransAmount":"10.00"}`:                                                             EventC2BConfirmation,
		`{"Result":{"ConversationID":"AG_1","ResultCode":0}}`:                                                        EventReversalResult,
		`{"Result":{"ConversationID":"AG_1","ResultParameters":{"ResultParameter":[{"Key":"TransactionReceipt"}]}}}`: EventB2CResult,
	}
	for payload, want := range cases {
		got, err := a.WebhookEventType([]byte(payload), nil)
		require.NoError(t, err)
		assert.Equal(t, want, got, payload)
	}
	_, err := a.WebhookEventType([]byte(`{"foo":1}`), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}

func TestProcessSTKCallbackSuccess(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	payload := `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":150.00},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"TransactionDate","Value":20260501120512},{"Name":"PhoneNumber","Value":254712345678}]}}}}`

	res, err := a.ProcessWebhook(context.Background(), domain.WebhookRequest{Payload: []byte(payload)})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", res.TransactionID)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "NLJ7RT61SV", res.PaymentDetails["mpesa_receipt_number"])
	assert.Equal(t, "254712345678", res.PaymentDetails["phone_number"])
	assert.Equal(t, "20260501120512", res.PaymentDetails["transaction_date"])
	assert.Equal(t, "stk:ws_CO_1", res.IdempotencyKey)
}

func TestProcessSTKCallbackCancelled(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	payload := `{"Body":{"stkCallback":{"MerchantRequestID":"1","CheckoutRequestID":"ws_CO_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`

	res, err := a.ProcessWebhook(context.Background(), domain.WebhookRequest{EventType: EventSTKCallback, Payload: []byte(payload)})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Equal(t, "Request cancelled by user", res.ErrorMessage)
}

func TestProcessC2BConfirmationCreatesTransaction(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	payload := `{"TransactionType":"Pay Bill","TransID":"RKTQDM7W6S","TransTime":"20260501120000","TransAmount":"1200.00","BusinessShortCode":"600638","BillRefNumber":"LOAN-42","MSISDN":"2547*****149","FirstName":"Jane"}`

	res, err := a.ProcessWebhook(context.Background(), domain.WebhookRequest{Payload: []byte(payload)})
	require.NoError(t, err)
	assert.True(t, res.ShouldCreateTransaction)
	require.NotNil(t, res.TransactionData)
	assert.Equal(t, "RKTQDM7W6S", res.TransactionData.ExternalID)
	assert.True(t, decimal.NewFromInt(1200).Equal(res.TransactionData.Amount))
	assert.Equal(t, "KES", res.TransactionData.Currency)
	assert.Equal(t, "LOAN-42", res.TransactionData.ReferenceNumber)
}

func TestProcessReversalResult(t *testing.T) {
	a := fakeDaraja(t, func(w http.ResponseWriter, r *http.Request) {}, nil)
	payload := `{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"The service request is processed successfully.","OriginatorConversationID":"oc-1","ConversationID":"AG_2026_1","TransactionID":"NLJ0000000"}}`

	res, err := a.ProcessWebhook(context.Background(), domain.WebhookRequest{EventType: EventReversalResult, Payload: []byte(payload)})
	require.NoError(t, err)
	assert.Equal(t, "AG_2026_1", res.TransactionID)
	assert.Equal(t, domain.StatusCompleted, res.Status)

	res, err = a.ProcessWebhook(context.Background(), domain.WebhookRequest{EventType: EventTimeout, Payload: []byte(payload)})
	require.NoError(t, err)
	assert.Empty(t, res.Status)
	assert.NotEmpty(t, res.Message)
}
