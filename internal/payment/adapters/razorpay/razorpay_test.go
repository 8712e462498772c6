package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "rzp_test_key", user)
		require.Equal(t, "rzp_secret", pass)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	gw, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider: domain.ProviderRazorpay,
		Config: map[string]any{
			"key_id":         "rzp_test_key",
			"key_secret":     "rzp_secret",
			"webhook_secret": "rzp_whsec",
			"base_url":       srv.URL,
		},
	})
	require.NoError(t, err)
	return gw.(*Adapter)
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

func hmacHex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestFactoryRequiresSecret(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{Config: map[string]any{"key_id": "k"}})
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "key_secret")
}

func TestCreatePaymentRejectsNonINR(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no call expected")
	})
	_, err := a.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		TransactionID: snowflake.ID(1),
		Amount:        decimal.NewFromInt(10),
		Currency:      "USD",
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedCurrency)
}

func TestCreatePaymentOpensOrder(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/orders", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, float64(150050), body["amount"])
		assert.Equal(t, "INR", body["currency"])
		assert.Equal(t, "33", body["notes"].(map[string]any)["transaction_id"])
		writeJSON(w, http.StatusOK, `{"id":"order_EKwxwAgItmmXdp","entity":"order","amount":150050,"currency":"INR","status":"created","notes":[]}`)
	})

	res, err := a.CreatePayment(context.Background(), domain.CreatePaymentRequest{
		TransactionID: snowflake.ID(33),
		Amount:        decimal.RequireFromString("1500.50"),
		Currency:      "inr",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_EKwxwAgItmmXdp", res.ExternalID)
	assert.Equal(t, domain.StatusPending, res.Status)
}

func TestExecutePaymentCapturesAuthorized(t *testing.T) {
	captured := false
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/pay_1":
			writeJSON(w, http.StatusOK, `{"id":"pay_1","amount":50000,"currency":"INR","status":"authorized","order_id":"order_1","method":"upi","captured":false,"notes":{"transaction_id":"5"}}`)
		case "/v1/payments/pay_1/capture":
			captured = true
			body := decodeBody(t, r)
			assert.Equal(t, float64(50000), body["amount"])
			writeJSON(w, http.StatusOK, `{"id":"pay_1","amount":50000,"currency":"INR","status":"captured","order_id":"order_1","method":"upi","captured":true}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	res, err := a.ExecutePayment(context.Background(), domain.ExecutePaymentRequest{
		TransactionID: snowflake.ID(5),
		ExternalID:    "order_1",
		Amount:        decimal.NewFromInt(500),
		Currency:      "INR",
		PaymentDetails: map[string]any{
			"razorpay_payment_id": "pay_1",
			"razorpay_order_id":   "order_1",
			"razorpay_signature":  hmacHex("rzp_secret", "order_1|pay_1"),
		},
	})
	require.NoError(t, err)
	assert.True(t, captured)
	assert.True(t, res.Success)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "pay_1", res.PaymentDetails["payment_id"])
}

func TestExecutePaymentBadSignature(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no call expected")
	})

	res, err := a.ExecutePayment(context.Background(), domain.ExecutePaymentRequest{
		TransactionID: snowflake.ID(5),
		ExternalID:    "order_1",
		Currency:      "INR",
		PaymentDetails: map[string]any{
			"razorpay_payment_id": "pay_1",
			"razorpay_signature":  hmacHex("other", "order_1|pay_1"),
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.StatusFailed, res.Status)
}

func TestCheckPaymentStatusPrefersCaptured(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/orders/order_1/payments", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"entity":"collection","count":2,"items":[
			{"id":"pay_a","amount":50000,"status":"failed","order_id":"order_1","created_at":100,"error_description":"Payment failed"},
			{"id":"pay_b","amount":50000,"status":"captured","order_id":"order_1","created_at":90,"captured":true,"refund_status":"partial","amount_refunded":1000}
		]}`)
	})

	res, err := a.CheckPaymentStatus(context.Background(), domain.StatusRequest{ExternalID: "order_1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartiallyRefunded, res.Status)
	assert.Equal(t, "pay_b", res.PaymentDetails["payment_id"])
}

func TestCheckPaymentStatusNoAttempts(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"entity":"collection","count":0,"items":[]}`)
	})

	res, err := a.CheckPaymentStatus(context.Background(), domain.StatusRequest{ExternalID: "order_1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, res.Status)
}

func TestRefundPayment(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/pay_b":
			writeJSON(w, http.StatusOK, `{"id":"pay_b","amount":50000,"status":"captured","captured":true,"amount_refunded":10000}`)
		case "/v1/payments/pay_b/refund":
			body := decodeBody(t, r)
			assert.Equal(t, float64(40000), body["amount"])
			writeJSON(w, http.StatusOK, `{"id":"rfnd_1","entity":"refund","payment_id":"pay_b","amount":40000,"status":"processed"}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	res, err := a.RefundPayment(context.Background(), domain.RefundRequest{
		TransactionID:  snowflake.ID(8),
		ExternalID:     "order_1",
		Amount:         decimal.NewFromInt(400),
		Currency:       "INR",
		PaymentDetails: map[string]any{"payment_id": "pay_b"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "rfnd_1", res.RefundID)
	assert.Equal(t, domain.StatusCompleted, res.Status)
}

func TestRefundPaymentExceedsRemaining(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"pay_b","amount":50000,"status":"captured","captured":true,"amount_refunded":10000}`)
	})

	_, err := a.RefundPayment(context.Background(), domain.RefundRequest{
		TransactionID: snowflake.ID(8),
		ExternalID:    "pay_b",
		Amount:        decimal.NewFromInt(401),
		Currency:      "INR",
	})
	assert.ErrorIs(t, err, domain.ErrRefundExceedsAmount)
}

func TestCreateRecurringPayment(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/plans":
			body := decodeBody(t, r)
			assert.Equal(t, "monthly", body["period"])
			assert.Equal(t, float64(3), body["interval"])
			writeJSON(w, http.StatusOK, `{"id":"plan_1","entity":"plan"}`)
		case "/v1/subscriptions":
			body := decodeBody(t, r)
			assert.Equal(t, "plan_1", body["plan_id"])
			assert.Equal(t, float64(openEndedCycles), body["total_count"])
			writeJSON(w, http.StatusOK, `{"id":"sub_1","entity":"subscription","status":"created","short_url":"https://rzp.io/i/abc"}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	res, err := a.CreateRecurringPayment(context.Background(), domain.RecurringRequest{
		ConfigID:  snowflake.ID(2),
		Frequency: domain.FrequencyQuarterly,
		Amount:    decimal.NewFromInt(999),
		Currency:  "INR",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", res.SubscriptionID)
	assert.Equal(t, "https://rzp.io/i/abc", res.ApprovalURL)
	assert.Equal(t, domain.RecurringActive, res.Status)
}

func TestCreateRecurringPaymentRejectsDaily(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no call expected")
	})
	_, err := a.CreateRecurringPayment(context.Background(), domain.RecurringRequest{
		ConfigID:  snowflake.ID(2),
		Frequency: domain.FrequencyDaily,
		Amount:    decimal.NewFromInt(10),
		Currency:  "INR",
	})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFrequency)
}

func TestRazorpayPeriodCustomDays(t *testing.T) {
	period, count, err := razorpayPeriod(domain.Interval{Unit: domain.IntervalDay, Count: 10})
	require.NoError(t, err)
	assert.Equal(t, "daily", period)
	assert.Equal(t, 10, count)
}

func TestUpdateRecurringPaymentStatus(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/subscriptions/sub_1/pause", r.URL.Path)
		assert.Equal(t, "now", decodeBody(t, r)["pause_at"])
		writeJSON(w, http.StatusOK, `{"id":"sub_1","status":"paused"}`)
	})

	res, err := a.UpdateRecurringPaymentStatus(context.Background(), "sub_1", domain.RecurringPaused)
	require.NoError(t, err)
	assert.True(t, res.Updated)

	_, err = a.UpdateRecurringPaymentStatus(context.Background(), "sub_1", domain.RecurringCompleted)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestVerifyWebhook(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	body := []byte(`{"event":"payment.captured"}`)

	headers := http.Header{}
	headers.Set("X-Razorpay-Signature", hmacHex("rzp_whsec", string(body)))
	require.NoError(t, a.VerifyWebhook(context.Background(), body, headers))

	headers.Set("X-Razorpay-Signature", hmacHex("wrong", string(body)))
	assert.ErrorIs(t, a.VerifyWebhook(context.Background(), body, headers), domain.ErrInvalidSignature)
}

func TestProcessWebhookPaymentCaptured(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	body := `{"entity":"event","event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","amount":50000,"currency":"INR","status":"captured","order_id":"order_1","captured":true,"notes":{"transaction_id":"5"}}}}}`
	headers := http.Header{}
	headers.Set("X-Razorpay-Event-Id", "evt_123")

	res, err := a.ProcessWebhook(context.Background(), domain.WebhookRequest{Payload: []byte(body), Headers: headers})
	require.NoError(t, err)
	assert.Equal(t, "order_1", res.TransactionID)
	assert.Equal(t, "pay_1", res.FallbackTransactionID)
	assert.Equal(t, "5", res.LocalReference)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "evt_123", res.IdempotencyKey)
}

func TestProcessWebhookPaymentFailed(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	body := `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","status":"failed","order_id":"order_2","error_code":"BAD_REQUEST_ERROR","error_description":"Payment failed due to insufficient balance","notes":[]}}}}`

	res, err := a.ProcessWebhook(context.Background(), domain.WebhookRequest{Payload: []byte(body), Headers: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Contains(t, res.ErrorMessage, "insufficient balance")
	assert.Equal(t, "payment.failed:pay_2", res.IdempotencyKey)
}

func TestProcessWebhookSubscriptionCharged(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	body := `{"event":"subscription.charged","payload":{
		"subscription":{"entity":{"id":"sub_1","plan_id":"plan_1","status":"active","paid_count":2,"notes":{"config_id":"2"}}},
		"payment":{"entity":{"id":"pay_9","amount":99900,"currency":"INR","status":"captured","invoice_id":"inv_1","method":"card","captured":true}}}}`

	res, err := a.ProcessWebhook(context.Background(), domain.WebhookRequest{Payload: []byte(body), Headers: http.Header{}})
	require.NoError(t, err)
	require.True(t, res.ShouldCreateTransaction)
	assert.Equal(t, "pay_9", res.TransactionData.ExternalID)
	assert.True(t, decimal.NewFromInt(999).Equal(res.TransactionData.Amount))
	assert.Equal(t, "2", res.TransactionData.Metadata["config_id"])
}

func TestProcessWebhookUnknownEvent(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := a.ProcessWebhook(context.Background(), domain.WebhookRequest{Payload: []byte(`{"event":"virtual_account.credited"}`), Headers: http.Header{}})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)
}
