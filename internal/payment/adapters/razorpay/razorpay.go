package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finbridge/payhub/internal/payment/adapters/gatewayhttp"
	"github.com/finbridge/payhub/internal/payment/domain"
)

const (
	apiURL   = "https://api.razorpay.com"
	currency = "INR"

	// openEndedCycles bounds subscriptions without an end date; Razorpay
	// requires a total count.
	openEndedCycles = 100
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() domain.ProviderType {
	return domain.ProviderRazorpay
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	keyID, err := gatewayhttp.RequireString(domain.ProviderRazorpay, cfg.Config, "key_id")
	if err != nil {
		return nil, err
	}
	keySecret, err := gatewayhttp.RequireString(domain.ProviderRazorpay, cfg.Config, "key_secret")
	if err != nil {
		return nil, err
	}
	webhookSecret, _ := gatewayhttp.ReadString(cfg.Config, "webhook_secret")

	// Razorpay has one host; test and live mode are selected by the key pair.
	return &Adapter{
		client:        gatewayhttp.New(cfg, gatewayhttp.BaseURL(cfg.Config, true, apiURL, apiURL)),
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}, nil
}

type Adapter struct {
	client        *gatewayhttp.Client
	keyID         string
	keySecret     string
	webhookSecret string
}

func (a *Adapter) SupportedCurrencies() []string {
	return []string{currency}
}

// notes decodes Razorpay notes, which arrive as an empty array when unset.
type notes map[string]string

func (n *notes) UnmarshalJSON(raw []byte) error {
	if len(raw) > 0 && raw[0] == '[' {
		*n = notes{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	out := make(notes, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	*n = out
	return nil
}

type order struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Notes      notes  `json:"notes"`
}

type payment struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	OrderID          string `json:"order_id"`
	InvoiceID        string `json:"invoice_id"`
	Method           string `json:"method"`
	AmountRefunded   int64  `json:"amount_refunded"`
	RefundStatus     string `json:"refund_status"`
	Captured         bool   `json:"captured"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"`
	Notes            notes  `json:"notes"`
}

type refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

func (a *Adapter) do(ctx context.Context, operation, method, path string, body, out any) (gatewayhttp.Exchange, error) {
	return a.client.Do(ctx, gatewayhttp.Request{
		Operation: operation,
		Method:    method,
		Path:      path,
		JSON:      body,
		Username:  a.keyID,
		Password:  a.keySecret,
	}, out)
}

func requireINR(code string) error {
	if domain.NormalizeCurrency(code) != currency {
		return fmt.Errorf("%w: razorpay settles in INR only, got %q", domain.ErrUnsupportedCurrency, code)
	}
	return nil
}

// CreatePayment opens an order; the checkout widget completes it client-side.
func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
	if err := requireINR(req.Currency); err != nil {
		return nil, err
	}
	receipt := req.Reference
	if receipt == "" {
		receipt = req.TransactionID.String()
	}
	body := map[string]any{
		"amount":          domain.ToMinorUnits(req.Amount, currency),
		"currency":        currency,
		"receipt":         truncate(receipt, 40),
		"payment_capture": 1,
		"notes":           map[string]string{"transaction_id": req.TransactionID.String()},
	}

	var out order
	exchange, err := a.do(ctx, "create_order", http.MethodPost, "/v1/orders", body, &out)
	if err != nil {
		return nil, err
	}
	return &domain.CreatePaymentResult{
		ExternalID: out.ID,
		Status:     domain.StatusPending,
		Audit:      exchange.Audit(),
	}, nil
}

// ExecutePayment confirms a checkout: it verifies the checkout signature,
// then captures the payment if it is only authorized.
func (a *Adapter) ExecutePayment(ctx context.Context, req domain.ExecutePaymentRequest) (*domain.ExecutePaymentResult, error) {
	if err := requireINR(req.Currency); err != nil {
		return nil, err
	}
	paymentID := detail(req.PaymentDetails, "razorpay_payment_id")
	if paymentID == "" {
		paymentID = req.PaymentMethodToken
	}
	if !strings.HasPrefix(paymentID, "pay_") {
		return nil, fmt.Errorf("%w: razorpay execute requires razorpay_payment_id", domain.ErrInvalidPaymentMethod)
	}
	orderID := detail(req.PaymentDetails, "razorpay_order_id")
	if orderID == "" {
		orderID = req.ExternalID
	}
	if signature := detail(req.PaymentDetails, "razorpay_signature"); signature != "" {
		if !a.validCheckoutSignature(orderID, paymentID, signature) {
			return &domain.ExecutePaymentResult{
				Success:      false,
				Status:       domain.StatusFailed,
				ErrorMessage: "checkout signature mismatch",
			}, nil
		}
	}

	var p payment
	exchange, err := a.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &p)
	if err != nil {
		return nil, err
	}
	if orderID != "" && p.OrderID != "" && p.OrderID != orderID {
		return nil, domain.Invalid("razorpay payment %s belongs to order %s", p.ID, p.OrderID)
	}

	if p.Status == "authorized" {
		exchange, err = a.do(ctx, "capture_payment", http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID)+"/capture", map[string]any{
			"amount":   p.Amount,
			"currency": p.Currency,
		}, &p)
		if err != nil {
			return nil, err
		}
	}

	status := mapPaymentStatus(&p)
	result := &domain.ExecutePaymentResult{
		Success: status == domain.StatusCompleted,
		Status:  status,
		PaymentDetails: map[string]any{
			"payment_id":     p.ID,
			"order_id":       p.OrderID,
			"method":         p.Method,
			"payment_status": p.Status,
		},
		Audit: exchange.Audit(),
	}
	if status == domain.StatusFailed {
		result.ErrorMessage = p.ErrorDescription
	}
	return result, nil
}

func (a *Adapter) validCheckoutSignature(orderID, paymentID, signature string) bool {
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.keySecret))
	_, _ = mac.Write([]byte(orderID + "|" + paymentID))
	return hmac.Equal(given, mac.Sum(nil))
}

// orderPayment returns the payment that settles an order: the captured one
// when present, else the most recent attempt.
func (a *Adapter) orderPayment(ctx context.Context, orderID string) (*payment, gatewayhttp.Exchange, error) {
	var out struct {
		Items []payment `json:"items"`
	}
	exchange, err := a.do(ctx, "get_order_payments", http.MethodGet, "/v1/orders/"+url.PathEscape(orderID)+"/payments", nil, &out)
	if err != nil {
		return nil, exchange, err
	}
	var latest *payment
	for i := range out.Items {
		p := &out.Items[i]
		if p.Captured || p.Status == "captured" || p.Status == "refunded" {
			return p, exchange, nil
		}
		if latest == nil || p.CreatedAt > latest.CreatedAt {
			latest = p
		}
	}
	return latest, exchange, nil
}

func (a *Adapter) CheckPaymentStatus(ctx context.Context, req domain.StatusRequest) (*domain.StatusResult, error) {
	if req.ExternalID == "" {
		return &domain.StatusResult{Status: domain.StatusPending}, nil
	}
	if strings.HasPrefix(req.ExternalID, "pay_") {
		var p payment
		exchange, err := a.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(req.ExternalID), nil, &p)
		if err != nil {
			return nil, err
		}
		return statusResult(&p, exchange), nil
	}

	p, exchange, err := a.orderPayment(ctx, req.ExternalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return &domain.StatusResult{Status: domain.StatusPending, Audit: exchange.Audit()}, nil
	}
	return statusResult(p, exchange), nil
}

func statusResult(p *payment, exchange gatewayhttp.Exchange) *domain.StatusResult {
	result := &domain.StatusResult{
		Status: mapPaymentStatus(p),
		PaymentDetails: map[string]any{
			"payment_id":     p.ID,
			"payment_status": p.Status,
		},
		Audit: exchange.Audit(),
	}
	if result.Status == domain.StatusFailed {
		result.ErrorMessage = p.ErrorDescription
	}
	return result
}

func (a *Adapter) RefundPayment(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	if err := requireINR(req.Currency); err != nil {
		return nil, err
	}

	var p *payment
	paymentID := detail(req.PaymentDetails, "payment_id")
	if paymentID == "" && strings.HasPrefix(req.ExternalID, "pay_") {
		paymentID = req.ExternalID
	}
	if paymentID != "" {
		var fetched payment
		if _, err := a.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &fetched); err != nil {
			return nil, err
		}
		p = &fetched
	} else {
		if req.ExternalID == "" {
			return nil, domain.ErrNothingToRefund
		}
		found, _, err := a.orderPayment(ctx, req.ExternalID)
		if err != nil {
			return nil, err
		}
		p = found
	}
	if p == nil || !p.Captured {
		return nil, fmt.Errorf("%w: razorpay has no captured payment for %s", domain.ErrNothingToRefund, req.ExternalID)
	}

	amount := domain.ToMinorUnits(req.Amount, currency)
	if refundable := p.Amount - p.AmountRefunded; amount > refundable {
		return nil, fmt.Errorf("%w: requested %d paise, refundable %d", domain.ErrRefundExceedsAmount, amount, refundable)
	}

	body := map[string]any{
		"amount":  amount,
		"receipt": "payhub-refund-" + req.TransactionID.String(),
		"notes":   map[string]string{"transaction_id": req.TransactionID.String()},
	}
	if req.Reason != "" {
		body["notes"] = map[string]string{"transaction_id": req.TransactionID.String(), "reason": truncate(req.Reason, 256)}
	}

	var out refund
	exchange, err := a.do(ctx, "refund_payment", http.MethodPost, "/v1/payments/"+url.PathEscape(p.ID)+"/refund", body, &out)
	if err != nil {
		return nil, err
	}
	status := mapRefundStatus(out.Status)
	result := &domain.RefundResult{
		Success:  status != domain.StatusFailed,
		Status:   status,
		RefundID: out.ID,
		Audit:    exchange.Audit(),
	}
	if !result.Success {
		result.ErrorMessage = "refund failed"
	}
	return result, nil
}

func (a *Adapter) CreateRecurringPayment(ctx context.Context, req domain.RecurringRequest) (*domain.RecurringResult, error) {
	if err := requireINR(req.Currency); err != nil {
		return nil, err
	}
	interval, err := req.Frequency.Interval(req.Metadata)
	if err != nil {
		return nil, err
	}
	period, count, err := razorpayPeriod(interval)
	if err != nil {
		return nil, err
	}

	name := req.Description
	if name == "" {
		name = "Recurring payment " + req.ConfigID.String()
	}
	var plan struct {
		ID string `json:"id"`
	}
	if _, err := a.do(ctx, "create_plan", http.MethodPost, "/v1/plans", map[string]any{
		"period":   period,
		"interval": count,
		"item": map[string]any{
			"name":     truncate(name, 100),
			"amount":   domain.ToMinorUnits(req.Amount, currency),
			"currency": currency,
		},
		"notes": map[string]string{"config_id": req.ConfigID.String()},
	}, &plan); err != nil {
		return nil, err
	}

	total := interval.Occurrences(req.StartDate, req.EndDate)
	if total <= 0 {
		total = openEndedCycles
	}
	body := map[string]any{
		"plan_id":         plan.ID,
		"total_count":     total,
		"customer_notify": 1,
		"notes":           map[string]string{"config_id": req.ConfigID.String()},
	}
	if !req.StartDate.IsZero() && req.StartDate.After(time.Now()) {
		body["start_at"] = req.StartDate.Unix()
	}
	if req.PaymentMethodToken != "" {
		body["notes"] = map[string]string{"config_id": req.ConfigID.String(), "token": req.PaymentMethodToken}
	}

	var out struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		ShortURL string `json:"short_url"`
	}
	exchange, err := a.do(ctx, "create_subscription", http.MethodPost, "/v1/subscriptions", body, &out)
	if err != nil {
		return nil, err
	}
	return &domain.RecurringResult{
		SubscriptionID: out.ID,
		Status:         mapSubscriptionStatus(out.Status),
		ApprovalURL:    out.ShortURL,
		Audit:          exchange.Audit(),
	}, nil
}

func (a *Adapter) UpdateRecurringPaymentStatus(ctx context.Context, subscriptionID string, status domain.RecurringStatus) (*domain.RecurringStatusResult, error) {
	var (
		action string
		body   map[string]any
	)
	switch status {
	case domain.RecurringActive:
		action, body = "resume", map[string]any{"resume_at": "now"}
	case domain.RecurringPaused:
		action, body = "pause", map[string]any{"pause_at": "now"}
	case domain.RecurringCancelled:
		action, body = "cancel", map[string]any{"cancel_at_cycle_end": 0}
	default:
		return nil, fmt.Errorf("%w: razorpay cannot move a subscription to %q", domain.ErrInvalidStatus, status)
	}

	exchange, err := a.do(ctx, action+"_subscription", http.MethodPost,
		"/v1/subscriptions/"+url.PathEscape(subscriptionID)+"/"+action, body, nil)
	if err != nil {
		return nil, err
	}
	return &domain.RecurringStatusResult{Updated: true, Audit: exchange.Audit()}, nil
}

// razorpayPeriod maps an interval onto Razorpay plan periods. Daily plans
// must repeat at least every 7 days.
func razorpayPeriod(interval domain.Interval) (string, int, error) {
	switch interval.Unit {
	case domain.IntervalDay:
		if interval.Count < 7 {
			return "", 0, fmt.Errorf("%w: razorpay daily plans need an interval of at least 7 days", domain.ErrUnsupportedFrequency)
		}
		return "daily", interval.Count, nil
	case domain.IntervalWeek:
		return "weekly", interval.Count, nil
	case domain.IntervalMonth:
		return "monthly", interval.Count, nil
	case domain.IntervalYear:
		return "yearly", interval.Count, nil
	default:
		return "", 0, fmt.Errorf("%w: %q", domain.ErrUnsupportedFrequency, interval.Unit)
	}
}

func mapPaymentStatus(p *payment) domain.TransactionStatus {
	switch p.Status {
	case "captured":
		switch p.RefundStatus {
		case "full":
			return domain.StatusRefunded
		case "partial":
			return domain.StatusPartiallyRefunded
		}
		return domain.StatusCompleted
	case "authorized":
		return domain.StatusAuthorized
	case "refunded":
		if p.AmountRefunded > 0 && p.AmountRefunded < p.Amount {
			return domain.StatusPartiallyRefunded
		}
		return domain.StatusRefunded
	case "failed":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}

func mapRefundStatus(status string) domain.TransactionStatus {
	switch status {
	case "processed":
		return domain.StatusCompleted
	case "failed":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}

func mapSubscriptionStatus(status string) domain.RecurringStatus {
	switch status {
	case "paused":
		return domain.RecurringPaused
	case "cancelled":
		return domain.RecurringCancelled
	case "completed", "expired":
		return domain.RecurringCompleted
	case "halted":
		return domain.RecurringFailed
	default:
		return domain.RecurringActive
	}
}

func detail(details map[string]any, key string) string {
	s, _ := details[key].(string)
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
