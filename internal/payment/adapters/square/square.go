package square

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finbridge/payhub/internal/payment/adapters/gatewayhttp"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/google/uuid"
)

const (
	sandboxURL = "https://connect.squareupsandbox.com"
	liveURL    = "https://connect.squareup.com"

	apiVersion = "2024-01-18"
)

// Idempotency keys are name-based UUIDs, so a retried call with the same
// transaction id reuses the same key.
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://payhub/square"))

func idempotencyKey(parts ...string) string {
	return uuid.NewSHA1(keyNamespace, []byte(strings.Join(parts, ":"))).String()
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() domain.ProviderType {
	return domain.ProviderSquare
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	token, err := gatewayhttp.RequireString(domain.ProviderSquare, cfg.Config, "access_token")
	if err != nil {
		return nil, err
	}
	locationID, err := gatewayhttp.RequireString(domain.ProviderSquare, cfg.Config, "location_id")
	if err != nil {
		return nil, err
	}
	live, err := gatewayhttp.Environment(domain.ProviderSquare, cfg.Config, "sandbox", "production")
	if err != nil {
		return nil, err
	}
	signatureKey, _ := gatewayhttp.ReadString(cfg.Config, "signature_key")
	notificationURL, _ := gatewayhttp.ReadString(cfg.Config, "notification_url")

	return &Adapter{
		client:          gatewayhttp.New(cfg, gatewayhttp.BaseURL(cfg.Config, live, sandboxURL, liveURL)),
		accessToken:     token,
		locationID:      locationID,
		signatureKey:    signatureKey,
		notificationURL: notificationURL,
	}, nil
}

// Adapter uses Square payment links for hosted checkout, the Payments API
// for card-on-file charges and catalog subscription plans for recurring
// billing.
type Adapter struct {
	client          *gatewayhttp.Client
	accessToken     string
	locationID      string
	signatureKey    string
	notificationURL string
}

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func newMoney(amount int64, currency string) money {
	return money{Amount: amount, Currency: domain.NormalizeCurrency(currency)}
}

type payment struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	OrderID       string `json:"order_id"`
	ReferenceID   string `json:"reference_id"`
	TotalMoney    *money `json:"total_money"`
	RefundedMoney *money `json:"refunded_money"`
	ReceiptURL    string `json:"receipt_url"`
	CardDetails   *struct {
		Status string `json:"status"`
		Card   struct {
			CardBrand string `json:"card_brand"`
			Last4     string `json:"last_4"`
		} `json:"card"`
	} `json:"card_details"`
}

type order struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Tenders []struct {
		ID        string `json:"id"`
		PaymentID string `json:"payment_id"`
	} `json:"tenders"`
}

type refund struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
}

func (a *Adapter) do(ctx context.Context, operation, method, path string, body, out any) (gatewayhttp.Exchange, error) {
	return a.client.Do(ctx, gatewayhttp.Request{
		Operation:   operation,
		Method:      method,
		Path:        path,
		JSON:        body,
		BearerToken: a.accessToken,
		Headers:     map[string]string{"Square-Version": apiVersion},
	}, out)
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
	name := req.Description
	if name == "" {
		name = "Payment " + req.TransactionID.String()
	}
	body := map[string]any{
		"idempotency_key": idempotencyKey("create", req.TransactionID.String()),
		"quick_pay": map[string]any{
			"name":        name,
			"price_money": newMoney(domain.ToMinorUnits(req.Amount, req.Currency), req.Currency),
			"location_id": a.locationID,
		},
		"payment_note": req.TransactionID.String(),
	}
	if req.CallbackURL != "" {
		body["checkout_options"] = map[string]any{"redirect_url": req.CallbackURL}
	}

	var out struct {
		PaymentLink struct {
			ID      string `json:"id"`
			URL     string `json:"url"`
			OrderID string `json:"order_id"`
		} `json:"payment_link"`
	}
	exchange, err := a.do(ctx, "create_payment_link", http.MethodPost, "/v2/online-checkout/payment-links", body, &out)
	if err != nil {
		return nil, err
	}
	return &domain.CreatePaymentResult{
		ExternalID: out.PaymentLink.OrderID,
		Status:     domain.StatusPending,
		PaymentURL: out.PaymentLink.URL,
		Audit:      exchange.Audit(),
	}, nil
}

// declineCodes are Square PAYMENT_METHOD_ERROR codes that mean the card was
// refused rather than the request being malformed.
var declineCodes = map[string]struct{}{
	"CARD_DECLINED":                       {},
	"GENERIC_DECLINE":                     {},
	"CVV_FAILURE":                         {},
	"ADDRESS_VERIFICATION_FAILURE":        {},
	"INSUFFICIENT_FUNDS":                  {},
	"CARD_EXPIRED":                        {},
	"INVALID_EXPIRATION":                  {},
	"CARD_NOT_SUPPORTED":                  {},
	"TRANSACTION_LIMIT":                   {},
	"VOICE_FAILURE":                       {},
	"PAN_FAILURE":                         {},
	"CARD_DECLINED_VERIFICATION_REQUIRED": {},
}

func (a *Adapter) ExecutePayment(ctx context.Context, req domain.ExecutePaymentRequest) (*domain.ExecutePaymentResult, error) {
	if req.PaymentMethodToken == "" {
		return nil, fmt.Errorf("%w: square execute requires a source id", domain.ErrInvalidPaymentMethod)
	}
	body := map[string]any{
		"source_id":       req.PaymentMethodToken,
		"idempotency_key": idempotencyKey("execute", req.TransactionID.String()),
		"amount_money":    newMoney(domain.ToMinorUnits(req.Amount, req.Currency), req.Currency),
		"location_id":     a.locationID,
		"reference_id":    req.TransactionID.String(),
		"autocomplete":    true,
	}
	if req.ExternalID != "" {
		body["order_id"] = req.ExternalID
	}
	if customerID, ok := req.PaymentDetails["customer_id"].(string); ok && customerID != "" {
		body["customer_id"] = customerID
	}
	if token, ok := req.PaymentDetails["verification_token"].(string); ok && token != "" {
		body["verification_token"] = token
	}

	var out struct {
		Payment payment `json:"payment"`
	}
	exchange, err := a.do(ctx, "create_payment", http.MethodPost, "/v2/payments", body, &out)
	if err != nil {
		if _, declined := declineCodes[gatewayhttp.ErrorCode(err)]; declined {
			return &domain.ExecutePaymentResult{
				Success:      false,
				Status:       domain.StatusFailed,
				ErrorMessage: gatewayhttp.ErrorMessage(err),
				Audit:        exchange.Audit(),
			}, nil
		}
		return nil, err
	}

	status := mapPaymentStatus(&out.Payment)
	result := &domain.ExecutePaymentResult{
		Success:    status == domain.StatusCompleted || status == domain.StatusAuthorized,
		Status:     status,
		ExternalID: out.Payment.ID,
		PaymentDetails: map[string]any{
			"payment_id":     out.Payment.ID,
			"order_id":       out.Payment.OrderID,
			"payment_status": out.Payment.Status,
			"receipt_url":    out.Payment.ReceiptURL,
		},
		Audit: exchange.Audit(),
	}
	if out.Payment.CardDetails != nil {
		result.PaymentDetails["card_brand"] = out.Payment.CardDetails.Card.CardBrand
		result.PaymentDetails["last4"] = out.Payment.CardDetails.Card.Last4
	}
	return result, nil
}

func (a *Adapter) getPayment(ctx context.Context, id string) (*payment, gatewayhttp.Exchange, error) {
	var out struct {
		Payment payment `json:"payment"`
	}
	exchange, err := a.do(ctx, "get_payment", http.MethodGet, "/v2/payments/"+url.PathEscape(id), nil, &out)
	if err != nil {
		return nil, exchange, err
	}
	return &out.Payment, exchange, nil
}

func (a *Adapter) getOrder(ctx context.Context, id string) (*order, gatewayhttp.Exchange, error) {
	var out struct {
		Order order `json:"order"`
	}
	exchange, err := a.do(ctx, "get_order", http.MethodGet, "/v2/orders/"+url.PathEscape(id), nil, &out)
	if err != nil {
		return nil, exchange, err
	}
	return &out.Order, exchange, nil
}

// CheckPaymentStatus reads the payment, falling back to the order when the
// external id is still the payment-link order.
func (a *Adapter) CheckPaymentStatus(ctx context.Context, req domain.StatusRequest) (*domain.StatusResult, error) {
	if req.ExternalID == "" {
		return &domain.StatusResult{Status: domain.StatusPending}, nil
	}

	p, exchange, err := a.getPayment(ctx, req.ExternalID)
	if err == nil {
		return &domain.StatusResult{
			Status:         mapPaymentStatus(p),
			PaymentDetails: map[string]any{"payment_id": p.ID, "payment_status": p.Status},
			Audit:          exchange.Audit(),
		}, nil
	}
	if gatewayhttp.StatusCode(err) != http.StatusNotFound {
		return nil, err
	}

	o, exchange, err := a.getOrder(ctx, req.ExternalID)
	if err != nil {
		return nil, err
	}
	result := &domain.StatusResult{
		Status:         mapOrderState(o.State),
		PaymentDetails: map[string]any{"order_state": o.State},
		Audit:          exchange.Audit(),
	}
	if len(o.Tenders) > 0 && o.Tenders[0].PaymentID != "" {
		result.PaymentDetails["payment_id"] = o.Tenders[0].PaymentID
	}
	return result, nil
}

// resolvePayment finds the payment behind an external id that may be either
// a payment id or a payment-link order id.
func (a *Adapter) resolvePayment(ctx context.Context, externalID string, details map[string]any) (*payment, error) {
	id := externalID
	if pid, ok := details["payment_id"].(string); ok && pid != "" {
		id = pid
	}
	p, _, err := a.getPayment(ctx, id)
	if err == nil {
		return p, nil
	}
	if gatewayhttp.StatusCode(err) != http.StatusNotFound {
		return nil, err
	}
	o, _, err := a.getOrder(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if len(o.Tenders) == 0 || o.Tenders[0].PaymentID == "" {
		return nil, fmt.Errorf("%w: square order %s has no payment", domain.ErrNothingToRefund, externalID)
	}
	p, _, err = a.getPayment(ctx, o.Tenders[0].PaymentID)
	return p, err
}

func (a *Adapter) RefundPayment(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	if req.ExternalID == "" {
		return nil, domain.ErrNothingToRefund
	}
	p, err := a.resolvePayment(ctx, req.ExternalID, req.PaymentDetails)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(p.Status, "COMPLETED") {
		return nil, fmt.Errorf("%w: square payment %s is %s", domain.ErrNothingToRefund, p.ID, p.Status)
	}

	amount := domain.ToMinorUnits(req.Amount, req.Currency)
	if p.TotalMoney != nil {
		refundable := p.TotalMoney.Amount
		if p.RefundedMoney != nil {
			refundable -= p.RefundedMoney.Amount
		}
		if amount > refundable {
			return nil, fmt.Errorf("%w: requested %d, refundable %d", domain.ErrRefundExceedsAmount, amount, refundable)
		}
	}

	body := map[string]any{
		"idempotency_key": idempotencyKey("refund", req.TransactionID.String()),
		"payment_id":      p.ID,
		"amount_money":    newMoney(amount, req.Currency),
	}
	if req.Reason != "" {
		body["reason"] = truncate(req.Reason, 192)
	}

	var out struct {
		Refund refund `json:"refund"`
	}
	exchange, err := a.do(ctx, "refund_payment", http.MethodPost, "/v2/refunds", body, &out)
	if err != nil {
		return nil, err
	}

	status := mapRefundStatus(out.Refund.Status)
	result := &domain.RefundResult{
		Success:  status == domain.StatusCompleted || status == domain.StatusPending,
		Status:   status,
		RefundID: out.Refund.ID,
		Audit:    exchange.Audit(),
	}
	if !result.Success {
		result.ErrorMessage = "refund " + strings.ToLower(out.Refund.Status)
	}
	return result, nil
}

func (a *Adapter) CreateRecurringPayment(ctx context.Context, req domain.RecurringRequest) (*domain.RecurringResult, error) {
	interval, err := req.Frequency.Interval(req.Metadata)
	if err != nil {
		return nil, err
	}
	cadence, err := squareCadence(interval)
	if err != nil {
		return nil, err
	}
	customerID, _ := req.Metadata["square_customer_id"].(string)
	if customerID == "" {
		return nil, domain.Invalid("square subscriptions need metadata.square_customer_id")
	}
	if req.PaymentMethodToken == "" {
		return nil, fmt.Errorf("%w: square subscriptions need a card id", domain.ErrInvalidPaymentMethod)
	}

	name := req.Description
	if name == "" {
		name = "Recurring payment " + req.ConfigID.String()
	}
	phase := map[string]any{
		"cadence":               cadence,
		"recurring_price_money": newMoney(domain.ToMinorUnits(req.Amount, req.Currency), req.Currency),
	}
	if periods := interval.Occurrences(req.StartDate, req.EndDate); periods > 0 {
		phase["periods"] = periods
	}

	var plan struct {
		CatalogObject struct {
			ID string `json:"id"`
		} `json:"catalog_object"`
	}
	if _, err := a.do(ctx, "create_subscription_plan", http.MethodPost, "/v2/catalog/object", map[string]any{
		"idempotency_key": idempotencyKey("plan", req.ConfigID.String()),
		"object": map[string]any{
			"type": "SUBSCRIPTION_PLAN",
			"id":   "#plan-" + req.ConfigID.String(),
			"subscription_plan_data": map[string]any{
				"name":   name,
				"phases": []any{phase},
			},
		},
	}, &plan); err != nil {
		return nil, err
	}

	body := map[string]any{
		"idempotency_key": idempotencyKey("subscription", req.ConfigID.String()),
		"location_id":     a.locationID,
		"plan_id":         plan.CatalogObject.ID,
		"customer_id":     customerID,
		"card_id":         req.PaymentMethodToken,
	}
	if !req.StartDate.IsZero() {
		body["start_date"] = req.StartDate.Format(time.DateOnly)
	}

	var out struct {
		Subscription struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"subscription"`
	}
	exchange, err := a.do(ctx, "create_subscription", http.MethodPost, "/v2/subscriptions", body, &out)
	if err != nil {
		return nil, err
	}
	return &domain.RecurringResult{
		SubscriptionID: out.Subscription.ID,
		Status:         mapSubscriptionStatus(out.Subscription.Status),
		Audit:          exchange.Audit(),
	}, nil
}

func (a *Adapter) UpdateRecurringPaymentStatus(ctx context.Context, subscriptionID string, status domain.RecurringStatus) (*domain.RecurringStatusResult, error) {
	var action string
	switch status {
	case domain.RecurringActive:
		action = "resume"
	case domain.RecurringCancelled:
		action = "cancel"
	case domain.RecurringPaused:
		return nil, fmt.Errorf("%w: square pauses are scheduled actions and are not supported", domain.ErrOperationNotSupported)
	default:
		return nil, fmt.Errorf("%w: square cannot move a subscription to %q", domain.ErrInvalidStatus, status)
	}

	exchange, err := a.do(ctx, action+"_subscription", http.MethodPost,
		"/v2/subscriptions/"+url.PathEscape(subscriptionID)+"/"+action, map[string]any{}, nil)
	if err != nil {
		return nil, err
	}
	return &domain.RecurringStatusResult{Updated: true, Audit: exchange.Audit()}, nil
}

func (a *Adapter) ValidatePaymentMethodToken(ctx context.Context, token, _ string) (bool, error) {
	var out struct {
		Card struct {
			ID      string `json:"id"`
			Enabled bool   `json:"enabled"`
		} `json:"card"`
	}
	_, err := a.do(ctx, "get_card", http.MethodGet, "/v2/cards/"+url.PathEscape(token), nil, &out)
	if err != nil {
		if gatewayhttp.StatusCode(err) == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return out.Card.Enabled, nil
}

func squareCadence(interval domain.Interval) (string, error) {
	switch interval.Unit {
	case domain.IntervalDay:
		switch interval.Count {
		case 1:
			return "DAILY", nil
		case 7:
			return "WEEKLY", nil
		case 14:
			return "EVERY_TWO_WEEKS", nil
		case 30:
			return "THIRTY_DAYS", nil
		case 60:
			return "SIXTY_DAYS", nil
		case 90:
			return "NINETY_DAYS", nil
		}
	case domain.IntervalWeek:
		switch interval.Count {
		case 1:
			return "WEEKLY", nil
		case 2:
			return "EVERY_TWO_WEEKS", nil
		}
	case domain.IntervalMonth:
		switch interval.Count {
		case 1:
			return "MONTHLY", nil
		case 2:
			return "EVERY_TWO_MONTHS", nil
		case 3:
			return "QUARTERLY", nil
		case 4:
			return "EVERY_FOUR_MONTHS", nil
		case 6:
			return "EVERY_SIX_MONTHS", nil
		case 12:
			return "ANNUAL", nil
		}
	case domain.IntervalYear:
		switch interval.Count {
		case 1:
			return "ANNUAL", nil
		case 2:
			return "EVERY_TWO_YEARS", nil
		}
	}
	return "", fmt.Errorf("%w: square has no cadence for every %d %s", domain.ErrUnsupportedFrequency, interval.Count, interval.Unit)
}

func mapPaymentStatus(p *payment) domain.TransactionStatus {
	switch strings.ToUpper(p.Status) {
	case "COMPLETED":
		if p.RefundedMoney != nil && p.RefundedMoney.Amount > 0 && p.TotalMoney != nil {
			if p.RefundedMoney.Amount >= p.TotalMoney.Amount {
				return domain.StatusRefunded
			}
			return domain.StatusPartiallyRefunded
		}
		return domain.StatusCompleted
	case "APPROVED":
		return domain.StatusAuthorized
	case "CANCELED":
		return domain.StatusCancelled
	case "FAILED":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}

func mapOrderState(state string) domain.TransactionStatus {
	switch strings.ToUpper(state) {
	case "COMPLETED":
		return domain.StatusCompleted
	case "CANCELED":
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}

func mapRefundStatus(status string) domain.TransactionStatus {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return domain.StatusCompleted
	case "REJECTED", "FAILED":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}

func mapSubscriptionStatus(status string) domain.RecurringStatus {
	switch strings.ToUpper(status) {
	case "PAUSED":
		return domain.RecurringPaused
	case "CANCELED":
		return domain.RecurringCancelled
	case "DEACTIVATED":
		return domain.RecurringFailed
	default:
		return domain.RecurringActive
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
