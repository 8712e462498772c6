package paypal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finbridge/payhub/internal/payment/adapters/gatewayhttp"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/shopspring/decimal"
)

const (
	sandboxURL = "https://api-m.sandbox.paypal.com"
	liveURL    = "https://api-m.paypal.com"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() domain.ProviderType {
	return domain.ProviderPayPal
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	clientID, err := gatewayhttp.RequireString(domain.ProviderPayPal, cfg.Config, "client_id")
	if err != nil {
		return nil, err
	}
	clientSecret, err := gatewayhttp.RequireString(domain.ProviderPayPal, cfg.Config, "client_secret")
	if err != nil {
		return nil, err
	}
	live, err := gatewayhttp.Environment(domain.ProviderPayPal, cfg.Config, "sandbox", "live")
	if err != nil {
		return nil, err
	}
	webhookID, _ := gatewayhttp.ReadString(cfg.Config, "webhook_id")
	brandName, _ := gatewayhttp.ReadString(cfg.Config, "brand_name")
	cancelURL, _ := gatewayhttp.ReadString(cfg.Config, "cancel_url")

	return &Adapter{
		client:       gatewayhttp.New(cfg, gatewayhttp.BaseURL(cfg.Config, live, sandboxURL, liveURL)),
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    webhookID,
		brandName:    brandName,
		cancelURL:    cancelURL,
	}, nil
}

// Adapter drives the PayPal Orders v2 checkout flow and Billing
// subscriptions. Every operation fetches its own OAuth token.
type Adapter struct {
	client       *gatewayhttp.Client
	clientID     string
	clientSecret string
	webhookID    string
	brandName    string
	cancelURL    string
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type capture struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Amount        *money `json:"amount,omitempty"`
	StatusDetails *struct {
		Reason string `json:"reason"`
	} `json:"status_details,omitempty"`
}

type order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []link `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Amount      *money `json:"amount,omitempty"`
		Payments    *struct {
			Captures []capture `json:"captures"`
		} `json:"payments,omitempty"`
	} `json:"purchase_units"`
}

func (o *order) approveURL() string {
	return findLink(o.Links, "approve", "payer-action")
}

func (o *order) firstCapture() *capture {
	for _, unit := range o.PurchaseUnits {
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			return &unit.Payments.Captures[0]
		}
	}
	return nil
}

func findLink(links []link, rels ...string) string {
	for _, rel := range rels {
		for _, l := range links {
			if strings.EqualFold(l.Rel, rel) {
				return l.Href
			}
		}
	}
	return ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	var out tokenResponse
	_, err := a.client.Do(ctx, gatewayhttp.Request{
		Operation: "oauth_token",
		Method:    http.MethodPost,
		Path:      "/v1/oauth2/token",
		Form:      url.Values{"grant_type": {"client_credentials"}},
		Username:  a.clientID,
		Password:  a.clientSecret,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &domain.ProviderError{Provider: domain.ProviderPayPal, Operation: "oauth_token", Message: "empty access token"}
	}
	return out.AccessToken, nil
}

func (a *Adapter) do(ctx context.Context, req gatewayhttp.Request, out any) (gatewayhttp.Exchange, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return gatewayhttp.Exchange{}, err
	}
	req.BearerToken = token
	return a.client.Do(ctx, req, out)
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
	currency := domain.NormalizeCurrency(req.Currency)
	unit := map[string]any{
		"reference_id": req.TransactionID.String(),
		"custom_id":    req.TransactionID.String(),
		"amount": money{
			CurrencyCode: currency,
			Value:        domain.FormatAmount(req.Amount, currency),
		},
	}
	if req.Description != "" {
		unit["description"] = req.Description
	}
	if req.Reference != "" {
		unit["invoice_id"] = req.Reference
	}

	appContext := map[string]any{"user_action": "PAY_NOW"}
	if req.CallbackURL != "" {
		appContext["return_url"] = req.CallbackURL
		appContext["cancel_url"] = req.CallbackURL
	}
	if a.cancelURL != "" {
		appContext["cancel_url"] = a.cancelURL
	}
	if a.brandName != "" {
		appContext["brand_name"] = a.brandName
	}

	var out order
	exchange, err := a.do(ctx, gatewayhttp.Request{
		Operation: "create_order",
		Method:    http.MethodPost,
		Path:      "/v2/checkout/orders",
		JSON: map[string]any{
			"intent":              "CAPTURE",
			"purchase_units":      []any{unit},
			"application_context": appContext,
		},
		Headers: map[string]string{"PayPal-Request-Id": "payhub-create-" + req.TransactionID.String()},
	}, &out)
	if err != nil {
		return nil, err
	}

	return &domain.CreatePaymentResult{
		ExternalID: out.ID,
		Status:     mapOrderStatus(out.Status, out.firstCapture()),
		PaymentURL: out.approveURL(),
		Audit:      exchange.Audit(),
	}, nil
}

func (a *Adapter) ExecutePayment(ctx context.Context, req domain.ExecutePaymentRequest) (*domain.ExecutePaymentResult, error) {
	if req.ExternalID == "" {
		return nil, domain.Invalid("paypal execute requires the order id")
	}

	var out order
	exchange, err := a.do(ctx, gatewayhttp.Request{
		Operation: "capture_order",
		Method:    http.MethodPost,
		Path:      "/v2/checkout/orders/" + url.PathEscape(req.ExternalID) + "/capture",
		JSON:      map[string]any{},
		Headers:   map[string]string{"PayPal-Request-Id": "payhub-capture-" + req.TransactionID.String()},
	}, &out)
	if err != nil {
		switch gatewayhttp.ErrorCode(err) {
		case "ORDER_NOT_APPROVED", "PAYER_ACTION_REQUIRED":
			// The buyer has not approved yet; send them back to PayPal.
			return a.pendingApproval(ctx, req.ExternalID, exchange)
		case "INSTRUMENT_DECLINED", "TRANSACTION_REFUSED":
			return &domain.ExecutePaymentResult{
				Success:      false,
				Status:       domain.StatusFailed,
				ErrorMessage: gatewayhttp.ErrorMessage(err),
				Audit:        exchange.Audit(),
			}, nil
		}
		return nil, err
	}

	captured := out.firstCapture()
	status := mapOrderStatus(out.Status, captured)
	result := &domain.ExecutePaymentResult{
		Success:        status == domain.StatusCompleted,
		Status:         status,
		PaymentDetails: map[string]any{"order_status": out.Status},
		Audit:          exchange.Audit(),
	}
	if captured != nil {
		result.PaymentDetails["capture_id"] = captured.ID
		result.PaymentDetails["capture_status"] = captured.Status
		if captured.StatusDetails != nil && captured.StatusDetails.Reason != "" {
			result.ErrorMessage = captured.StatusDetails.Reason
		}
	}
	if status == domain.StatusPending {
		result.RedirectURL = out.approveURL()
	}
	return result, nil
}

func (a *Adapter) pendingApproval(ctx context.Context, orderID string, failed gatewayhttp.Exchange) (*domain.ExecutePaymentResult, error) {
	var out order
	if _, err := a.do(ctx, gatewayhttp.Request{
		Operation: "get_order",
		Method:    http.MethodGet,
		Path:      "/v2/checkout/orders/" + url.PathEscape(orderID),
	}, &out); err != nil {
		return nil, err
	}
	return &domain.ExecutePaymentResult{
		Success:      false,
		Status:       domain.StatusPending,
		RedirectURL:  out.approveURL(),
		ErrorMessage: "payer approval required",
		Audit:        failed.Audit(),
	}, nil
}

func (a *Adapter) CheckPaymentStatus(ctx context.Context, req domain.StatusRequest) (*domain.StatusResult, error) {
	if req.ExternalID == "" {
		return &domain.StatusResult{Status: domain.StatusPending}, nil
	}

	var out order
	exchange, err := a.do(ctx, gatewayhttp.Request{
		Operation: "get_order",
		Method:    http.MethodGet,
		Path:      "/v2/checkout/orders/" + url.PathEscape(req.ExternalID),
	}, &out)
	if err != nil {
		return nil, err
	}

	captured := out.firstCapture()
	result := &domain.StatusResult{
		Status:         mapOrderStatus(out.Status, captured),
		PaymentDetails: map[string]any{"order_status": out.Status},
		Audit:          exchange.Audit(),
	}
	if captured != nil {
		result.PaymentDetails["capture_id"] = captured.ID
		result.PaymentDetails["capture_status"] = captured.Status
	}
	return result, nil
}

func (a *Adapter) RefundPayment(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	captureID, _ := req.PaymentDetails["capture_id"].(string)
	capturedAmount := req.CapturedAmount

	if captureID == "" {
		if req.ExternalID == "" {
			return nil, domain.ErrNothingToRefund
		}
		var out order
		if _, err := a.do(ctx, gatewayhttp.Request{
			Operation: "get_order",
			Method:    http.MethodGet,
			Path:      "/v2/checkout/orders/" + url.PathEscape(req.ExternalID),
		}, &out); err != nil {
			return nil, err
		}
		captured := out.firstCapture()
		if captured == nil || captured.ID == "" {
			return nil, fmt.Errorf("%w: paypal order %s has no capture", domain.ErrNothingToRefund, req.ExternalID)
		}
		captureID = captured.ID
		if captured.Amount != nil {
			if v, err := decimal.NewFromString(captured.Amount.Value); err == nil && capturedAmount.IsZero() {
				capturedAmount = v
			}
		}
	}
	if capturedAmount.IsPositive() && req.Amount.GreaterThan(capturedAmount) {
		return nil, fmt.Errorf("%w: requested %s, captured %s", domain.ErrRefundExceedsAmount, req.Amount, capturedAmount)
	}

	currency := domain.NormalizeCurrency(req.Currency)
	body := map[string]any{
		"amount": money{CurrencyCode: currency, Value: domain.FormatAmount(req.Amount, currency)},
	}
	if req.Reason != "" {
		body["note_to_payer"] = req.Reason
	}

	var out struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		StatusDetails *struct {
			Reason string `json:"reason"`
		} `json:"status_details,omitempty"`
	}
	exchange, err := a.do(ctx, gatewayhttp.Request{
		Operation: "refund_capture",
		Method:    http.MethodPost,
		Path:      "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund",
		JSON:      body,
		Headers:   map[string]string{"PayPal-Request-Id": "payhub-refund-" + req.TransactionID.String()},
	}, &out)
	if err != nil {
		return nil, err
	}

	status := mapRefundStatus(out.Status)
	result := &domain.RefundResult{
		Success:  status == domain.StatusCompleted || status == domain.StatusPending,
		Status:   status,
		RefundID: out.ID,
		Audit:    exchange.Audit(),
	}
	if out.StatusDetails != nil {
		result.ErrorMessage = out.StatusDetails.Reason
	}
	return result, nil
}

func (a *Adapter) CreateRecurringPayment(ctx context.Context, req domain.RecurringRequest) (*domain.RecurringResult, error) {
	interval, err := req.Frequency.Interval(req.Metadata)
	if err != nil {
		return nil, err
	}
	currency := domain.NormalizeCurrency(req.Currency)
	name := req.Description
	if name == "" {
		name = "Recurring payment " + req.ConfigID.String()
	}

	var product struct {
		ID string `json:"id"`
	}
	if _, err := a.do(ctx, gatewayhttp.Request{
		Operation: "create_product",
		Method:    http.MethodPost,
		Path:      "/v1/catalogs/products",
		JSON:      map[string]any{"name": name, "type": "SERVICE"},
		Headers:   map[string]string{"PayPal-Request-Id": "payhub-product-" + req.ConfigID.String()},
	}, &product); err != nil {
		return nil, err
	}

	var plan struct {
		ID string `json:"id"`
	}
	if _, err := a.do(ctx, gatewayhttp.Request{
		Operation: "create_plan",
		Method:    http.MethodPost,
		Path:      "/v1/billing/plans",
		JSON: map[string]any{
			"product_id": product.ID,
			"name":       name,
			"billing_cycles": []any{map[string]any{
				"frequency": map[string]any{
					"interval_unit":  strings.ToUpper(string(interval.Unit)),
					"interval_count": interval.Count,
				},
				"tenure_type":  "REGULAR",
				"sequence":     1,
				"total_cycles": interval.Occurrences(req.StartDate, req.EndDate),
				"pricing_scheme": map[string]any{
					"fixed_price": money{CurrencyCode: currency, Value: domain.FormatAmount(req.Amount, currency)},
				},
			}},
			"payment_preferences": map[string]any{
				"auto_bill_outstanding":     true,
				"payment_failure_threshold": 3,
			},
		},
		Headers: map[string]string{"PayPal-Request-Id": "payhub-plan-" + req.ConfigID.String()},
	}, &plan); err != nil {
		return nil, err
	}

	body := map[string]any{
		"plan_id":   plan.ID,
		"custom_id": req.ConfigID.String(),
	}
	if req.StartDate.After(time.Now()) {
		body["start_time"] = req.StartDate.UTC().Format(time.RFC3339)
	}
	if returnURL, _ := req.Metadata["return_url"].(string); returnURL != "" {
		body["application_context"] = map[string]any{"return_url": returnURL, "cancel_url": returnURL}
	}

	var sub struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []link `json:"links"`
	}
	exchange, err := a.do(ctx, gatewayhttp.Request{
		Operation: "create_subscription",
		Method:    http.MethodPost,
		Path:      "/v1/billing/subscriptions",
		JSON:      body,
		Headers:   map[string]string{"PayPal-Request-Id": "payhub-subscription-" + req.ConfigID.String()},
	}, &sub)
	if err != nil {
		return nil, err
	}

	return &domain.RecurringResult{
		SubscriptionID: sub.ID,
		Status:         mapSubscriptionStatus(sub.Status),
		ApprovalURL:    findLink(sub.Links, "approve"),
		Audit:          exchange.Audit(),
	}, nil
}

func (a *Adapter) UpdateRecurringPaymentStatus(ctx context.Context, subscriptionID string, status domain.RecurringStatus) (*domain.RecurringStatusResult, error) {
	var action, reason string
	switch status {
	case domain.RecurringActive:
		action, reason = "activate", "Reactivated by lender"
	case domain.RecurringPaused:
		action, reason = "suspend", "Suspended by lender"
	case domain.RecurringCancelled:
		action, reason = "cancel", "Cancelled by lender"
	default:
		return nil, fmt.Errorf("%w: paypal cannot move a subscription to %q", domain.ErrInvalidStatus, status)
	}

	exchange, err := a.do(ctx, gatewayhttp.Request{
		Operation: action + "_subscription",
		Method:    http.MethodPost,
		Path:      "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID) + "/" + action,
		JSON:      map[string]any{"reason": reason},
	}, nil)
	if err != nil {
		return nil, err
	}
	return &domain.RecurringStatusResult{Updated: true, Audit: exchange.Audit()}, nil
}

func mapOrderStatus(status string, captured *capture) domain.TransactionStatus {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		if captured == nil {
			return domain.StatusCompleted
		}
		return mapCaptureStatus(captured.Status)
	case "VOIDED":
		return domain.StatusCancelled
	default:
		// CREATED, SAVED, APPROVED and PAYER_ACTION_REQUIRED all wait on a capture.
		return domain.StatusPending
	}
}

func mapCaptureStatus(status string) domain.TransactionStatus {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return domain.StatusCompleted
	case "DECLINED", "FAILED":
		return domain.StatusFailed
	case "REFUNDED":
		return domain.StatusRefunded
	case "PARTIALLY_REFUNDED":
		return domain.StatusPartiallyRefunded
	default:
		return domain.StatusPending
	}
}

func mapRefundStatus(status string) domain.TransactionStatus {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return domain.StatusCompleted
	case "FAILED":
		return domain.StatusFailed
	case "CANCELLED":
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}

func mapSubscriptionStatus(status string) domain.RecurringStatus {
	switch strings.ToUpper(status) {
	case "SUSPENDED":
		return domain.RecurringPaused
	case "CANCELLED":
		return domain.RecurringCancelled
	case "EXPIRED":
		return domain.RecurringCompleted
	default:
		return domain.RecurringActive
	}
}
