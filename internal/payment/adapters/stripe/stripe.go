package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/finbridge/payhub/internal/payment/adapters/gatewayhttp"
	"github.com/finbridge/payhub/internal/payment/domain"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const apiURL = "https://api.stripe.com"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() domain.ProviderType {
	return domain.ProviderStripe
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	apiKey, err := gatewayhttp.RequireString(domain.ProviderStripe, cfg.Config, "api_key")
	if err != nil {
		return nil, err
	}
	webhookSecret, _ := gatewayhttp.ReadString(cfg.Config, "webhook_secret")

	baseURL := apiURL
	if override, ok := gatewayhttp.ReadString(cfg.Config, "base_url"); ok && override != "" {
		baseURL = override
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}

	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
		HTTPClient:        hc,
		URL:               stripeapi.String(baseURL),
		MaxNetworkRetries: stripeapi.Int64(0),
		EnableTelemetry:   stripeapi.Bool(false),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
	})
	sc := &client.API{}
	sc.Init(apiKey, &stripeapi.Backends{API: backend, Connect: backend, Uploads: backend})

	return &Adapter{
		api:           sc,
		webhookSecret: webhookSecret,
		cfg:           cfg,
	}, nil
}

// Adapter talks to Stripe through PaymentIntents for one-off payments and
// Subscriptions for recurring ones.
type Adapter struct {
	api           *client.API
	webhookSecret string
	cfg           domain.AdapterConfig
}

// call wraps one stripe-go invocation with rate limiting, metrics and error
// translation.
func (a *Adapter) call(ctx context.Context, operation string, fn func() error) error {
	if a.cfg.Limiter != nil {
		if err := a.cfg.Limiter.Wait(ctx); err != nil {
			return &domain.ProviderError{Provider: domain.ProviderStripe, Operation: operation, Message: err.Error()}
		}
	}
	started := time.Now()
	err := fn()
	status := http.StatusOK
	if err != nil {
		var stripeErr *stripeapi.Error
		if errors.As(err, &stripeErr) {
			status = stripeErr.HTTPStatusCode
			err = &domain.ProviderError{
				Provider:   domain.ProviderStripe,
				Operation:  operation,
				StatusCode: stripeErr.HTTPStatusCode,
				Code:       string(stripeErr.Code),
				Message:    stripeErr.Msg,
			}
		} else {
			status = 0
			err = &domain.ProviderError{Provider: domain.ProviderStripe, Operation: operation, Message: err.Error()}
		}
	}
	if a.cfg.Observer != nil {
		a.cfg.Observer.ObserveProviderCall(string(domain.ProviderStripe), operation, status, time.Since(started), err)
	}
	return err
}

func audit(request map[string]any, resp *stripeapi.APIResponse) domain.Audit {
	out := domain.Audit{}
	if raw, err := json.Marshal(request); err == nil {
		out.Request = raw
	}
	if resp != nil && len(resp.RawJSON) > 0 {
		out.Response = gatewayhttp.Redact(resp.RawJSON)
	}
	return out
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
	currency := strings.ToLower(req.Currency)
	amount := domain.ToMinorUnits(req.Amount, req.Currency)

	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(amount),
		Currency: stripeapi.String(currency),
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	params.AddMetadata("transaction_id", req.TransactionID.String())
	if req.Reference != "" {
		params.AddMetadata("reference_number", req.Reference)
	}
	params.SetIdempotencyKey("payhub-create-" + req.TransactionID.String())

	var pi *stripeapi.PaymentIntent
	err := a.call(ctx, "create_payment_intent", func() error {
		var err error
		pi, err = a.api.PaymentIntents.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &domain.CreatePaymentResult{
		ExternalID: pi.ID,
		Status:     mapIntentStatus(pi.Status),
		PaymentURL: redirectURL(pi),
		Audit: audit(map[string]any{
			"operation": "payment_intents.create",
			"amount":    amount,
			"currency":  currency,
		}, pi.LastResponse),
	}, nil
}

func (a *Adapter) ExecutePayment(ctx context.Context, req domain.ExecutePaymentRequest) (*domain.ExecutePaymentResult, error) {
	if req.ExternalID == "" {
		return nil, domain.Invalid("stripe execute requires the payment intent id")
	}
	if req.PaymentMethodToken == "" {
		return nil, fmt.Errorf("%w: stripe execute requires a payment method token", domain.ErrInvalidPaymentMethod)
	}

	params := &stripeapi.PaymentIntentConfirmParams{
		PaymentMethod: stripeapi.String(req.PaymentMethodToken),
	}
	params.Context = ctx
	if req.CallbackURL != "" {
		params.ReturnURL = stripeapi.String(req.CallbackURL)
	}
	params.SetIdempotencyKey("payhub-confirm-" + req.TransactionID.String())

	var pi *stripeapi.PaymentIntent
	err := a.call(ctx, "confirm_payment_intent", func() error {
		var err error
		pi, err = a.api.PaymentIntents.Confirm(req.ExternalID, params)
		return err
	})
	if err != nil {
		var perr *domain.ProviderError
		// A card decline is a 402 with a payment error, not a transport failure.
		if errors.As(err, &perr) && perr.StatusCode == http.StatusPaymentRequired {
			return &domain.ExecutePaymentResult{
				Success:      false,
				Status:       domain.StatusFailed,
				ErrorMessage: perr.Message,
			}, nil
		}
		return nil, err
	}

	status := mapIntentStatus(pi.Status)
	result := &domain.ExecutePaymentResult{
		Success:     status == domain.StatusCompleted || status == domain.StatusAuthorized,
		Status:      status,
		RedirectURL: redirectURL(pi),
		PaymentDetails: map[string]any{
			"payment_intent_status": string(pi.Status),
		},
		Audit: audit(map[string]any{
			"operation":      "payment_intents.confirm",
			"payment_intent": req.ExternalID,
		}, pi.LastResponse),
	}
	if pi.LastPaymentError != nil {
		result.ErrorMessage = pi.LastPaymentError.Msg
	}
	if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
		result.PaymentDetails["charge_id"] = pi.LatestCharge.ID
	}
	return result, nil
}

func (a *Adapter) CheckPaymentStatus(ctx context.Context, req domain.StatusRequest) (*domain.StatusResult, error) {
	if req.ExternalID == "" {
		return &domain.StatusResult{Status: domain.StatusPending}, nil
	}

	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	var pi *stripeapi.PaymentIntent
	err := a.call(ctx, "get_payment_intent", func() error {
		var err error
		pi, err = a.api.PaymentIntents.Get(req.ExternalID, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	status := mapIntentStatus(pi.Status)
	if status == domain.StatusCompleted && pi.LatestCharge != nil && pi.LatestCharge.AmountRefunded > 0 {
		if pi.LatestCharge.Refunded || pi.LatestCharge.AmountRefunded >= pi.AmountReceived {
			status = domain.StatusRefunded
		} else {
			status = domain.StatusPartiallyRefunded
		}
	}

	result := &domain.StatusResult{
		Status: status,
		PaymentDetails: map[string]any{
			"payment_intent_status": string(pi.Status),
			"amount_received":       pi.AmountReceived,
		},
		Audit: audit(map[string]any{
			"operation":      "payment_intents.retrieve",
			"payment_intent": req.ExternalID,
		}, pi.LastResponse),
	}
	if pi.LastPaymentError != nil {
		result.ErrorMessage = pi.LastPaymentError.Msg
	}
	return result, nil
}

func (a *Adapter) RefundPayment(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	if req.ExternalID == "" {
		return nil, domain.ErrNothingToRefund
	}

	getParams := &stripeapi.PaymentIntentParams{}
	getParams.Context = ctx
	getParams.AddExpand("latest_charge")

	var pi *stripeapi.PaymentIntent
	if err := a.call(ctx, "get_payment_intent", func() error {
		var err error
		pi, err = a.api.PaymentIntents.Get(req.ExternalID, getParams)
		return err
	}); err != nil {
		return nil, err
	}
	if pi.Status != stripeapi.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("%w: payment intent %s is %s", domain.ErrNothingToRefund, pi.ID, pi.Status)
	}

	amount := domain.ToMinorUnits(req.Amount, req.Currency)
	refundable := pi.AmountReceived
	if pi.LatestCharge != nil {
		refundable -= pi.LatestCharge.AmountRefunded
	}
	if amount > refundable {
		return nil, fmt.Errorf("%w: requested %d, refundable %d", domain.ErrRefundExceedsAmount, amount, refundable)
	}

	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(pi.ID),
		Amount:        stripeapi.Int64(amount),
		Reason:        stripeapi.String(string(stripeapi.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.AddMetadata("transaction_id", req.TransactionID.String())
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}

	var refund *stripeapi.Refund
	if err := a.call(ctx, "create_refund", func() error {
		var err error
		refund, err = a.api.Refunds.New(params)
		return err
	}); err != nil {
		return nil, err
	}

	status := mapRefundStatus(refund.Status)
	result := &domain.RefundResult{
		Success:  status != domain.StatusFailed && status != domain.StatusCancelled,
		Status:   status,
		RefundID: refund.ID,
		Audit: audit(map[string]any{
			"operation":      "refunds.create",
			"payment_intent": pi.ID,
			"amount":         amount,
		}, refund.LastResponse),
	}
	if refund.FailureReason != "" {
		result.ErrorMessage = string(refund.FailureReason)
	}
	return result, nil
}

func (a *Adapter) CreateRecurringPayment(ctx context.Context, req domain.RecurringRequest) (*domain.RecurringResult, error) {
	interval, err := req.Frequency.Interval(req.Metadata)
	if err != nil {
		return nil, err
	}
	if req.PaymentMethodToken == "" {
		return nil, fmt.Errorf("%w: stripe subscriptions require a payment method token", domain.ErrInvalidPaymentMethod)
	}

	customerID, _ := req.Metadata["stripe_customer_id"].(string)
	if customerID == "" {
		custParams := &stripeapi.CustomerParams{
			PaymentMethod: stripeapi.String(req.PaymentMethodToken),
			InvoiceSettings: &stripeapi.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripeapi.String(req.PaymentMethodToken),
			},
		}
		custParams.Context = ctx
		if req.Description != "" {
			custParams.Description = stripeapi.String(req.Description)
		}
		var cust *stripeapi.Customer
		if err := a.call(ctx, "create_customer", func() error {
			var err error
			cust, err = a.api.Customers.New(custParams)
			return err
		}); err != nil {
			return nil, err
		}
		customerID = cust.ID
	}

	productName := req.Description
	if productName == "" {
		productName = "Recurring payment " + req.ConfigID.String()
	}
	priceParams := &stripeapi.PriceParams{
		Currency:   stripeapi.String(strings.ToLower(req.Currency)),
		UnitAmount: stripeapi.Int64(domain.ToMinorUnits(req.Amount, req.Currency)),
		Recurring: &stripeapi.PriceRecurringParams{
			Interval:      stripeapi.String(string(interval.Unit)),
			IntervalCount: stripeapi.Int64(int64(interval.Count)),
		},
		ProductData: &stripeapi.PriceProductDataParams{Name: stripeapi.String(productName)},
	}
	priceParams.Context = ctx

	var price *stripeapi.Price
	if err := a.call(ctx, "create_price", func() error {
		var err error
		price, err = a.api.Prices.New(priceParams)
		return err
	}); err != nil {
		return nil, err
	}

	subParams := &stripeapi.SubscriptionParams{
		Customer:             stripeapi.String(customerID),
		DefaultPaymentMethod: stripeapi.String(req.PaymentMethodToken),
		Items: []*stripeapi.SubscriptionItemsParams{
			{Price: stripeapi.String(price.ID)},
		},
	}
	subParams.Context = ctx
	subParams.AddMetadata("recurring_config_id", req.ConfigID.String())
	if req.StartDate.After(time.Now()) {
		subParams.TrialEnd = stripeapi.Int64(req.StartDate.Unix())
	}
	if req.EndDate != nil {
		subParams.CancelAt = stripeapi.Int64(req.EndDate.Unix())
	}
	subParams.SetIdempotencyKey("payhub-subscription-" + req.ConfigID.String())

	var sub *stripeapi.Subscription
	if err := a.call(ctx, "create_subscription", func() error {
		var err error
		sub, err = a.api.Subscriptions.New(subParams)
		return err
	}); err != nil {
		return nil, err
	}

	return &domain.RecurringResult{
		SubscriptionID: sub.ID,
		Status:         mapSubscriptionStatus(sub.Status),
		Audit: audit(map[string]any{
			"operation": "subscriptions.create",
			"customer":  customerID,
			"price":     price.ID,
		}, sub.LastResponse),
	}, nil
}

func (a *Adapter) UpdateRecurringPaymentStatus(ctx context.Context, subscriptionID string, status domain.RecurringStatus) (*domain.RecurringStatusResult, error) {
	var (
		sub       *stripeapi.Subscription
		operation string
		err       error
	)
	switch status {
	case domain.RecurringPaused:
		params := &stripeapi.SubscriptionParams{
			PauseCollection: &stripeapi.SubscriptionPauseCollectionParams{
				Behavior: stripeapi.String(string(stripeapi.SubscriptionPauseCollectionBehaviorVoid)),
			},
		}
		params.Context = ctx
		operation = "pause_subscription"
		err = a.call(ctx, operation, func() error {
			var err error
			sub, err = a.api.Subscriptions.Update(subscriptionID, params)
			return err
		})
	case domain.RecurringActive:
		params := &stripeapi.SubscriptionParams{}
		params.Context = ctx
		params.AddExtra("pause_collection", "")
		operation = "resume_subscription"
		err = a.call(ctx, operation, func() error {
			var err error
			sub, err = a.api.Subscriptions.Update(subscriptionID, params)
			return err
		})
	case domain.RecurringCancelled:
		params := &stripeapi.SubscriptionCancelParams{}
		params.Context = ctx
		operation = "cancel_subscription"
		err = a.call(ctx, operation, func() error {
			var err error
			sub, err = a.api.Subscriptions.Cancel(subscriptionID, params)
			return err
		})
	default:
		return nil, fmt.Errorf("%w: stripe cannot move a subscription to %q", domain.ErrInvalidStatus, status)
	}
	if err != nil {
		return nil, err
	}

	return &domain.RecurringStatusResult{
		Updated: true,
		Audit: audit(map[string]any{
			"operation":    operation,
			"subscription": subscriptionID,
		}, sub.LastResponse),
	}, nil
}

func (a *Adapter) ValidatePaymentMethodToken(ctx context.Context, token, methodType string) (bool, error) {
	params := &stripeapi.PaymentMethodParams{}
	params.Context = ctx

	var pm *stripeapi.PaymentMethod
	err := a.call(ctx, "get_payment_method", func() error {
		var err error
		pm, err = a.api.PaymentMethods.Get(token, params)
		return err
	})
	if err != nil {
		if gatewayhttp.StatusCode(err) == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	if methodType != "" && !strings.EqualFold(string(pm.Type), methodType) {
		return false, nil
	}
	return true, nil
}

func redirectURL(pi *stripeapi.PaymentIntent) string {
	if pi == nil || pi.NextAction == nil || pi.NextAction.RedirectToURL == nil {
		return ""
	}
	return pi.NextAction.RedirectToURL.URL
}

func mapIntentStatus(status stripeapi.PaymentIntentStatus) domain.TransactionStatus {
	switch status {
	case stripeapi.PaymentIntentStatusSucceeded:
		return domain.StatusCompleted
	case stripeapi.PaymentIntentStatusRequiresCapture:
		return domain.StatusAuthorized
	case stripeapi.PaymentIntentStatusCanceled:
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}

func mapRefundStatus(status stripeapi.RefundStatus) domain.TransactionStatus {
	switch status {
	case stripeapi.RefundStatusSucceeded:
		return domain.StatusCompleted
	case stripeapi.RefundStatusFailed:
		return domain.StatusFailed
	case stripeapi.RefundStatusCanceled:
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}

func mapSubscriptionStatus(status stripeapi.SubscriptionStatus) domain.RecurringStatus {
	switch status {
	case stripeapi.SubscriptionStatusPaused:
		return domain.RecurringPaused
	case stripeapi.SubscriptionStatusCanceled:
		return domain.RecurringCancelled
	case stripeapi.SubscriptionStatusIncompleteExpired, stripeapi.SubscriptionStatusUnpaid:
		return domain.RecurringFailed
	default:
		return domain.RecurringActive
	}
}
