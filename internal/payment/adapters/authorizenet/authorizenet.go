package authorizenet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/finbridge/payhub/internal/payment/adapters/gatewayhttp"
	"github.com/finbridge/payhub/internal/payment/domain"
)

const (
	sandboxURL = "https://apitest.authorize.net"
	liveURL    = "https://api.authorize.net"

	sandboxFormURL = "https://test.authorize.net/payment/payment"
	liveFormURL    = "https://accept.authorize.net/payment/payment"

	endpoint = "/xml/v1/request.api"

	// Accept.js nonces are posted with this descriptor.
	acceptDescriptor = "COMMON.ACCEPT.INAPP.PAYMENT"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() domain.ProviderType {
	return domain.ProviderAuthorizeNet
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	loginID, err := gatewayhttp.RequireString(domain.ProviderAuthorizeNet, cfg.Config, "api_login_id")
	if err != nil {
		return nil, err
	}
	transactionKey, err := gatewayhttp.RequireString(domain.ProviderAuthorizeNet, cfg.Config, "transaction_key")
	if err != nil {
		return nil, err
	}
	live, err := gatewayhttp.Environment(domain.ProviderAuthorizeNet, cfg.Config, "sandbox", "production")
	if err != nil {
		return nil, err
	}
	signatureKey, _ := gatewayhttp.ReadString(cfg.Config, "signature_key")

	formURL := sandboxFormURL
	if live {
		formURL = liveFormURL
	}

	return &Adapter{
		client:       gatewayhttp.New(cfg, gatewayhttp.BaseURL(cfg.Config, live, sandboxURL, liveURL)),
		auth:         merchantAuthentication{Name: loginID, TransactionKey: transactionKey},
		signatureKey: signatureKey,
		formURL:      formURL,
	}, nil
}

// Adapter speaks the Authorize.Net JSON API. The API converts requests to
// XML internally, so every body is a struct to keep field order stable.
type Adapter struct {
	client       *gatewayhttp.Client
	auth         merchantAuthentication
	signatureKey string
	formURL      string
}

func (a *Adapter) call(ctx context.Context, operation string, body, out any) (gatewayhttp.Exchange, error) {
	return a.client.Do(ctx, gatewayhttp.Request{
		Operation: operation,
		Method:    http.MethodPost,
		Path:      endpoint,
		JSON:      body,
	}, out)
}

// apiError turns an "Error" result into a provider error.
func apiError(operation string, msgs messages) error {
	code, text := msgs.first()
	return &domain.ProviderError{
		Provider:   domain.ProviderAuthorizeNet,
		Operation:  operation,
		StatusCode: http.StatusOK,
		Code:       code,
		Message:    text,
	}
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
	returnOptions, _ := json.Marshal(map[string]any{
		"showReceipt":   false,
		"url":           req.CallbackURL,
		"urlText":       "Continue",
		"cancelUrl":     req.CallbackURL,
		"cancelUrlText": "Cancel",
	})
	settings := []setting{
		{SettingName: "hostedPaymentButtonOptions", SettingValue: `{"text":"Pay"}`},
	}
	if req.CallbackURL != "" {
		settings = append(settings, setting{SettingName: "hostedPaymentReturnOptions", SettingValue: string(returnOptions)})
	}

	body := map[string]any{"getHostedPaymentPageRequest": hostedPageRequest{
		MerchantAuthentication: a.auth,
		RefID:                  refID(req.TransactionID.String()),
		TransactionRequest: transactionRequest{
			TransactionType: "authCaptureTransaction",
			Amount:          domain.FormatAmount(req.Amount, req.Currency),
			Order:           newOrder(req.TransactionID.String(), req.Description),
		},
		HostedPaymentSettings: &hostedPaymentSettings{Setting: settings},
	}}

	var out hostedPageResponse
	exchange, err := a.call(ctx, "get_hosted_payment_page", body, &out)
	if err != nil {
		return nil, err
	}
	if !out.Messages.ok() {
		return nil, apiError("get_hosted_payment_page", out.Messages)
	}

	// The transaction id is only known once the payer submits the hosted
	// form; webhooks link it back through the invoice number.
	return &domain.CreatePaymentResult{
		Status:     domain.StatusPending,
		PaymentURL: a.formURL + "?token=" + out.Token,
		Audit:      exchange.Audit(),
	}, nil
}

func (a *Adapter) ExecutePayment(ctx context.Context, req domain.ExecutePaymentRequest) (*domain.ExecutePaymentResult, error) {
	pay, profile, err := paymentSource(req.PaymentMethodToken, req.PaymentDetails)
	if err != nil {
		return nil, err
	}

	body := map[string]any{"createTransactionRequest": createTransactionRequest{
		MerchantAuthentication: a.auth,
		RefID:                  refID(req.TransactionID.String()),
		TransactionRequest: transactionRequest{
			TransactionType: "authCaptureTransaction",
			Amount:          domain.FormatAmount(req.Amount, req.Currency),
			Payment:         pay,
			Profile:         profile,
			Order:           newOrder(req.TransactionID.String(), ""),
		},
	}}

	var out transactionResponseEnvelope
	exchange, err := a.call(ctx, "create_transaction", body, &out)
	if err != nil {
		return nil, err
	}
	if out.TransactionResponse == nil {
		return nil, apiError("create_transaction", out.Messages)
	}

	tr := out.TransactionResponse
	status := mapResponseCode(tr.ResponseCode)
	result := &domain.ExecutePaymentResult{
		Success:    status == domain.StatusCompleted,
		Status:     status,
		ExternalID: tr.TransID,
		PaymentDetails: map[string]any{
			"response_code": tr.ResponseCode,
			"auth_code":     tr.AuthCode,
			"account_type":  tr.AccountType,
			"account_last4": strings.TrimLeft(tr.AccountNumber, "X"),
		},
		Audit: exchange.Audit(),
	}
	if status != domain.StatusCompleted {
		result.ErrorMessage = tr.errorText()
	}
	return result, nil
}

func (a *Adapter) transactionDetails(ctx context.Context, transID string) (*transactionDetails, gatewayhttp.Exchange, error) {
	body := map[string]any{"getTransactionDetailsRequest": transactionDetailsRequest{
		MerchantAuthentication: a.auth,
		TransID:                transID,
	}}
	var out transactionDetailsResponse
	exchange, err := a.call(ctx, "get_transaction_details", body, &out)
	if err != nil {
		return nil, exchange, err
	}
	if !out.Messages.ok() || out.Transaction == nil {
		return nil, exchange, apiError("get_transaction_details", out.Messages)
	}
	return out.Transaction, exchange, nil
}

func (a *Adapter) CheckPaymentStatus(ctx context.Context, req domain.StatusRequest) (*domain.StatusResult, error) {
	if req.ExternalID == "" {
		return &domain.StatusResult{Status: domain.StatusPending}, nil
	}
	details, exchange, err := a.transactionDetails(ctx, req.ExternalID)
	if err != nil {
		return nil, err
	}
	return &domain.StatusResult{
		Status: mapTransactionStatus(details.TransactionStatus),
		PaymentDetails: map[string]any{
			"transaction_status": details.TransactionStatus,
			"settle_amount":      details.SettleAmount.String(),
		},
		Audit: exchange.Audit(),
	}, nil
}

func (a *Adapter) RefundPayment(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	if req.ExternalID == "" {
		return nil, domain.ErrNothingToRefund
	}
	details, _, err := a.transactionDetails(ctx, req.ExternalID)
	if err != nil {
		return nil, err
	}

	captured := details.SettleAmount
	if captured.IsZero() {
		captured = details.AuthAmount
	}
	if req.Amount.GreaterThan(captured) {
		return nil, fmt.Errorf("%w: requested %s, settled %s", domain.ErrRefundExceedsAmount, req.Amount, captured)
	}

	var (
		txType    string
		operation string
		pay       *payment
	)
	switch details.TransactionStatus {
	case "settledSuccessfully":
		if details.Payment == nil || details.Payment.CreditCard == nil {
			return nil, fmt.Errorf("%w: transaction %s has no card on record", domain.ErrNothingToRefund, req.ExternalID)
		}
		txType, operation = "refundTransaction", "refund_transaction"
		pay = &payment{CreditCard: &creditCard{
			CardNumber:     last4(details.Payment.CreditCard.CardNumber),
			ExpirationDate: "XXXX",
		}}
	case "capturedPendingSettlement", "authorizedPendingCapture":
		// Unsettled funds can only be voided, and a void is always for the full amount.
		if !req.Amount.Equal(captured) {
			return nil, fmt.Errorf("%w: unsettled transactions only accept a full refund", domain.ErrInvalidTransactionState)
		}
		txType, operation = "voidTransaction", "void_transaction"
	default:
		return nil, fmt.Errorf("%w: transaction %s is %s", domain.ErrNothingToRefund, req.ExternalID, details.TransactionStatus)
	}

	tr := transactionRequest{
		TransactionType: txType,
		Payment:         pay,
		RefTransID:      req.ExternalID,
	}
	if txType == "refundTransaction" {
		tr.Amount = domain.FormatAmount(req.Amount, req.Currency)
	}
	body := map[string]any{"createTransactionRequest": createTransactionRequest{
		MerchantAuthentication: a.auth,
		RefID:                  refID(req.TransactionID.String()),
		TransactionRequest:     tr,
	}}

	var out transactionResponseEnvelope
	exchange, err := a.call(ctx, operation, body, &out)
	if err != nil {
		return nil, err
	}
	if out.TransactionResponse == nil {
		return nil, apiError(operation, out.Messages)
	}

	status := mapResponseCode(out.TransactionResponse.ResponseCode)
	result := &domain.RefundResult{
		Success:  status == domain.StatusCompleted,
		Status:   status,
		RefundID: out.TransactionResponse.TransID,
		Audit:    exchange.Audit(),
	}
	if !result.Success {
		result.ErrorMessage = out.TransactionResponse.errorText()
	}
	return result, nil
}

func (a *Adapter) CreateRecurringPayment(ctx context.Context, req domain.RecurringRequest) (*domain.RecurringResult, error) {
	interval, err := req.Frequency.Interval(req.Metadata)
	if err != nil {
		return nil, err
	}
	length, unit, err := arbInterval(interval)
	if err != nil {
		return nil, err
	}
	_, profile, err := paymentSource(req.PaymentMethodToken, nil)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: authorize.net subscriptions need a customer profile token \"profileId|paymentProfileId\"", domain.ErrInvalidPaymentMethod)
	}

	occurrences := interval.Occurrences(req.StartDate, req.EndDate)
	if occurrences == 0 {
		occurrences = 9999
	}
	name := req.Description
	if name == "" {
		name = "Recurring payment " + req.ConfigID.String()
	}

	body := map[string]any{"ARBCreateSubscriptionRequest": arbCreateRequest{
		MerchantAuthentication: a.auth,
		RefID:                  refID(req.ConfigID.String()),
		Subscription: arbSubscription{
			Name: truncate(name, 50),
			PaymentSchedule: paymentSchedule{
				Interval:         arbIntervalSpec{Length: length, Unit: unit},
				StartDate:        req.StartDate.UTC().Format("2006-01-02"),
				TotalOccurrences: occurrences,
			},
			Amount: domain.FormatAmount(req.Amount, req.Currency),
			Profile: &arbProfile{
				CustomerProfileID:        profile.CustomerProfileID,
				CustomerPaymentProfileID: profile.PaymentProfile.PaymentProfileID,
			},
		},
	}}

	var out arbCreateResponse
	exchange, err := a.call(ctx, "arb_create_subscription", body, &out)
	if err != nil {
		return nil, err
	}
	if !out.Messages.ok() {
		return nil, apiError("arb_create_subscription", out.Messages)
	}
	return &domain.RecurringResult{
		SubscriptionID: out.SubscriptionID,
		Status:         domain.RecurringActive,
		Audit:          exchange.Audit(),
	}, nil
}

func (a *Adapter) UpdateRecurringPaymentStatus(ctx context.Context, subscriptionID string, status domain.RecurringStatus) (*domain.RecurringStatusResult, error) {
	switch status {
	case domain.RecurringCancelled:
	case domain.RecurringPaused, domain.RecurringActive:
		return nil, fmt.Errorf("%w: authorize.net subscriptions can only be cancelled", domain.ErrOperationNotSupported)
	default:
		return nil, fmt.Errorf("%w: authorize.net cannot move a subscription to %q", domain.ErrInvalidStatus, status)
	}

	body := map[string]any{"ARBCancelSubscriptionRequest": arbCancelRequest{
		MerchantAuthentication: a.auth,
		SubscriptionID:         subscriptionID,
	}}
	var out basicResponse
	exchange, err := a.call(ctx, "arb_cancel_subscription", body, &out)
	if err != nil {
		return nil, err
	}
	if !out.Messages.ok() {
		return nil, apiError("arb_cancel_subscription", out.Messages)
	}
	return &domain.RecurringStatusResult{Updated: true, Audit: exchange.Audit()}, nil
}

// paymentSource accepts either an Accept.js nonce or a stored customer
// profile token of the form "customerProfileId|paymentProfileId".
func paymentSource(token string, details map[string]any) (*payment, *profileRef, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, fmt.Errorf("%w: authorize.net needs a payment token", domain.ErrInvalidPaymentMethod)
	}
	if customer, paymentProfile, ok := strings.Cut(token, "|"); ok {
		if customer == "" || paymentProfile == "" {
			return nil, nil, fmt.Errorf("%w: malformed profile token", domain.ErrInvalidPaymentMethod)
		}
		return nil, &profileRef{
			CustomerProfileID: customer,
			PaymentProfile:    paymentProfileRef{PaymentProfileID: paymentProfile},
		}, nil
	}
	descriptor := acceptDescriptor
	if d, ok := details["data_descriptor"].(string); ok && d != "" {
		descriptor = d
	}
	return &payment{OpaqueData: &opaqueData{DataDescriptor: descriptor, DataValue: token}}, nil, nil
}

func arbInterval(interval domain.Interval) (int, string, error) {
	switch interval.Unit {
	case domain.IntervalDay, domain.IntervalWeek:
		days := interval.Days()
		if days < 7 || days > 365 {
			return 0, "", fmt.Errorf("%w: authorize.net day intervals must be 7 to 365 days", domain.ErrUnsupportedFrequency)
		}
		return days, "days", nil
	default:
		months := interval.Months()
		if months < 1 || months > 12 {
			return 0, "", fmt.Errorf("%w: authorize.net month intervals must be 1 to 12 months", domain.ErrUnsupportedFrequency)
		}
		return months, "months", nil
	}
}

// mapResponseCode maps transactionResponse.responseCode: 1 approved,
// 2 declined, 3 error, 4 held for review.
func mapResponseCode(code string) domain.TransactionStatus {
	switch code {
	case "1":
		return domain.StatusCompleted
	case "2", "3":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}

func mapTransactionStatus(status string) domain.TransactionStatus {
	switch status {
	case "settledSuccessfully", "capturedPendingSettlement", "refundSettledSuccessfully", "refundPendingSettlement", "approvedReview":
		return domain.StatusCompleted
	case "authorizedPendingCapture", "FDSAuthorizedPendingReview":
		return domain.StatusAuthorized
	case "declined", "generalError", "settlementError", "failedReview", "returnedItem":
		return domain.StatusFailed
	case "voided":
		return domain.StatusCancelled
	case "expired":
		return domain.StatusExpired
	default:
		// communicationError, FDSPendingReview, underReview, couldNotVoid and
		// anything new are re-polled.
		return domain.StatusPending
	}
}

func newOrder(invoice, description string) *orderInfo {
	o := &orderInfo{InvoiceNumber: truncate(invoice, 20)}
	if description != "" {
		o.Description = truncate(description, 255)
	}
	return o
}

func refID(id string) string {
	return truncate(id, 20)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func last4(masked string) string {
	digits := strings.TrimLeft(masked, "X")
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return digits
}
