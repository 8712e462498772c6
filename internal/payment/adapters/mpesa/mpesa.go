package mpesa

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/finbridge/payhub/internal/payment/adapters/gatewayhttp"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const (
	sandboxURL = "https://sandbox.safaricom.co.ke"
	liveURL    = "https://api.safaricom.co.ke"

	currency = "KES"

	// Returned by the STK query while the payer has not answered the prompt.
	queryStillProcessing = "500.001.1001"

	subscriptionPrefix = "MPESA-SUB-"
)

// Daraja timestamps are in East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

var phonePattern = regexp.MustCompile(`^254[17]\d{8}$`)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() domain.ProviderType {
	return domain.ProviderMPesa
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Gateway, error) {
	required := map[string]string{}
	for _, key := range []string{"consumer_key", "consumer_secret", "short_code", "passkey"} {
		value, err := gatewayhttp.RequireString(domain.ProviderMPesa, cfg.Config, key)
		if err != nil {
			return nil, err
		}
		required[key] = value
	}
	live, err := gatewayhttp.Environment(domain.ProviderMPesa, cfg.Config, "sandbox", "production")
	if err != nil {
		return nil, err
	}
	callbackURL, _ := gatewayhttp.ReadString(cfg.Config, "callback_url")
	initiator, _ := gatewayhttp.ReadString(cfg.Config, "initiator_name")
	credential, _ := gatewayhttp.ReadString(cfg.Config, "security_credential")
	txType, _ := gatewayhttp.ReadString(cfg.Config, "transaction_type")
	if txType == "" {
		txType = "CustomerPayBillOnline"
	}

	return &Adapter{
		client:             gatewayhttp.New(cfg, gatewayhttp.BaseURL(cfg.Config, live, sandboxURL, liveURL)),
		consumerKey:        required["consumer_key"],
		consumerSecret:     required["consumer_secret"],
		shortCode:          required["short_code"],
		passkey:            required["passkey"],
		callbackURL:        callbackURL,
		initiatorName:      initiator,
		securityCredential: credential,
		transactionType:    txType,
		now:                time.Now,
	}, nil
}

// Adapter drives Safaricom Daraja: STK push for collections, transaction
// reversal for refunds. Subscriptions are not a Daraja concept, so recurring
// payments get a synthetic id and are charged by an external scheduler.
type Adapter struct {
	client             *gatewayhttp.Client
	consumerKey        string
	consumerSecret     string
	shortCode          string
	passkey            string
	callbackURL        string
	initiatorName      string
	securityCredential string
	transactionType    string
	now                func() time.Time
}

func (a *Adapter) SupportedCurrencies() []string {
	return []string{currency}
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	_, err := a.client.Do(ctx, gatewayhttp.Request{
		Operation: "oauth_token",
		Method:    http.MethodGet,
		Path:      "/oauth/v1/generate",
		Query:     url.Values{"grant_type": {"client_credentials"}},
		Username:  a.consumerKey,
		Password:  a.consumerSecret,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &domain.ProviderError{Provider: domain.ProviderMPesa, Operation: "oauth_token", Message: "empty access token"}
	}
	return out.AccessToken, nil
}

func (a *Adapter) post(ctx context.Context, operation, path string, body, out any) (gatewayhttp.Exchange, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return gatewayhttp.Exchange{}, err
	}
	return a.client.Do(ctx, gatewayhttp.Request{
		Operation:   operation,
		Method:      http.MethodPost,
		Path:        path,
		JSON:        body,
		BearerToken: token,
	}, out)
}

// password is base64(shortCode + passkey + timestamp).
func (a *Adapter) password() (string, string) {
	timestamp := a.now().In(eat).Format("20060102150405")
	return base64.StdEncoding.EncodeToString([]byte(a.shortCode + a.passkey + timestamp)), timestamp
}

func (a *Adapter) callback(eventType string) string {
	if a.callbackURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(a.callbackURL, "?") {
		sep = "&"
	}
	return a.callbackURL + sep + "eventType=" + url.QueryEscape(eventType)
}

// wholeShillings rejects anything but a positive whole KES amount.
func wholeShillings(amount decimal.Decimal, cur string) (int64, error) {
	if domain.NormalizeCurrency(cur) != currency {
		return 0, fmt.Errorf("%w: m-pesa only settles %s", domain.ErrUnsupportedCurrency, currency)
	}
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("%w: m-pesa amounts must be whole shillings", domain.ErrInvalidAmount)
	}
	return amount.IntPart(), nil
}

// NormalizePhone converts local formats (07XX, 7XX, +254) to 2547XXXXXXXX.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(phone, "0") && len(phone) == 10:
		phone = "254" + phone[1:]
	case len(phone) == 9:
		phone = "254" + phone
	}
	if !phonePattern.MatchString(phone) {
		return "", domain.Invalid("m-pesa phone number %q is not a Kenyan mobile number", raw)
	}
	return phone, nil
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (a *Adapter) stkPush(ctx context.Context, txID string, amount int64, phone, description string) (*stkPushResponse, gatewayhttp.Exchange, error) {
	password, timestamp := a.password()
	if description == "" {
		description = "Payment"
	}
	body := map[string]any{
		"BusinessShortCode": a.shortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   a.transactionType,
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            a.shortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       a.callback("stk_callback"),
		"AccountReference":  tail(txID, 12),
		"TransactionDesc":   truncate(description, 13),
	}
	var out stkPushResponse
	exchange, err := a.post(ctx, "stk_push", "/mpesa/stkpush/v1/processrequest", body, &out)
	if err != nil {
		return nil, exchange, err
	}
	return &out, exchange, nil
}

func (a *Adapter) CreatePayment(ctx context.Context, req domain.CreatePaymentRequest) (*domain.CreatePaymentResult, error) {
	amount, err := wholeShillings(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	rawPhone, _ := req.Metadata["phone_number"].(string)
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	out, exchange, err := a.stkPush(ctx, req.TransactionID.String(), amount, phone, req.Description)
	if err != nil {
		return nil, err
	}
	if out.ResponseCode != "0" {
		return &domain.CreatePaymentResult{
			ExternalID:   out.CheckoutRequestID,
			Status:       domain.StatusFailed,
			ErrorMessage: out.ResponseDescription,
			Audit:        exchange.Audit(),
		}, nil
	}
	return &domain.CreatePaymentResult{
		ExternalID: out.CheckoutRequestID,
		Status:     domain.StatusPending,
		Audit:      exchange.Audit(),
	}, nil
}

// ExecutePayment re-sends the STK prompt when no push is on record, and
// otherwise reports the outcome of the existing one.
func (a *Adapter) ExecutePayment(ctx context.Context, req domain.ExecutePaymentRequest) (*domain.ExecutePaymentResult, error) {
	if req.ExternalID == "" {
		amount, err := wholeShillings(req.Amount, req.Currency)
		if err != nil {
			return nil, err
		}
		rawPhone, _ := req.PaymentDetails["phone_number"].(string)
		if rawPhone == "" {
			rawPhone = req.PaymentMethodToken
		}
		phone, err := NormalizePhone(rawPhone)
		if err != nil {
			return nil, err
		}
		out, exchange, err := a.stkPush(ctx, req.TransactionID.String(), amount, phone, "")
		if err != nil {
			return nil, err
		}
		result := &domain.ExecutePaymentResult{
			Status:     domain.StatusPending,
			ExternalID: out.CheckoutRequestID,
			PaymentDetails: map[string]any{
				"merchant_request_id": out.MerchantRequestID,
			},
			Audit: exchange.Audit(),
		}
		if out.ResponseCode != "0" {
			result.Status = domain.StatusFailed
			result.ErrorMessage = out.ResponseDescription
		}
		return result, nil
	}

	status, err := a.CheckPaymentStatus(ctx, domain.StatusRequest{TransactionID: req.TransactionID, ExternalID: req.ExternalID})
	if err != nil {
		return nil, err
	}
	return &domain.ExecutePaymentResult{
		Success:        status.Status == domain.StatusCompleted,
		Status:         status.Status,
		ErrorMessage:   status.ErrorMessage,
		PaymentDetails: status.PaymentDetails,
		Audit:          status.Audit,
	}, nil
}

func (a *Adapter) CheckPaymentStatus(ctx context.Context, req domain.StatusRequest) (*domain.StatusResult, error) {
	if req.ExternalID == "" {
		return &domain.StatusResult{Status: domain.StatusPending}, nil
	}
	password, timestamp := a.password()

	var out struct {
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResultCode          string `json:"ResultCode"`
		ResultDesc          string `json:"ResultDesc"`
	}
	exchange, err := a.post(ctx, "stk_query", "/mpesa/stkpushquery/v1/query", map[string]any{
		"BusinessShortCode": a.shortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": req.ExternalID,
	}, &out)
	if err != nil {
		if gatewayhttp.ErrorCode(err) == queryStillProcessing {
			return &domain.StatusResult{Status: domain.StatusPending, Audit: exchange.Audit()}, nil
		}
		return nil, err
	}

	status := mapResultCode(out.ResultCode)
	result := &domain.StatusResult{
		Status:         status,
		PaymentDetails: map[string]any{"result_code": out.ResultCode, "result_desc": out.ResultDesc},
		Audit:          exchange.Audit(),
	}
	if status != domain.StatusCompleted && status != domain.StatusPending {
		result.ErrorMessage = out.ResultDesc
	}
	return result, nil
}

// RefundPayment requests a full transaction reversal. The outcome arrives
// later as a reversal_result callback keyed by the conversation id.
func (a *Adapter) RefundPayment(ctx context.Context, req domain.RefundRequest) (*domain.RefundResult, error) {
	if a.initiatorName == "" || a.securityCredential == "" {
		return nil, fmt.Errorf("%w: m-pesa reversals require initiator_name and security_credential", domain.ErrInvalidConfig)
	}
	receipt, _ := req.PaymentDetails["mpesa_receipt_number"].(string)
	if receipt == "" {
		return nil, fmt.Errorf("%w: no m-pesa receipt number on record", domain.ErrNothingToRefund)
	}
	amount, err := wholeShillings(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	if req.CapturedAmount.IsPositive() && !req.Amount.Equal(req.CapturedAmount) {
		return nil, fmt.Errorf("%w: m-pesa reversals are for the full amount only", domain.ErrOperationNotSupported)
	}
	remarks := req.Reason
	if remarks == "" {
		remarks = "Refund"
	}

	var out struct {
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		ResponseCode             string `json:"ResponseCode"`
		ResponseDescription      string `json:"ResponseDescription"`
	}
	exchange, err := a.post(ctx, "reversal", "/mpesa/reversal/v1/request", map[string]any{
		"Initiator":              a.initiatorName,
		"SecurityCredential":     a.securityCredential,
		"CommandID":              "TransactionReversal",
		"TransactionID":          receipt,
		"Amount":                 amount,
		"ReceiverParty":          a.shortCode,
		"RecieverIdentifierType": "11",
		"ResultURL":              a.callback("reversal_result"),
		"QueueTimeOutURL":        a.callback("timeout"),
		"Remarks":                truncate(remarks, 100),
		"Occasion":               truncate(req.TransactionID.String(), 100),
	}, &out)
	if err != nil {
		return nil, err
	}

	if out.ResponseCode != "0" {
		return &domain.RefundResult{
			Success:      false,
			Status:       domain.StatusFailed,
			RefundID:     out.ConversationID,
			ErrorMessage: out.ResponseDescription,
			Audit:        exchange.Audit(),
		}, nil
	}
	return &domain.RefundResult{
		Success:  true,
		Status:   domain.StatusPending,
		RefundID: out.ConversationID,
		Audit:    exchange.Audit(),
	}, nil
}

func (a *Adapter) CreateRecurringPayment(_ context.Context, req domain.RecurringRequest) (*domain.RecurringResult, error) {
	if _, err := req.Frequency.Interval(req.Metadata); err != nil {
		return nil, err
	}
	if _, err := wholeShillings(req.Amount, req.Currency); err != nil {
		return nil, err
	}
	if _, err := NormalizePhone(req.PaymentMethodToken); err != nil {
		return nil, fmt.Errorf("%w: m-pesa recurring payments use the payer phone number as token", domain.ErrInvalidPaymentMethod)
	}
	return &domain.RecurringResult{
		SubscriptionID: subscriptionPrefix + ulid.Make().String(),
		Status:         domain.RecurringActive,
	}, nil
}

// UpdateRecurringPaymentStatus has nothing to call remotely; the local
// record is the subscription.
func (a *Adapter) UpdateRecurringPaymentStatus(_ context.Context, subscriptionID string, status domain.RecurringStatus) (*domain.RecurringStatusResult, error) {
	if !strings.HasPrefix(subscriptionID, subscriptionPrefix) {
		return nil, fmt.Errorf("%w: %q is not an m-pesa subscription id", domain.ErrRecurringNotFound, subscriptionID)
	}
	if !status.Requestable() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	return &domain.RecurringStatusResult{Updated: true}, nil
}

// mapResultCode maps Daraja ResultCode values. Unknown codes stay pending
// so the sweep re-polls them.
func mapResultCode(code string) domain.TransactionStatus {
	switch strings.TrimSpace(code) {
	case "0":
		return domain.StatusCompleted
	case "1032":
		return domain.StatusCancelled
	case "1037", "1019":
		return domain.StatusExpired
	case "1", "1001", "1025", "2001", "9999", "17", "26", "1036", "1050":
		return domain.StatusFailed
	default:
		return domain.StatusPending
	}
}

// tail keeps the last n bytes, the varying end of a snowflake id.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
