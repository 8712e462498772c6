package domain

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

//go:generate mockgen -destination=mock/gateway_mock.go -package=mock github.com/finbridge/payhub/internal/payment/domain Gateway,TokenValidator,WebhookVerifier

// Audit carries the last raw provider exchange of an operation. Adapters hold
// no per-call state, so every result returns its own audit.
type Audit struct {
	Request  json.RawMessage `json:"request,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

type CreatePaymentRequest struct {
	TransactionID snowflake.ID
	Amount        decimal.Decimal
	Currency      string
	CallbackURL   string
	Description   string
	Reference     string
	Metadata      map[string]any
}

type CreatePaymentResult struct {
	ExternalID   string
	Status       TransactionStatus
	PaymentURL   string
	ErrorMessage string
	Audit        Audit
}

type ExecutePaymentRequest struct {
	TransactionID      snowflake.ID
	ExternalID         string
	Amount             decimal.Decimal
	Currency           string
	PaymentMethod      string
	PaymentMethodToken string
	CallbackURL        string
	PaymentDetails     map[string]any
}

type ExecutePaymentResult struct {
	Success bool
	Status  TransactionStatus
	// ExternalID is set when the provider assigns a new reference on
	// execution, such as a payment id replacing an order id.
	ExternalID     string
	ErrorMessage   string
	RedirectURL    string
	PaymentDetails map[string]any
	Audit          Audit
}

type StatusRequest struct {
	TransactionID snowflake.ID
	ExternalID    string
}

type StatusResult struct {
	Status         TransactionStatus
	ErrorMessage   string
	PaymentDetails map[string]any
	Audit          Audit
}

type RefundRequest struct {
	TransactionID snowflake.ID
	ExternalID    string
	Amount        decimal.Decimal
	// CapturedAmount is the locally recorded amount still refundable. Adapters
	// use it when the provider cannot report the captured amount itself.
	CapturedAmount decimal.Decimal
	Currency       string
	Reason         string
	PaymentDetails map[string]any
	Metadata       map[string]any
}

type RefundResult struct {
	Success      bool
	Status       TransactionStatus
	RefundID     string
	ErrorMessage string
	Audit        Audit
}

type RecurringRequest struct {
	ConfigID           snowflake.ID
	PaymentMethodToken string
	Frequency          Frequency
	Amount             decimal.Decimal
	Currency           string
	StartDate          time.Time
	EndDate            *time.Time
	Description        string
	Metadata           map[string]any
}

type RecurringResult struct {
	SubscriptionID string
	Status         RecurringStatus
	// ApprovalURL is set when the payer must approve the subscription on the
	// provider's site before the first charge.
	ApprovalURL string
	Audit       Audit
}

type RecurringStatusResult struct {
	Updated bool
	Audit   Audit
}

type WebhookRequest struct {
	EventType string
	Payload   []byte
	Headers   http.Header
}

// WebhookTransactionData describes a transaction the provider initiated on
// its own, such as a subscription charge or a paybill deposit.
type WebhookTransactionData struct {
	ExternalID      string
	TransactionType TransactionType
	Amount          decimal.Decimal
	Currency        string
	Status          TransactionStatus
	PaymentMethod   string
	ReferenceNumber string
	Description     string
	PaymentDetails  map[string]any
	Metadata        map[string]any
}

type WebhookResult struct {
	// TransactionID is the provider-side reference used to find the local row.
	TransactionID string
	// FallbackTransactionID is tried when TransactionID matches nothing.
	FallbackTransactionID string
	// LocalReference is our own transaction id echoed back by the provider,
	// used when the provider reference was not known at creation time.
	LocalReference          string
	Status                  TransactionStatus
	ErrorMessage            string
	PaymentDetails          map[string]any
	Message                 string
	IdempotencyKey          string
	ShouldCreateTransaction bool
	TransactionData         *WebhookTransactionData
}

// Gateway is the uniform contract every provider adapter implements.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	ExecutePayment(ctx context.Context, req ExecutePaymentRequest) (*ExecutePaymentResult, error)
	CheckPaymentStatus(ctx context.Context, req StatusRequest) (*StatusResult, error)
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)
	CreateRecurringPayment(ctx context.Context, req RecurringRequest) (*RecurringResult, error)
	UpdateRecurringPaymentStatus(ctx context.Context, subscriptionID string, status RecurringStatus) (*RecurringStatusResult, error)
	ProcessWebhook(ctx context.Context, req WebhookRequest) (*WebhookResult, error)
}

// TokenValidator is implemented by adapters that can check a stored payment
// method token against the provider.
type TokenValidator interface {
	ValidatePaymentMethodToken(ctx context.Context, token, methodType string) (bool, error)
}

// WebhookVerifier is implemented by adapters whose providers sign webhook
// deliveries.
type WebhookVerifier interface {
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error
}

// WebhookClassifier derives the event type from a raw delivery when the
// caller does not supply one.
type WebhookClassifier interface {
	WebhookEventType(payload []byte, headers http.Header) (string, error)
}

// CurrencyRestricted is implemented by adapters that only settle in a fixed
// set of currencies.
type CurrencyRestricted interface {
	SupportedCurrencies() []string
}

// CallObserver receives one observation per outbound provider HTTP call.
type CallObserver interface {
	ObserveProviderCall(provider, operation string, statusCode int, took time.Duration, err error)
}

type AdapterConfig struct {
	ProviderID snowflake.ID
	Provider   ProviderType
	Config     map[string]any
	HTTPClient *http.Client
	Limiter    *rate.Limiter
	Observer   CallObserver
}

type AdapterFactory interface {
	Provider() ProviderType
	NewAdapter(config AdapterConfig) (Gateway, error)
}
