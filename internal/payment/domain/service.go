package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

// GatewayService is the reconciliation engine: the single entry point that
// keeps local transaction rows consistent with the provider's view.
type GatewayService interface {
	RegisterProvider(ctx context.Context, input RegisterProviderInput) (*Provider, error)
	UpdateProvider(ctx context.Context, input UpdateProviderInput) (*Provider, error)
	GetProvider(ctx context.Context, id snowflake.ID) (*Provider, error)
	GetProviderByCode(ctx context.Context, code string) (*Provider, error)
	ListProviders(ctx context.Context, filter ProviderFilter) ([]*Provider, error)
	DeleteProvider(ctx context.Context, id snowflake.ID) (*DeleteProviderResult, error)

	CreateTransaction(ctx context.Context, input CreateTransactionInput) (*TransactionResult, error)
	ExecutePayment(ctx context.Context, input ExecutePaymentInput) (*ExecutePaymentOutput, error)
	CheckPaymentStatus(ctx context.Context, transactionID snowflake.ID) (*Transaction, error)
	RefundPayment(ctx context.Context, input RefundInput) (*RefundOutput, error)
	GetTransaction(ctx context.Context, id snowflake.ID) (*Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) (*TransactionList, error)

	SavePaymentMethod(ctx context.Context, input SavePaymentMethodInput) (*PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, filter PaymentMethodFilter) ([]*PaymentMethod, error)
	DeletePaymentMethod(ctx context.Context, id snowflake.ID) error

	CreateRecurringPayment(ctx context.Context, input CreateRecurringInput) (*RecurringPaymentConfig, error)
	UpdateRecurringPaymentStatus(ctx context.Context, input UpdateRecurringStatusInput) (*RecurringPaymentConfig, error)
	GetRecurringPayment(ctx context.Context, id snowflake.ID) (*RecurringPaymentConfig, error)
	ListRecurringPayments(ctx context.Context, filter RecurringFilter) ([]*RecurringPaymentConfig, error)

	ProcessWebhook(ctx context.Context, input ProcessWebhookInput) (*WebhookOutcome, error)
	ReplayWebhookEvent(ctx context.Context, eventID snowflake.ID) (*WebhookOutcome, error)
	ListWebhookEvents(ctx context.Context, filter WebhookEventFilter) ([]*WebhookEvent, error)
}

type RegisterProviderInput struct {
	Code                      string
	Name                      string
	ProviderType              ProviderType
	Configuration             map[string]any
	SupportsRefunds           bool
	SupportsPartialPayments   bool
	SupportsRecurringPayments bool
	IsActive                  *bool
	UserID                    string
}

// UpdateProviderInput applies only the fields that are set. A non-nil
// Configuration replaces the stored credentials entirely.
type UpdateProviderInput struct {
	ID                        snowflake.ID
	Name                      *string
	Configuration             map[string]any
	SupportsRefunds           *bool
	SupportsPartialPayments   *bool
	SupportsRecurringPayments *bool
	IsActive                  *bool
	UserID                    string
}

type ProviderFilter struct {
	ProviderType ProviderType
	IsActive     *bool
}

type DeleteProviderResult struct {
	Deleted     bool      `json:"deleted"`
	Deactivated bool      `json:"deactivated"`
	Provider    *Provider `json:"provider,omitempty"`
}

type CreateTransactionInput struct {
	ProviderID       snowflake.ID
	TransactionType  TransactionType
	Amount           decimal.Decimal
	Currency         string
	PaymentMethod    string
	PaymentDetails   map[string]any
	ReferenceNumber  string
	ClientID         *int64
	LoanID           *int64
	SavingsAccountID *int64
	Description      string
	CallbackURL      string
	Metadata         map[string]any
	UserID           string
}

type TransactionResult struct {
	Transaction *Transaction `json:"transaction"`
	PaymentURL  string       `json:"paymentUrl,omitempty"`
}

type ExecutePaymentInput struct {
	TransactionID      snowflake.ID
	PaymentMethod      string
	PaymentMethodToken string
	PaymentDetails     map[string]any
	UserID             string
}

type ExecutePaymentOutput struct {
	Success      bool         `json:"success"`
	Transaction  *Transaction `json:"transaction"`
	RedirectURL  string       `json:"redirectUrl,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

type RefundInput struct {
	TransactionID snowflake.ID
	Amount        *decimal.Decimal
	Reason        string
	Metadata      map[string]any
	UserID        string
}

type RefundOutput struct {
	Success      bool         `json:"success"`
	Refund       *Transaction `json:"refund"`
	Original     *Transaction `json:"original"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

type TransactionFilter struct {
	ProviderID          snowflake.ID
	ClientID            *int64
	LoanID              *int64
	SavingsAccountID    *int64
	Status              TransactionStatus
	TransactionType     TransactionType
	ParentTransactionID snowflake.ID
	CreatedFrom         *time.Time
	CreatedTo           *time.Time
	Page                pagination.Pagination
}

type TransactionList struct {
	Transactions []*Transaction       `json:"transactions"`
	PageInfo     *pagination.PageInfo `json:"pageInfo,omitempty"`
}

type SavePaymentMethodInput struct {
	ProviderID snowflake.ID
	ClientID   int64
	Token      string
	Type       string
	IsDefault  bool
	Last4      string
	Brand      string
	ExpMonth   int
	ExpYear    int
	HolderName string
	Metadata   map[string]any
	UserID     string
}

type PaymentMethodFilter struct {
	ProviderID snowflake.ID
	ClientID   int64
	ActiveOnly bool
}

type CreateRecurringInput struct {
	ProviderID         snowflake.ID
	ClientID           int64
	PaymentMethodToken string
	Frequency          Frequency
	Amount             decimal.Decimal
	Currency           string
	StartDate          time.Time
	EndDate            *time.Time
	Description        string
	LoanID             *int64
	SavingsAccountID   *int64
	Metadata           map[string]any
	UserID             string
}

type UpdateRecurringStatusInput struct {
	ID     snowflake.ID
	Status RecurringStatus
	UserID string
}

type RecurringFilter struct {
	ProviderID snowflake.ID
	ClientID   int64
	Status     RecurringStatus
}

// ProcessWebhookInput identifies the provider by id or code. EventType may be
// empty when the adapter can classify the payload itself.
type ProcessWebhookInput struct {
	ProviderID      snowflake.ID
	ProviderCode    string
	EventType       string
	Payload         json.RawMessage
	Headers         http.Header
	VerifySignature bool
}

type WebhookOutcome struct {
	Event       *WebhookEvent `json:"event"`
	Transaction *Transaction  `json:"transaction,omitempty"`
	Created     bool          `json:"created"`
	Duplicate   bool          `json:"duplicate"`
}

type WebhookEventFilter struct {
	ProviderID snowflake.ID
	Status     WebhookEventStatus
	EventType  string
	Limit      int
}

var (
	ErrInvalidProvider         = errors.New("invalid_provider")
	ErrProviderNotFound        = errors.New("provider_not_found")
	ErrProviderInactive        = errors.New("provider_inactive")
	ErrProviderCodeTaken       = errors.New("provider_code_taken")
	ErrUnsupportedProvider     = errors.New("unsupported_provider")
	ErrInvalidConfig           = errors.New("invalid_config")
	ErrInvalidSignature        = errors.New("invalid_signature")
	ErrInvalidPayload          = errors.New("invalid_payload")
	ErrInvalidEvent            = errors.New("invalid_event")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrInvalidCurrency         = errors.New("invalid_currency")
	ErrUnsupportedCurrency     = errors.New("unsupported_currency")
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrTransactionNotFound     = errors.New("transaction_not_found")
	ErrInvalidTransactionState = errors.New("invalid_transaction_state")
	ErrRefundsNotSupported     = errors.New("refunds_not_supported")
	ErrRefundExceedsAmount     = errors.New("refund_exceeds_amount")
	ErrNothingToRefund         = errors.New("nothing_to_refund")
	ErrPaymentMethodNotFound   = errors.New("payment_method_not_found")
	ErrInvalidPaymentMethod    = errors.New("invalid_payment_method")
	ErrRecurringNotSupported   = errors.New("recurring_not_supported")
	ErrRecurringNotFound       = errors.New("recurring_payment_not_found")
	ErrUnsupportedFrequency    = errors.New("unsupported_frequency")
	ErrInvalidStatus           = errors.New("invalid_status")
	ErrOperationNotSupported   = errors.New("operation_not_supported")
	ErrWebhookEventNotFound    = errors.New("webhook_event_not_found")
	ErrProviderCall            = errors.New("provider_call_failed")
)

// ProviderError is a non-2xx response or transport failure from a provider.
type ProviderError struct {
	Provider   ProviderType
	Operation  string
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %s", e.Provider, e.Operation, e.Message)
	}
	return fmt.Sprintf("%s %s failed with status %d: %s", e.Provider, e.Operation, e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error { return ErrProviderCall }

// IsNotFound reports whether err names a missing resource.
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrProviderNotFound,
		ErrTransactionNotFound,
		ErrPaymentMethodNotFound,
		ErrRecurringNotFound,
		ErrWebhookEventNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Invalid builds a validation error that still matches ErrInvalidRequest.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
