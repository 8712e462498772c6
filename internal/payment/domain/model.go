package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Provider is a configured payment gateway account. Configuration holds the
// vault-encrypted credential document and never leaves the service layer.
type Provider struct {
	ID                        snowflake.ID   `json:"id" gorm:"primaryKey"`
	Code                      string         `json:"code" gorm:"type:varchar(100);not null;uniqueIndex:ux_pg_provider_code"`
	Name                      string         `json:"name" gorm:"type:varchar(255);not null"`
	ProviderType              ProviderType   `json:"providerType" gorm:"type:varchar(32);not null"`
	Configuration             datatypes.JSON `json:"-" gorm:"not null"`
	SupportsRefunds           bool           `json:"supportsRefunds" gorm:"not null"`
	SupportsPartialPayments   bool           `json:"supportsPartialPayments" gorm:"not null"`
	SupportsRecurringPayments bool           `json:"supportsRecurringPayments" gorm:"not null"`
	IsActive                  bool           `json:"isActive" gorm:"not null"`
	CreatedBy                 string         `json:"createdBy,omitempty" gorm:"type:varchar(100)"`
	CreatedAt                 time.Time      `json:"createdAt" gorm:"not null"`
	UpdatedAt                 time.Time      `json:"updatedAt" gorm:"not null"`
}

func (Provider) TableName() string { return "payment_gateway_provider" }

// Transaction is one payment-side ledger row. Refunds are separate rows
// pointing back at the payment through ParentTransactionID.
type Transaction struct {
	ID                  snowflake.ID      `json:"id" gorm:"primaryKey"`
	ProviderID          snowflake.ID      `json:"providerId" gorm:"not null;index;uniqueIndex:ux_pg_txn_provider_external,priority:1"`
	TransactionType     TransactionType   `json:"transactionType" gorm:"type:varchar(32);not null"`
	ExternalID          *string           `json:"externalId,omitempty" gorm:"type:varchar(255);uniqueIndex:ux_pg_txn_provider_external,priority:2"`
	Amount              decimal.Decimal   `json:"amount" gorm:"type:numeric(19,4);not null"`
	Currency            string            `json:"currency" gorm:"type:varchar(3);not null"`
	Status              TransactionStatus `json:"status" gorm:"type:varchar(32);not null;index"`
	ErrorMessage        *string           `json:"errorMessage,omitempty" gorm:"type:text"`
	PaymentMethod       string            `json:"paymentMethod,omitempty" gorm:"type:varchar(64)"`
	PaymentDetails      datatypes.JSONMap `json:"paymentDetails,omitempty"`
	ReferenceNumber     string            `json:"referenceNumber,omitempty" gorm:"type:varchar(255)"`
	ClientID            *int64            `json:"clientId,omitempty" gorm:"index"`
	LoanID              *int64            `json:"loanId,omitempty" gorm:"index"`
	SavingsAccountID    *int64            `json:"savingsAccountId,omitempty" gorm:"index"`
	ParentTransactionID *snowflake.ID     `json:"parentTransactionId,omitempty" gorm:"index"`
	Description         string            `json:"description,omitempty" gorm:"type:text"`
	CallbackURL         string            `json:"callbackUrl,omitempty" gorm:"type:text"`
	PaymentURL          string            `json:"paymentUrl,omitempty" gorm:"type:text"`
	Metadata            datatypes.JSONMap `json:"metadata,omitempty"`
	RequestPayload      datatypes.JSON    `json:"requestPayload,omitempty"`
	ResponsePayload     datatypes.JSON    `json:"responsePayload,omitempty"`
	CreatedBy           string            `json:"createdBy,omitempty" gorm:"type:varchar(100)"`
	CreatedAt           time.Time         `json:"createdAt" gorm:"not null;index"`
	UpdatedAt           time.Time         `json:"updatedAt" gorm:"not null"`
}

func (Transaction) TableName() string { return "payment_gateway_transaction" }

func (t *Transaction) ExternalRef() string {
	if t == nil || t.ExternalID == nil {
		return ""
	}
	return *t.ExternalID
}

// PaymentMethod is a stored provider token. (ProviderID, ClientID, Token) is
// unique so saving the same token twice updates the existing row.
type PaymentMethod struct {
	ID         snowflake.ID      `json:"id" gorm:"primaryKey"`
	ProviderID snowflake.ID      `json:"providerId" gorm:"not null;uniqueIndex:ux_pg_pm_natural,priority:1"`
	ClientID   int64             `json:"clientId" gorm:"not null;uniqueIndex:ux_pg_pm_natural,priority:2;index"`
	Token      string            `json:"token" gorm:"type:varchar(255);not null;uniqueIndex:ux_pg_pm_natural,priority:3"`
	Type       string            `json:"type" gorm:"type:varchar(50);not null"`
	IsDefault  bool              `json:"isDefault" gorm:"not null"`
	IsActive   bool              `json:"isActive" gorm:"not null"`
	Last4      string            `json:"last4,omitempty" gorm:"type:varchar(4)"`
	Brand      string            `json:"brand,omitempty" gorm:"type:varchar(50)"`
	ExpMonth   int               `json:"expMonth,omitempty"`
	ExpYear    int               `json:"expYear,omitempty"`
	HolderName string            `json:"holderName,omitempty" gorm:"type:varchar(255)"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedBy  string            `json:"createdBy,omitempty" gorm:"type:varchar(100)"`
	CreatedAt  time.Time         `json:"createdAt" gorm:"not null"`
	UpdatedAt  time.Time         `json:"updatedAt" gorm:"not null"`
}

func (PaymentMethod) TableName() string { return "payment_gateway_payment_method" }

type RecurringPaymentConfig struct {
	ID                     snowflake.ID      `json:"id" gorm:"primaryKey"`
	ProviderID             snowflake.ID      `json:"providerId" gorm:"not null;index"`
	ClientID               int64             `json:"clientId" gorm:"not null;index"`
	ExternalSubscriptionID *string           `json:"externalSubscriptionId,omitempty" gorm:"type:varchar(255);index"`
	PaymentMethodToken     string            `json:"paymentMethodToken" gorm:"type:varchar(255);not null"`
	Frequency              Frequency         `json:"frequency" gorm:"type:varchar(32);not null"`
	Amount                 decimal.Decimal   `json:"amount" gorm:"type:numeric(19,4);not null"`
	Currency               string            `json:"currency" gorm:"type:varchar(3);not null"`
	StartDate              time.Time         `json:"startDate" gorm:"not null"`
	EndDate                *time.Time        `json:"endDate,omitempty"`
	Status                 RecurringStatus   `json:"status" gorm:"type:varchar(32);not null;index"`
	Description            string            `json:"description,omitempty" gorm:"type:text"`
	LoanID                 *int64            `json:"loanId,omitempty"`
	SavingsAccountID       *int64            `json:"savingsAccountId,omitempty"`
	Metadata               datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedBy              string            `json:"createdBy,omitempty" gorm:"type:varchar(100)"`
	CreatedAt              time.Time         `json:"createdAt" gorm:"not null"`
	UpdatedAt              time.Time         `json:"updatedAt" gorm:"not null"`
}

func (RecurringPaymentConfig) TableName() string { return "payment_gateway_recurring_config" }

type WebhookEventStatus string

const (
	WebhookEventReceived  WebhookEventStatus = "received"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventFailed    WebhookEventStatus = "failed"
)

// WebhookEvent is the audit record of one inbound notification. It is written
// before any processing so every delivery leaves a trace.
type WebhookEvent struct {
	ID                   snowflake.ID       `json:"id" gorm:"primaryKey"`
	ProviderID           snowflake.ID       `json:"providerId" gorm:"not null;index:ix_pg_webhook_dedupe,priority:1"`
	EventType            string             `json:"eventType" gorm:"type:varchar(128);not null;index:ix_pg_webhook_dedupe,priority:2"`
	IdempotencyKey       *string            `json:"idempotencyKey,omitempty" gorm:"type:varchar(255);index:ix_pg_webhook_dedupe,priority:3"`
	Payload              datatypes.JSON     `json:"payload" gorm:"not null"`
	Status               WebhookEventStatus `json:"status" gorm:"type:varchar(16);not null;index"`
	RelatedTransactionID *snowflake.ID      `json:"relatedTransactionId,omitempty" gorm:"index"`
	Message              string             `json:"message,omitempty" gorm:"type:text"`
	ErrorMessage         *string            `json:"errorMessage,omitempty" gorm:"type:text"`
	ProcessingAttempts   int                `json:"processingAttempts" gorm:"not null"`
	ProcessedAt          *time.Time         `json:"processedAt,omitempty"`
	CreatedAt            time.Time          `json:"createdAt" gorm:"not null;index"`
	UpdatedAt            time.Time          `json:"updatedAt" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "payment_gateway_webhook_event" }

// Models lists every persisted type, in dependency order, for AutoMigrate.
func Models() []any {
	return []any{
		&Provider{},
		&Transaction{},
		&PaymentMethod{},
		&RecurringPaymentConfig{},
		&WebhookEvent{},
	}
}
