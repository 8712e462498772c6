package events

import (
	"context"
	"time"
)

const (
	TypeTransactionStatusChanged = "payment_gateway.transaction.status_changed"
	TypeTransactionCreated       = "payment_gateway.transaction.created"
)

// TransactionEvent is published after a transaction change has been committed.
type TransactionEvent struct {
	Type            string    `json:"type"`
	TransactionID   string    `json:"transactionId"`
	ProviderID      string    `json:"providerId"`
	ProviderType    string    `json:"providerType"`
	TransactionType string    `json:"transactionType"`
	ExternalID      string    `json:"externalId,omitempty"`
	FromStatus      string    `json:"fromStatus,omitempty"`
	ToStatus        string    `json:"toStatus"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	Source          string    `json:"source"`
	OccurredAt      time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, evt TransactionEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, TransactionEvent) error { return nil }
