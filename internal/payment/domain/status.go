package domain

import "strings"

type ProviderType string

const (
	ProviderStripe       ProviderType = "stripe"
	ProviderPayPal       ProviderType = "paypal"
	ProviderAuthorizeNet ProviderType = "authorize_net"
	ProviderMPesa        ProviderType = "mpesa"
	ProviderSquare       ProviderType = "square"
	ProviderRazorpay     ProviderType = "razorpay"
	ProviderCustom       ProviderType = "custom"
)

func (t ProviderType) Valid() bool {
	switch t {
	case ProviderStripe, ProviderPayPal, ProviderAuthorizeNet, ProviderMPesa, ProviderSquare, ProviderRazorpay, ProviderCustom:
		return true
	}
	return false
}

// ParseProviderType accepts the canonical value case-insensitively, plus the
// "AUTHORIZE_NET"/"authorizenet" spelling variants.
func ParseProviderType(raw string) (ProviderType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "authorizenet" || normalized == "authorize.net" {
		normalized = string(ProviderAuthorizeNet)
	}
	t := ProviderType(normalized)
	return t, t.Valid()
}

type TransactionType string

const (
	TransactionTypePayment       TransactionType = "payment"
	TransactionTypeRefund        TransactionType = "refund"
	TransactionTypeAuthorization TransactionType = "authorization"
	TransactionTypeCapture       TransactionType = "capture"
	TransactionTypeVoid          TransactionType = "void"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypeRefund, TransactionTypeAuthorization, TransactionTypeCapture, TransactionTypeVoid:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusPending           TransactionStatus = "pending"
	StatusAuthorized        TransactionStatus = "authorized"
	StatusCompleted         TransactionStatus = "completed"
	StatusFailed            TransactionStatus = "failed"
	StatusRefunded          TransactionStatus = "refunded"
	StatusPartiallyRefunded TransactionStatus = "partially_refunded"
	StatusCancelled         TransactionStatus = "cancelled"
	StatusExpired           TransactionStatus = "expired"
)

func (s TransactionStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Settled statuses are served from the local row; a status check never goes
// back to the provider once a transaction reaches one of them.
func (s TransactionStatus) Settled() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRefunded, StatusPartiallyRefunded:
		return true
	}
	return false
}

// Refundable reports whether a payment in this status may receive a refund.
func (s TransactionStatus) Refundable() bool {
	return s == StatusCompleted || s == StatusPartiallyRefunded
}

var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:           {StatusAuthorized, StatusCompleted, StatusFailed, StatusCancelled, StatusExpired},
	StatusAuthorized:        {StatusCompleted, StatusFailed, StatusCancelled, StatusExpired},
	StatusCompleted:         {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusRefunded},
	StatusRefunded:          {},
	StatusFailed:            {},
	StatusCancelled:         {},
	StatusExpired:           {},
}

// CanTransition reports whether a row in status from may move to status to.
// Repeating the current status is always allowed and is a no-op for callers.
// A partially refunded payment may stay partially refunded after another
// partial refund.
func CanTransition(from, to TransactionStatus) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyBiweekly  Frequency = "biweekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnual    Frequency = "annual"
	FrequencyCustom    Frequency = "custom"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual, FrequencyCustom:
		return true
	}
	return false
}

type RecurringStatus string

const (
	RecurringActive    RecurringStatus = "active"
	RecurringPaused    RecurringStatus = "paused"
	RecurringCancelled RecurringStatus = "cancelled"
	RecurringCompleted RecurringStatus = "completed"
	RecurringFailed    RecurringStatus = "failed"
)

func (s RecurringStatus) Valid() bool {
	switch s {
	case RecurringActive, RecurringPaused, RecurringCancelled, RecurringCompleted, RecurringFailed:
		return true
	}
	return false
}

// Requestable lists the statuses a caller may ask a provider to move a
// subscription into.
func (s RecurringStatus) Requestable() bool {
	return s == RecurringActive || s == RecurringPaused || s == RecurringCancelled
}
