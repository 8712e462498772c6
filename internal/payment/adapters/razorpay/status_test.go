package razorpay

import (
	"testing"

	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/stretchr/testify/assert"
)

func TestMapPaymentStatus(t *testing.T) {
	tests := []struct {
		name string
		in   payment
		want domain.TransactionStatus
	}{
		{"captured", payment{Status: "captured"}, domain.StatusCompleted},
		{"captured partial refund", payment{Status: "captured", RefundStatus: "partial"}, domain.StatusPartiallyRefunded},
		{"captured full refund", payment{Status: "captured", RefundStatus: "full"}, domain.StatusRefunded},
		{"authorized", payment{Status: "authorized"}, domain.StatusAuthorized},
		{"refunded in part", payment{Status: "refunded", Amount: 10000, AmountRefunded: 2500}, domain.StatusPartiallyRefunded},
		{"refunded", payment{Status: "refunded", Amount: 10000, AmountRefunded: 10000}, domain.StatusRefunded},
		{"failed", payment{Status: "failed"}, domain.StatusFailed},
		{"created", payment{Status: "created"}, domain.StatusPending},
		{"empty", payment{}, domain.StatusPending},
		{"unknown", payment{Status: "on_hold"}, domain.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.in
			assert.Equal(t, tt.want, mapPaymentStatus(&p))
		})
	}
}

func TestMapRefundStatusFallsBackToPending(t *testing.T) {
	assert.Equal(t, domain.StatusCompleted, mapRefundStatus("processed"))
	assert.Equal(t, domain.StatusFailed, mapRefundStatus("failed"))
	assert.Equal(t, domain.StatusPending, mapRefundStatus("pending"))
	assert.Equal(t, domain.StatusPending, mapRefundStatus("reversed"))
}
