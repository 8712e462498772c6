package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusAuthorized, true},
		{StatusAuthorized, StatusCompleted, true},
		{StatusCompleted, StatusPartiallyRefunded, true},
		{StatusPartiallyRefunded, StatusPartiallyRefunded, true},
		{StatusPartiallyRefunded, StatusRefunded, true},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusRefunded, StatusCompleted, false},
		{StatusCancelled, StatusPending, false},
		{StatusExpired, StatusExpired, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSettledStatuses(t *testing.T) {
	for _, s := range []TransactionStatus{StatusCompleted, StatusFailed, StatusRefunded, StatusPartiallyRefunded} {
		assert.True(t, s.Settled(), s)
	}
	for _, s := range []TransactionStatus{StatusPending, StatusAuthorized, StatusCancelled, StatusExpired} {
		assert.False(t, s.Settled(), s)
	}
}

func TestParseProviderType(t *testing.T) {
	got, ok := ParseProviderType("AUTHORIZE_NET")
	assert.True(t, ok)
	assert.Equal(t, ProviderAuthorizeNet, got)

	got, ok = ParseProviderType(" Stripe ")
	assert.True(t, ok)
	assert.Equal(t, ProviderStripe, got)

	_, ok = ParseProviderType("venmo")
	assert.False(t, ok)
}
