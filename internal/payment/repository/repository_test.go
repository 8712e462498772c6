package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/finbridge/payhub/pkg/db/pagination"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Models()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedProvider(t *testing.T, db *gorm.DB, id snowflake.ID, code string) *domain.Provider {
	t.Helper()
	now := time.Now().UTC()
	p := &domain.Provider{
		ID:            id,
		Code:          code,
		Name:          code,
		ProviderType:  domain.ProviderStripe,
		Configuration: datatypes.JSON(`{"ciphertext":"x"}`),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, NewProviderRepository(db).Insert(context.Background(), nil, p))
	return p
}

func newTxn(id, providerID snowflake.ID, status domain.TransactionStatus, createdAt time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:              id,
		ProviderID:      providerID,
		TransactionType: domain.TransactionTypePayment,
		Amount:          decimal.NewFromInt(100),
		Currency:        "USD",
		Status:          status,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestProviderRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewProviderRepository(db)

	seedProvider(t, db, 1, "stripe-main")
	seedProvider(t, db, 2, "stripe-eu")

	found, err := repo.FindByCode(ctx, nil, "stripe-eu")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, snowflake.ID(2), found.ID)

	missing, err := repo.FindByID(ctx, nil, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)

	active := true
	items, err := repo.List(ctx, nil, domain.ProviderFilter{ProviderType: domain.ProviderStripe, IsActive: &active})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	has, err := repo.HasDependents(ctx, nil, 1)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, NewTransactionRepository(db).Insert(ctx, nil, newTxn(10, 1, domain.StatusPending, time.Now().UTC())))
	has, err = repo.HasDependents(ctx, nil, 1)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, repo.Delete(ctx, nil, 2))
	gone, err := repo.FindByID(ctx, nil, 2)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestProviderCodeIsUnique(t *testing.T) {
	db := newTestDB(t)
	seedProvider(t, db, 1, "dup")

	now := time.Now().UTC()
	err := NewProviderRepository(db).Insert(context.Background(), nil, &domain.Provider{
		ID:            2, Code: "dup", Name: "dup", ProviderType: domain.ProviderPayPal,
		Configuration: datatypes.JSON(`{}`), CreatedAt: now, UpdatedAt: now,
	})
	assert.Error(t, err)
}

func TestTransactionLookups(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedProvider(t, db, 1, "p")
	repo := NewTransactionRepository(db)

	txn := newTxn(10, 1, domain.StatusPending, time.Now().UTC())
	ext := "pi_123"
	txn.ExternalID = &ext
	txn.PaymentDetails = datatypes.JSONMap{"last4": "4242"}
	require.NoError(t, repo.Insert(ctx, nil, txn))

	found, err := repo.FindByExternalID(ctx, nil, 1, "pi_123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "4242", found.PaymentDetails["last4"])
	assert.True(t, decimal.NewFromInt(100).Equal(found.Amount))

	other, err := repo.FindByExternalID(ctx, nil, 2, "pi_123")
	require.NoError(t, err)
	assert.Nil(t, other)

	none, err := repo.FindByExternalID(ctx, nil, 1, "")
	require.NoError(t, err)
	assert.Nil(t, none)

	err = db.Transaction(func(tx *gorm.DB) error {
		locked, err := repo.FindByIDForUpdate(ctx, tx, 10)
		require.NoError(t, err)
		require.NotNil(t, locked)
		locked.Status = domain.StatusCompleted
		return repo.Update(ctx, tx, locked)
	})
	require.NoError(t, err)

	reloaded, err := repo.FindByID(ctx, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, reloaded.Status)
}

func TestListRefunds(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedProvider(t, db, 1, "p")
	repo := NewTransactionRepository(db)

	now := time.Now().UTC()
	require.NoError(t, repo.Insert(ctx, nil, newTxn(10, 1, domain.StatusCompleted, now)))
	parent := snowflake.ID(10)
	for i, id := range []snowflake.ID{11, 12} {
		refund := newTxn(id, 1, domain.StatusCompleted, now.Add(time.Duration(i+1)*time.Second))
		refund.TransactionType = domain.TransactionTypeRefund
		refund.ParentTransactionID = &parent
		require.NoError(t, repo.Insert(ctx, nil, refund))
	}

	refunds, err := repo.ListRefunds(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, refunds, 2)
	assert.Equal(t, snowflake.ID(11), refunds[0].ID)
}

func TestTransactionListPaginates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedProvider(t, db, 1, "p")
	repo := NewTransactionRepository(db)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, nil, newTxn(snowflake.ID(100+i), 1, domain.StatusCompleted, base.Add(time.Duration(i)*time.Minute))))
	}

	first, err := repo.List(ctx, nil, domain.TransactionFilter{ProviderID: 1}, pagination.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, snowflake.ID(104), first[0].ID)
	assert.Equal(t, snowflake.ID(103), first[1].ID)

	second, err := repo.List(ctx, nil, domain.TransactionFilter{ProviderID: 1}, pagination.Pagination{
		PageSize:  2,
		PageToken: TransactionCursor(first[1]),
	})
	require.NoError(t, err)
	require.Len(t, second, 3)
	assert.Equal(t, snowflake.ID(102), second[0].ID)

	_, err = repo.List(ctx, nil, domain.TransactionFilter{}, pagination.Pagination{PageToken: "garbage!"})
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}

func TestListStalePending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedProvider(t, db, 1, "p")
	repo := NewTransactionRepository(db)

	now := time.Now().UTC()
	old := newTxn(1, 1, domain.StatusPending, now.Add(-2*time.Hour))
	ext1 := "ext-1"
	old.ExternalID = &ext1
	noRef := newTxn(2, 1, domain.StatusPending, now.Add(-2*time.Hour))
	fresh := newTxn(3, 1, domain.StatusPending, now)
	ext3 := "ext-3"
	fresh.ExternalID = &ext3
	for _, txn := range []*domain.Transaction{old, noRef, fresh} {
		require.NoError(t, repo.Insert(ctx, nil, txn))
	}

	stale, err := repo.ListStalePending(ctx, nil, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, snowflake.ID(1), stale[0].ID)
}

func TestPaymentMethodDefaults(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedProvider(t, db, 1, "p")
	repo := NewPaymentMethodRepository(db)

	now := time.Now().UTC()
	for i, token := range []string{"tok_a", "tok_b"} {
		require.NoError(t, repo.Insert(ctx, nil, &domain.PaymentMethod{
			ID:        snowflake.ID(i + 1), ProviderID: 1, ClientID: 7, Token: token, Type: "card",
			IsDefault: true, IsActive: true, CreatedAt: now, UpdatedAt: now,
		}))
	}
	require.NoError(t, repo.ClearDefault(ctx, nil, 1, 7, 2))

	a, err := repo.FindByNaturalKey(ctx, nil, 1, 7, "tok_a")
	require.NoError(t, err)
	assert.False(t, a.IsDefault)
	b, err := repo.FindActiveByToken(ctx, nil, 1, "tok_b")
	require.NoError(t, err)
	assert.True(t, b.IsDefault)

	b.IsActive = false
	require.NoError(t, repo.Update(ctx, nil, b))
	items, err := repo.List(ctx, nil, domain.PaymentMethodFilter{ProviderID: 1, ClientID: 7, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "tok_a", items[0].Token)
}

func TestRecurringRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedProvider(t, db, 1, "p")
	repo := NewRecurringRepository(db)

	now := time.Now().UTC()
	cfg := &domain.RecurringPaymentConfig{
		ID:        5, ProviderID: 1, ClientID: 7, PaymentMethodToken: "tok", Frequency: domain.FrequencyMonthly,
		Amount:    decimal.NewFromInt(25), Currency: "USD", StartDate: now, Status: domain.RecurringActive,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Insert(ctx, nil, cfg))

	cfg.Status = domain.RecurringPaused
	require.NoError(t, repo.Update(ctx, nil, cfg))

	items, err := repo.List(ctx, nil, domain.RecurringFilter{ClientID: 7, Status: domain.RecurringPaused})
	require.NoError(t, err)
	require.Len(t, items, 1)

	found, err := repo.FindByID(ctx, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.RecurringPaused, found.Status)
}

func TestWebhookEventRepository(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedProvider(t, db, 1, "p")
	repo := NewWebhookEventRepository(db)

	now := time.Now().UTC()
	key := "evt_1"
	processedAt := now.Add(-48 * time.Hour)
	events := []*domain.WebhookEvent{
		{ID: 1, ProviderID: 1, EventType: "payment.succeeded", IdempotencyKey: &key, Payload: datatypes.JSON(`{}`),
			Status: domain.WebhookEventProcessed, ProcessedAt: &processedAt, CreatedAt: now.Add(-48 * time.Hour), UpdatedAt: now},
		{ID: 2, ProviderID: 1, EventType: "payment.succeeded", IdempotencyKey: &key, Payload: datatypes.JSON(`{}`),
			Status: domain.WebhookEventReceived, CreatedAt: now, UpdatedAt: now},
		{ID: 3, ProviderID: 1, EventType: "payment.failed", Payload: datatypes.JSON(`{}`),
			Status: domain.WebhookEventFailed, CreatedAt: now.Add(-72 * time.Hour), UpdatedAt: now},
	}
	for _, evt := range events {
		require.NoError(t, repo.Insert(ctx, nil, evt))
	}

	dup, err := repo.FindProcessedByKey(ctx, nil, 1, "payment.succeeded", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, snowflake.ID(1), dup.ID)

	none, err := repo.FindProcessedByKey(ctx, nil, 1, "payment.succeeded", "")
	require.NoError(t, err)
	assert.Nil(t, none)

	failed, err := repo.List(ctx, nil, domain.WebhookEventFilter{ProviderID: 1, Status: domain.WebhookEventFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)

	deleted, err := repo.DeleteProcessedBefore(ctx, nil, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.List(ctx, nil, domain.WebhookEventFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestDeleteUnsentKeepsProviderRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedProvider(t, db, 1, "p")
	repo := NewTransactionRepository(db)
	now := time.Now().UTC()

	unsent := newTxn(20, 1, domain.StatusPending, now)
	sent := newTxn(21, 1, domain.StatusPending, now)
	ext := "pi_sent"
	sent.ExternalID = &ext
	settled := newTxn(22, 1, domain.StatusCompleted, now)
	for _, txn := range []*domain.Transaction{unsent, sent, settled} {
		require.NoError(t, repo.Insert(ctx, nil, txn))
	}

	for _, id := range []snowflake.ID{20, 21, 22} {
		require.NoError(t, repo.DeleteUnsent(ctx, nil, id))
	}

	gone, err := repo.FindByID(ctx, nil, 20)
	require.NoError(t, err)
	assert.Nil(t, gone)
	for _, id := range []snowflake.ID{21, 22} {
		kept, err := repo.FindByID(ctx, nil, id)
		require.NoError(t, err)
		assert.NotNil(t, kept, "transaction %d", id)
	}
}
