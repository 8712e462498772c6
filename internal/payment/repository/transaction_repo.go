package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/finbridge/payhub/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type transactionRepo struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) domain.TransactionRepository {
	return &transactionRepo{db: db}
}

func (r *transactionRepo) conn(db *gorm.DB) *gorm.DB {
	if db == nil {
		return r.db
	}
	return db
}

func (r *transactionRepo) Insert(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return r.conn(db).WithContext(ctx).Create(txn).Error
}

func (r *transactionRepo) Update(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	if txn == nil {
		return gorm.ErrInvalidData
	}
	return r.conn(db).WithContext(ctx).Save(txn).Error
}

// DeleteUnsent removes a pending row that never reached a provider. A row
// with an external id is part of the audit trail and is left alone.
func (r *transactionRepo) DeleteUnsent(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return r.conn(db).WithContext(ctx).
		Where("id = ? AND status = ? AND external_id IS NULL", id, domain.StatusPending).
		Delete(&domain.Transaction{}).Error
}

func (r *transactionRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return r.first(r.conn(db).WithContext(ctx).Where("id = ?", id))
}

// FindByIDForUpdate locks the row for the rest of the surrounding database
// transaction. SQLite ignores the locking clause.
func (r *transactionRepo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return r.first(r.conn(db).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *transactionRepo) FindByExternalID(ctx context.Context, db *gorm.DB, providerID snowflake.ID, externalID string) (*domain.Transaction, error) {
	if externalID == "" {
		return nil, nil
	}
	return r.first(r.conn(db).WithContext(ctx).
		Where("provider_id = ? AND external_id = ?", providerID, externalID))
}

func (r *transactionRepo) first(stmt *gorm.DB) (*domain.Transaction, error) {
	var txn domain.Transaction
	if err := stmt.First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *transactionRepo) ListRefunds(ctx context.Context, db *gorm.DB, parentID snowflake.ID) ([]*domain.Transaction, error) {
	var items []*domain.Transaction
	err := r.conn(db).WithContext(ctx).
		Where("parent_transaction_id = ? AND transaction_type = ?", parentID, domain.TransactionTypeRefund).
		Order("created_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// List returns newest first. It fetches one row beyond the page size so the
// caller can tell whether another page exists.
func (r *transactionRepo) List(ctx context.Context, db *gorm.DB, filter domain.TransactionFilter, page pagination.Pagination) ([]*domain.Transaction, error) {
	page = page.Normalize()
	stmt := r.conn(db).WithContext(ctx).Model(&domain.Transaction{})

	if filter.ProviderID != 0 {
		stmt = stmt.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.ClientID != nil {
		stmt = stmt.Where("client_id = ?", *filter.ClientID)
	}
	if filter.LoanID != nil {
		stmt = stmt.Where("loan_id = ?", *filter.LoanID)
	}
	if filter.SavingsAccountID != nil {
		stmt = stmt.Where("savings_account_id = ?", *filter.SavingsAccountID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.TransactionType != "" {
		stmt = stmt.Where("transaction_type = ?", filter.TransactionType)
	}
	if filter.ParentTransactionID != 0 {
		stmt = stmt.Where("parent_transaction_id = ?", filter.ParentTransactionID)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at < ?", *filter.CreatedTo)
	}

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		id, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
	}

	var items []*domain.Transaction
	if err := stmt.Order("created_at desc, id desc").Limit(page.PageSize + 1).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// TransactionCursor encodes the keyset position of txn for List.
func TransactionCursor(txn *domain.Transaction) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        txn.ID.String(),
		CreatedAt: txn.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

// ListStalePending returns provider-facing rows that have waited in pending
// longer than the cutoff. Refund rows are left to their own webhooks.
func (r *transactionRepo) ListStalePending(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []*domain.Transaction
	err := r.conn(db).WithContext(ctx).
		Where("status = ? AND created_at < ? AND external_id IS NOT NULL AND transaction_type <> ?",
			domain.StatusPending, olderThan, domain.TransactionTypeRefund).
		Order("created_at asc, id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
