package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/finbridge/payhub/internal/payment/repository"
	"github.com/finbridge/payhub/pkg/db/pagination"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateTransaction commits the pending row before the provider call so every
// remote attempt has a local id that survives later failures. A local
// validation error from the adapter removes the unsent row; provider failures
// and post-call write failures keep it with the error recorded.
func (s *Service) CreateTransaction(ctx context.Context, input domain.CreateTransactionInput) (*domain.TransactionResult, error) {
	ctx, span := s.startSpan(ctx, "create_transaction", attribute.String("provider_id", input.ProviderID.String()))
	result, err := s.createTransaction(ctx, input)
	endSpan(span, err)
	return result, err
}

func (s *Service) createTransaction(ctx context.Context, input domain.CreateTransactionInput) (*domain.TransactionResult, error) {
	currency := domain.NormalizeCurrency(input.Currency)
	if !domain.ValidCurrency(currency) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCurrency, input.Currency)
	}
	if err := domain.ValidateAmount(input.Amount, currency); err != nil {
		return nil, err
	}
	txnType := input.TransactionType
	if txnType == "" {
		txnType = domain.TransactionTypePayment
	}
	if !txnType.Valid() || txnType == domain.TransactionTypeRefund {
		return nil, domain.Invalid("transaction type %q cannot be created directly", txnType)
	}

	provider, err := s.loadActiveProvider(ctx, nil, input.ProviderID)
	if err != nil {
		return nil, err
	}
	gw, err := s.adapterFor(provider)
	if err != nil {
		return nil, err
	}
	if restricted, ok := gw.(domain.CurrencyRestricted); ok {
		if supported := restricted.SupportedCurrencies(); !slices.Contains(supported, currency) {
			return nil, fmt.Errorf("%w: %s accepts %s, got %s", domain.ErrUnsupportedCurrency, provider.ProviderType, strings.Join(supported, ", "), currency)
		}
	}

	now := s.clock.Now(ctx)
	txn := &domain.Transaction{
		ID:               s.genID.Generate(),
		ProviderID:       provider.ID,
		TransactionType:  txnType,
		Amount:           input.Amount,
		Currency:         currency,
		Status:           domain.StatusPending,
		PaymentMethod:    input.PaymentMethod,
		PaymentDetails:   cloneMap(input.PaymentDetails),
		ReferenceNumber:  input.ReferenceNumber,
		ClientID:         input.ClientID,
		LoanID:           input.LoanID,
		SavingsAccountID: input.SavingsAccountID,
		Description:      input.Description,
		CallbackURL:      input.CallbackURL,
		Metadata:         cloneMap(input.Metadata),
		CreatedBy:        input.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.transactions.Insert(ctx, nil, txn); err != nil {
		return nil, err
	}

	res, err := gw.CreatePayment(ctx, domain.CreatePaymentRequest{
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		CallbackURL:   txn.CallbackURL,
		Description:   txn.Description,
		Reference:     txn.ReferenceNumber,
		Metadata:      input.Metadata,
	})
	if err != nil {
		if !isProviderFailure(err) {
			if derr := s.transactions.DeleteUnsent(ctx, nil, txn.ID); derr != nil {
				s.log.Warn("discard unsent transaction failed",
					zap.String("transaction_id", txn.ID.String()),
					zap.Error(derr))
			}
			return nil, err
		}
		s.keepWithError(ctx, txn, "", err)
		s.publish(ctx, provider, "create", true, statusChange{txn: txn})
		s.log.Error("provider create payment failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("provider_type", string(provider.ProviderType)),
			zap.Error(err))
		return nil, err
	}

	pending := *txn
	if err := s.recordCreated(ctx, txn, res); err != nil {
		// The provider holds a live payment; keep its reference on the row so
		// the reconcile sweep can pick it up.
		s.keepWithError(ctx, &pending, res.ExternalID, err)
		s.log.Error("record provider payment failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.String("external_id", res.ExternalID),
			zap.Error(err))
		return nil, err
	}

	s.publish(ctx, provider, "create", true, statusChange{txn: txn})
	s.log.Info("transaction created",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("external_id", txn.ExternalRef()),
		zap.String("status", string(txn.Status)))
	return &domain.TransactionResult{Transaction: txn, PaymentURL: txn.PaymentURL}, nil
}

func (s *Service) recordCreated(ctx context.Context, txn *domain.Transaction, res *domain.CreatePaymentResult) error {
	if res.ExternalID != "" {
		txn.ExternalID = strPtr(res.ExternalID)
	}
	if _, err := applyStatus(txn, res.Status); err != nil {
		return err
	}
	txn.PaymentURL = res.PaymentURL
	txn.ErrorMessage = strPtr(res.ErrorMessage)
	txn.RequestPayload = auditJSON(res.Audit.Request)
	txn.ResponsePayload = auditJSON(res.Audit.Response)
	txn.UpdatedAt = s.clock.Now(ctx)
	return s.transactions.Update(ctx, nil, txn)
}

// keepWithError is best effort: the committed pending row already exists, so
// a failed write here only loses the error text.
func (s *Service) keepWithError(ctx context.Context, txn *domain.Transaction, externalID string, cause error) {
	if externalID != "" {
		txn.ExternalID = strPtr(externalID)
	}
	txn.ErrorMessage = errorText(cause)
	txn.UpdatedAt = s.clock.Now(ctx)
	if err := s.transactions.Update(ctx, nil, txn); err != nil {
		s.log.Warn("record transaction error failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err))
	}
}

// ExecutePayment holds a row lock from the pending check to the status
// write, so a concurrent execute of the same transaction sees the new status
// and is rejected.
func (s *Service) ExecutePayment(ctx context.Context, input domain.ExecutePaymentInput) (*domain.ExecutePaymentOutput, error) {
	ctx, span := s.startSpan(ctx, "execute_payment", attribute.String("transaction_id", input.TransactionID.String()))
	out, err := s.executePayment(ctx, input)
	endSpan(span, err)
	return out, err
}

func (s *Service) executePayment(ctx context.Context, input domain.ExecutePaymentInput) (*domain.ExecutePaymentOutput, error) {
	var (
		provider *domain.Provider
		txn      *domain.Transaction
		out      *domain.ExecutePaymentOutput
		callErr error
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = s.transactions.FindByIDForUpdate(ctx, tx, input.TransactionID)
		if err != nil {
			return err
		}
		if txn == nil {
			return domain.ErrTransactionNotFound
		}
		if txn.Status != domain.StatusPending {
			return fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidTransactionState, txn.ID, txn.Status)
		}
		provider, err = s.loadActiveProvider(ctx, tx, txn.ProviderID)
		if err != nil {
			return err
		}
		gw, err := s.adapterFor(provider)
		if err != nil {
			return err
		}

		method := input.PaymentMethod
		if method == "" && input.PaymentMethodToken != "" {
			saved, err := s.paymentMethods.FindActiveByToken(ctx, tx, provider.ID, input.PaymentMethodToken)
			if err != nil {
				return err
			}
			if saved != nil {
				method = saved.Type
			}
		}
		if method == "" {
			method = txn.PaymentMethod
		}
		res, err := gw.ExecutePayment(ctx, domain.ExecutePaymentRequest{
			TransactionID:      txn.ID,
			ExternalID:         txn.ExternalRef(),
			Amount:             txn.Amount,
			Currency:           txn.Currency,
			PaymentMethod:      method,
			PaymentMethodToken: input.PaymentMethodToken,
			CallbackURL:        txn.CallbackURL,
			PaymentDetails:     input.PaymentDetails,
		})
		if err != nil {
			if !isProviderFailure(err) {
				return err
			}
			callErr = err
			txn.ErrorMessage = errorText(err)
			txn.UpdatedAt = s.clock.Now(ctx)
			return s.transactions.Update(ctx, tx, txn)
		}

		if _, err := applyStatus(txn, res.Status); err != nil {
			return err
		}
		if res.ExternalID != "" {
			txn.ExternalID = strPtr(res.ExternalID)
		}
		if method != "" {
			txn.PaymentMethod = method
		}
		txn.PaymentDetails = mergeMap(txn.PaymentDetails, res.PaymentDetails)
		txn.ErrorMessage = strPtr(res.ErrorMessage)
		txn.RequestPayload = auditJSON(res.Audit.Request)
		txn.ResponsePayload = auditJSON(res.Audit.Response)
		txn.UpdatedAt = s.clock.Now(ctx)
		if err := s.transactions.Update(ctx, tx, txn); err != nil {
			return err
		}
		out = &domain.ExecutePaymentOutput{
			Success:      res.Success,
			Transaction:  txn,
			RedirectURL:  res.RedirectURL,
			ErrorMessage: res.ErrorMessage,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if callErr != nil {
		s.log.Error("provider execute payment failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(callErr))
		return nil, callErr
	}

	if txn.Status != domain.StatusPending {
		s.publish(ctx, provider, "execute", false, statusChange{txn: txn, from: domain.StatusPending})
	}
	s.log.Info("payment executed",
		zap.String("transaction_id", txn.ID.String()),
		zap.Bool("success", out.Success),
		zap.String("status", string(txn.Status)))
	return out, nil
}

// CheckPaymentStatus serves settled rows locally. Other rows are polled and
// any legal status change is persisted.
func (s *Service) CheckPaymentStatus(ctx context.Context, transactionID snowflake.ID) (*domain.Transaction, error) {
	ctx, span := s.startSpan(ctx, "check_payment_status", attribute.String("transaction_id", transactionID.String()))
	txn, err := s.checkPaymentStatus(ctx, transactionID, "status_check")
	endSpan(span, err)
	return txn, err
}

func (s *Service) checkPaymentStatus(ctx context.Context, transactionID snowflake.ID, source string) (*domain.Transaction, error) {
	txn, err := s.transactions.FindByID(ctx, nil, transactionID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domain.ErrTransactionNotFound
	}
	// Refund rows are settled by the refund call or by webhooks.
	if txn.Status.Settled() || txn.TransactionType == domain.TransactionTypeRefund {
		return txn, nil
	}

	provider, err := s.loadProvider(ctx, nil, txn.ProviderID)
	if err != nil {
		return nil, err
	}
	gw, err := s.adapterFor(provider)
	if err != nil {
		return nil, err
	}
	res, err := gw.CheckPaymentStatus(ctx, domain.StatusRequest{TransactionID: txn.ID, ExternalID: txn.ExternalRef()})
	if err != nil {
		s.log.Warn("provider status check failed",
			zap.String("transaction_id", txn.ID.String()),
			zap.Error(err))
		return nil, err
	}

	var change *statusChange
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.transactions.FindByIDForUpdate(ctx, tx, txn.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrTransactionNotFound
		}
		txn = locked
		from := txn.Status
		changed, err := applyStatus(txn, res.Status)
		if err != nil {
			s.log.Warn("ignoring status regression from provider poll",
				zap.String("transaction_id", txn.ID.String()),
				zap.String("current", string(from)),
				zap.String("reported", string(res.Status)))
			return nil
		}
		if !changed && len(res.PaymentDetails) == 0 {
			return nil
		}
		if changed {
			change = &statusChange{txn: txn, from: from}
		}
		txn.PaymentDetails = mergeMap(txn.PaymentDetails, res.PaymentDetails)
		if res.ErrorMessage != "" {
			txn.ErrorMessage = strPtr(res.ErrorMessage)
		}
		if resp := auditJSON(res.Audit.Response); resp != nil {
			txn.ResponsePayload = resp
		}
		txn.UpdatedAt = s.clock.Now(ctx)
		return s.transactions.Update(ctx, tx, txn)
	})
	if err != nil {
		return nil, err
	}
	if change != nil {
		s.publish(ctx, provider, source, false, *change)
	}
	return txn, nil
}

func (s *Service) GetTransaction(ctx context.Context, id snowflake.ID) (*domain.Transaction, error) {
	txn, err := s.transactions.FindByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domain.ErrTransactionNotFound
	}
	return txn, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) (*domain.TransactionList, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, filter.Status)
	}
	if filter.TransactionType != "" && !filter.TransactionType.Valid() {
		return nil, domain.Invalid("unknown transaction type %q", filter.TransactionType)
	}
	page := filter.Page.Normalize()
	items, err := s.transactions.List(ctx, nil, filter, page)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return nil, domain.Invalid("invalid page token")
		}
		return nil, err
	}

	info := pagination.BuildCursorPageInfo(items, page.PageSize, repository.TransactionCursor)
	if len(items) > page.PageSize {
		items = items[:page.PageSize]
	}
	return &domain.TransactionList{Transactions: items, PageInfo: info}, nil
}

// ReconcilePending polls pending payments created before olderThan and
// returns how many of them settled.
func (s *Service) ReconcilePending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := s.transactions.ListStalePending(ctx, nil, olderThan, limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, txn := range stale {
		if ctx.Err() != nil {
			break
		}
		updated, err := s.checkPaymentStatus(ctx, txn.ID, "reconcile")
		if err != nil {
			s.log.Warn("reconcile transaction failed",
				zap.String("transaction_id", txn.ID.String()),
				zap.Error(err))
			continue
		}
		if updated.Status != domain.StatusPending {
			settled++
		}
	}
	s.metrics.AddReconciled(len(stale))
	return settled, nil
}
