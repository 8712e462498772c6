package service

import (
	"context"
	"fmt"

	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// refundedAmount sums refunds that succeeded or are still settling with the
// provider. Failed attempts do not consume the refundable balance.
func refundedAmount(refunds []*domain.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, r := range refunds {
		if r.Status == domain.StatusCompleted || r.Status == domain.StatusPending {
			total = total.Add(r.Amount)
		}
	}
	return total
}

// RefundPayment records every refund as its own transaction row linked to the
// payment. The payment moves to refunded once the refunds cover its amount.
// A nil amount refunds the remaining balance.
func (s *Service) RefundPayment(ctx context.Context, input domain.RefundInput) (*domain.RefundOutput, error) {
	ctx, span := s.startSpan(ctx, "refund_payment", attribute.String("transaction_id", input.TransactionID.String()))
	out, err := s.refundPayment(ctx, input)
	endSpan(span, err)
	return out, err
}

func (s *Service) refundPayment(ctx context.Context, input domain.RefundInput) (*domain.RefundOutput, error) {
	var (
		provider *domain.Provider
		out      *domain.RefundOutput
		from domain.TransactionStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := s.transactions.FindByIDForUpdate(ctx, tx, input.TransactionID)
		if err != nil {
			return err
		}
		if original == nil {
			return domain.ErrTransactionNotFound
		}
		if original.TransactionType == domain.TransactionTypeRefund || !original.Status.Refundable() {
			return fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidTransactionState, original.ID, original.Status)
		}
		provider, err = s.loadActiveProvider(ctx, tx, original.ProviderID)
		if err != nil {
			return err
		}
		if !provider.SupportsRefunds {
			return domain.ErrRefundsNotSupported
		}

		refunds, err := s.transactions.ListRefunds(ctx, tx, original.ID)
		if err != nil {
			return err
		}
		refunded := refundedAmount(refunds)
		remaining := original.Amount.Sub(refunded)
		if !remaining.IsPositive() {
			return domain.ErrNothingToRefund
		}
		amount := remaining
		if input.Amount != nil {
			amount = *input.Amount
		}
		if err := domain.ValidateAmount(amount, original.Currency); err != nil {
			return err
		}
		if amount.GreaterThan(remaining) {
			return fmt.Errorf("%w: requested %s, refundable %s %s", domain.ErrRefundExceedsAmount, amount, remaining, original.Currency)
		}

		gw, err := s.adapterFor(provider)
		if err != nil {
			return err
		}
		res, err := gw.RefundPayment(ctx, domain.RefundRequest{
			TransactionID:  original.ID,
			ExternalID:     original.ExternalRef(),
			Amount:         amount,
			CapturedAmount: remaining,
			Currency:       original.Currency,
			Reason:         input.Reason,
			PaymentDetails: original.PaymentDetails,
			Metadata:       input.Metadata,
		})
		if err != nil {
			return err
		}

		status := res.Status
		if status == "" {
			status = domain.StatusFailed
			if res.Success {
				status = domain.StatusCompleted
			}
		}
		metadata := mergeMap(cloneMap(input.Metadata), map[string]any{
			"originalTransactionId": original.ID.String(),
		})
		if input.Reason != "" {
			metadata["reason"] = input.Reason
		}
		now := s.clock.Now(ctx)
		parentID := original.ID
		refund := &domain.Transaction{
			ID:                  s.genID.Generate(),
			ProviderID:          original.ProviderID,
			TransactionType:     domain.TransactionTypeRefund,
			ExternalID:          strPtr(res.RefundID),
			Amount:              amount,
			Currency:            original.Currency,
			Status:              status,
			ErrorMessage:        strPtr(res.ErrorMessage),
			PaymentMethod:       original.PaymentMethod,
			ReferenceNumber:     original.ReferenceNumber,
			ClientID:            original.ClientID,
			LoanID:              original.LoanID,
			SavingsAccountID:    original.SavingsAccountID,
			ParentTransactionID: &parentID,
			Description:         input.Reason,
			Metadata:            metadata,
			RequestPayload:      auditJSON(res.Audit.Request),
			ResponsePayload:     auditJSON(res.Audit.Response),
			CreatedBy:           input.UserID,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := s.transactions.Insert(ctx, tx, refund); err != nil {
			return err
		}

		from = original.Status
		if res.Success && status != domain.StatusFailed {
			next := domain.StatusPartiallyRefunded
			if refunded.Add(amount).GreaterThanOrEqual(original.Amount) {
				next = domain.StatusRefunded
			}
			if _, err := applyStatus(original, next); err != nil {
				return err
			}
			original.UpdatedAt = now
			if err := s.transactions.Update(ctx, tx, original); err != nil {
				return err
			}
		}
		out = &domain.RefundOutput{
			Success:      res.Success,
			Refund:       refund,
			Original:     original,
			ErrorMessage: res.ErrorMessage,
		}
		return nil
	})
	if err != nil {
		if isProviderFailure(err) {
			s.log.Error("provider refund failed",
				zap.String("transaction_id", input.TransactionID.String()),
				zap.Error(err))
		}
		return nil, err
	}

	changes := []statusChange{}
	if out.Original.Status != from {
		changes = append(changes, statusChange{txn: out.Original, from: from})
	}
	s.publish(ctx, provider, "refund", true, statusChange{txn: out.Refund})
	s.publish(ctx, provider, "refund", false, changes...)

	s.log.Info("refund processed",
		zap.String("transaction_id", out.Original.ID.String()),
		zap.String("refund_id", out.Refund.ID.String()),
		zap.String("amount", out.Refund.Amount.String()),
		zap.Bool("success", out.Success))
	return out, nil
}
