package server

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/finbridge/payhub/pkg/db/pagination"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createTransactionInput struct {
	ProviderID       snowflake.ID    `json:"providerId"`
	TransactionType  string          `json:"transactionType"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PaymentMethod    string          `json:"paymentMethod"`
	PaymentDetails   map[string]any  `json:"paymentDetails"`
	ReferenceNumber  string          `json:"referenceNumber"`
	ClientID         *int64          `json:"clientId"`
	LoanID           *int64          `json:"loanId"`
	SavingsAccountID *int64          `json:"savingsAccountId"`
	Description      string          `json:"description"`
	CallbackURL      string          `json:"callbackUrl"`
	Metadata         map[string]any  `json:"metadata"`
}

type executePaymentInput struct {
	TransactionID      snowflake.ID   `json:"transactionId"`
	PaymentMethod      string         `json:"paymentMethod"`
	PaymentMethodToken string         `json:"paymentMethodToken"`
	PaymentDetails     map[string]any `json:"paymentDetails"`
}

type transactionIDInput struct {
	TransactionID snowflake.ID `json:"transactionId"`
}

type refundPaymentInput struct {
	TransactionID snowflake.ID     `json:"transactionId"`
	Amount        *decimal.Decimal `json:"amount"`
	Reason        string           `json:"reason"`
	Metadata      map[string]any   `json:"metadata"`
}

type listTransactionsInput struct {
	ProviderID          snowflake.ID `json:"providerId"`
	ClientID            *int64       `json:"clientId"`
	LoanID              *int64       `json:"loanId"`
	SavingsAccountID    *int64       `json:"savingsAccountId"`
	Status              string       `json:"status"`
	TransactionType     string       `json:"transactionType"`
	ParentTransactionID snowflake.ID `json:"parentTransactionId"`
	CreatedFrom         *time.Time   `json:"createdFrom"`
	CreatedTo           *time.Time   `json:"createdTo"`
	pagination.Pagination
}

func (s *Server) CreateTransaction(c *gin.Context) {
	req, ok := bindAction[createTransactionInput](c)
	if !ok {
		return
	}
	in := req.Input
	res, err := s.gateway.CreateTransaction(c.Request.Context(), domain.CreateTransactionInput{
		ProviderID:       in.ProviderID,
		TransactionType:  domain.TransactionType(in.TransactionType),
		Amount:           in.Amount,
		Currency:         in.Currency,
		PaymentMethod:    in.PaymentMethod,
		PaymentDetails:   in.PaymentDetails,
		ReferenceNumber:  in.ReferenceNumber,
		ClientID:         in.ClientID,
		LoanID:           in.LoanID,
		SavingsAccountID: in.SavingsAccountID,
		Description:      in.Description,
		CallbackURL:      in.CallbackURL,
		Metadata:         in.Metadata,
		UserID:           req.userID(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, res)
}

func (s *Server) ExecutePayment(c *gin.Context) {
	req, ok := bindAction[executePaymentInput](c)
	if !ok {
		return
	}
	in := req.Input
	res, err := s.gateway.ExecutePayment(c.Request.Context(), domain.ExecutePaymentInput{
		TransactionID:      in.TransactionID,
		PaymentMethod:      in.PaymentMethod,
		PaymentMethodToken: in.PaymentMethodToken,
		PaymentDetails:     in.PaymentDetails,
		UserID:             req.userID(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, res)
}

func (s *Server) CheckPaymentStatus(c *gin.Context) {
	req, ok := bindAction[transactionIDInput](c)
	if !ok {
		return
	}
	txn, err := s.gateway.CheckPaymentStatus(c.Request.Context(), req.Input.TransactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, txn)
}

func (s *Server) RefundPayment(c *gin.Context) {
	req, ok := bindAction[refundPaymentInput](c)
	if !ok {
		return
	}
	in := req.Input
	res, err := s.gateway.RefundPayment(c.Request.Context(), domain.RefundInput{
		TransactionID: in.TransactionID,
		Amount:        in.Amount,
		Reason:        in.Reason,
		Metadata:      in.Metadata,
		UserID:        req.userID(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, res)
}

func (s *Server) GetTransaction(c *gin.Context) {
	req, ok := bindAction[transactionIDInput](c)
	if !ok {
		return
	}
	txn, err := s.gateway.GetTransaction(c.Request.Context(), req.Input.TransactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, txn)
}

func (s *Server) ListTransactions(c *gin.Context) {
	req, ok := bindAction[listTransactionsInput](c)
	if !ok {
		return
	}
	in := req.Input
	list, err := s.gateway.ListTransactions(c.Request.Context(), domain.TransactionFilter{
		ProviderID:          in.ProviderID,
		ClientID:            in.ClientID,
		LoanID:              in.LoanID,
		SavingsAccountID:    in.SavingsAccountID,
		Status:              domain.TransactionStatus(in.Status),
		TransactionType:     domain.TransactionType(in.TransactionType),
		ParentTransactionID: in.ParentTransactionID,
		CreatedFrom:         in.CreatedFrom,
		CreatedTo:           in.CreatedTo,
		Page:                in.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, list)
}
