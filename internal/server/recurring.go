package server

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createRecurringInput struct {
	ProviderID         snowflake.ID    `json:"providerId"`
	ClientID           int64           `json:"clientId"`
	PaymentMethodToken string          `json:"paymentMethodToken"`
	Frequency          string          `json:"frequency"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	StartDate          *time.Time      `json:"startDate"`
	EndDate            *time.Time      `json:"endDate"`
	Description        string          `json:"description"`
	LoanID             *int64          `json:"loanId"`
	SavingsAccountID   *int64          `json:"savingsAccountId"`
	Metadata           map[string]any  `json:"metadata"`
}

type updateRecurringStatusInput struct {
	ID     snowflake.ID `json:"id"`
	Status string       `json:"status"`
}

type listRecurringInput struct {
	ProviderID snowflake.ID `json:"providerId"`
	ClientID   int64        `json:"clientId"`
	Status     string       `json:"status"`
}

func (s *Server) CreateRecurringPayment(c *gin.Context) {
	req, ok := bindAction[createRecurringInput](c)
	if !ok {
		return
	}
	in := req.Input
	var start time.Time
	if in.StartDate != nil {
		start = *in.StartDate
	}
	cfg, err := s.gateway.CreateRecurringPayment(c.Request.Context(), domain.CreateRecurringInput{
		ProviderID:         in.ProviderID,
		ClientID:           in.ClientID,
		PaymentMethodToken: in.PaymentMethodToken,
		Frequency:          domain.Frequency(in.Frequency),
		Amount:             in.Amount,
		Currency:           in.Currency,
		StartDate:          start,
		EndDate:            in.EndDate,
		Description:        in.Description,
		LoanID:             in.LoanID,
		SavingsAccountID:   in.SavingsAccountID,
		Metadata:           in.Metadata,
		UserID:             req.userID(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, cfg)
}

func (s *Server) UpdateRecurringPaymentStatus(c *gin.Context) {
	req, ok := bindAction[updateRecurringStatusInput](c)
	if !ok {
		return
	}
	cfg, err := s.gateway.UpdateRecurringPaymentStatus(c.Request.Context(), domain.UpdateRecurringStatusInput{
		ID:     req.Input.ID,
		Status: domain.RecurringStatus(req.Input.Status),
		UserID: req.userID(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, cfg)
}

func (s *Server) GetRecurringPayment(c *gin.Context) {
	req, ok := bindAction[idInput](c)
	if !ok {
		return
	}
	cfg, err := s.gateway.GetRecurringPayment(c.Request.Context(), req.Input.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, cfg)
}

func (s *Server) ListRecurringPayments(c *gin.Context) {
	req, ok := bindAction[listRecurringInput](c)
	if !ok {
		return
	}
	items, err := s.gateway.ListRecurringPayments(c.Request.Context(), domain.RecurringFilter{
		ProviderID: req.Input.ProviderID,
		ClientID:   req.Input.ClientID,
		Status:     domain.RecurringStatus(req.Input.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, gin.H{"recurringPayments": items})
}
