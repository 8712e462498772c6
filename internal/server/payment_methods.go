package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

type savePaymentMethodInput struct {
	ProviderID snowflake.ID   `json:"providerId"`
	ClientID   int64          `json:"clientId"`
	Token      string         `json:"token"`
	Type       string         `json:"type"`
	IsDefault  bool           `json:"isDefault"`
	Last4      string         `json:"last4"`
	Brand      string         `json:"brand"`
	ExpMonth   int            `json:"expMonth"`
	ExpYear    int            `json:"expYear"`
	HolderName string         `json:"holderName"`
	Metadata   map[string]any `json:"metadata"`
}

type listPaymentMethodsInput struct {
	ProviderID snowflake.ID `json:"providerId"`
	ClientID   int64        `json:"clientId"`
	ActiveOnly bool         `json:"activeOnly"`
}

func (s *Server) SavePaymentMethod(c *gin.Context) {
	req, ok := bindAction[savePaymentMethodInput](c)
	if !ok {
		return
	}
	in := req.Input
	pm, err := s.gateway.SavePaymentMethod(c.Request.Context(), domain.SavePaymentMethodInput{
		ProviderID: in.ProviderID,
		ClientID:   in.ClientID,
		Token:      in.Token,
		Type:       in.Type,
		IsDefault:  in.IsDefault,
		Last4:      in.Last4,
		Brand:      in.Brand,
		ExpMonth:   in.ExpMonth,
		ExpYear:    in.ExpYear,
		HolderName: in.HolderName,
		Metadata:   in.Metadata,
		UserID:     req.userID(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, pm)
}

func (s *Server) DeletePaymentMethod(c *gin.Context) {
	req, ok := bindAction[idInput](c)
	if !ok {
		return
	}
	if err := s.gateway.DeletePaymentMethod(c.Request.Context(), req.Input.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, gin.H{"success": true})
}

func (s *Server) ListPaymentMethods(c *gin.Context) {
	req, ok := bindAction[listPaymentMethodsInput](c)
	if !ok {
		return
	}
	items, err := s.gateway.ListPaymentMethods(c.Request.Context(), domain.PaymentMethodFilter{
		ProviderID: req.Input.ProviderID,
		ClientID:   req.Input.ClientID,
		ActiveOnly: req.Input.ActiveOnly,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, gin.H{"paymentMethods": items})
}
