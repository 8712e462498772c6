package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

type registerProviderInput struct {
	Code                      string         `json:"code"`
	Name                      string         `json:"name"`
	ProviderType              string         `json:"providerType"`
	Configuration             map[string]any `json:"configuration"`
	SupportsRefunds           bool           `json:"supportsRefunds"`
	SupportsPartialPayments   bool           `json:"supportsPartialPayments"`
	SupportsRecurringPayments bool           `json:"supportsRecurringPayments"`
	IsActive                  *bool          `json:"isActive"`
}

type updateProviderInput struct {
	ID                        snowflake.ID   `json:"id"`
	Name                      *string        `json:"name"`
	Configuration             map[string]any `json:"configuration"`
	SupportsRefunds           *bool          `json:"supportsRefunds"`
	SupportsPartialPayments   *bool          `json:"supportsPartialPayments"`
	SupportsRecurringPayments *bool          `json:"supportsRecurringPayments"`
	IsActive                  *bool          `json:"isActive"`
}

type idInput struct {
	ID snowflake.ID `json:"id"`
}

type listProvidersInput struct {
	ProviderType string `json:"providerType"`
	IsActive     *bool  `json:"isActive"`
}

func (s *Server) RegisterProvider(c *gin.Context) {
	req, ok := bindAction[registerProviderInput](c)
	if !ok {
		return
	}
	in := req.Input
	provider, err := s.gateway.RegisterProvider(c.Request.Context(), domain.RegisterProviderInput{
		Code:                      in.Code,
		Name:                      in.Name,
		ProviderType:              domain.ProviderType(in.ProviderType),
		Configuration:             in.Configuration,
		SupportsRefunds:           in.SupportsRefunds,
		SupportsPartialPayments:   in.SupportsPartialPayments,
		SupportsRecurringPayments: in.SupportsRecurringPayments,
		IsActive:                  in.IsActive,
		UserID:                    req.userID(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, provider)
}

func (s *Server) UpdateProvider(c *gin.Context) {
	req, ok := bindAction[updateProviderInput](c)
	if !ok {
		return
	}
	in := req.Input
	provider, err := s.gateway.UpdateProvider(c.Request.Context(), domain.UpdateProviderInput{
		ID:                        in.ID,
		Name:                      in.Name,
		Configuration:             in.Configuration,
		SupportsRefunds:           in.SupportsRefunds,
		SupportsPartialPayments:   in.SupportsPartialPayments,
		SupportsRecurringPayments: in.SupportsRecurringPayments,
		IsActive:                  in.IsActive,
		UserID:                    req.userID(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, provider)
}

func (s *Server) DeleteProvider(c *gin.Context) {
	req, ok := bindAction[idInput](c)
	if !ok {
		return
	}
	res, err := s.gateway.DeleteProvider(c.Request.Context(), req.Input.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, res)
}

func (s *Server) GetProvider(c *gin.Context) {
	req, ok := bindAction[idInput](c)
	if !ok {
		return
	}
	provider, err := s.gateway.GetProvider(c.Request.Context(), req.Input.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, provider)
}

func (s *Server) ListProviders(c *gin.Context) {
	req, ok := bindAction[listProvidersInput](c)
	if !ok {
		return
	}
	providers, err := s.gateway.ListProviders(c.Request.Context(), domain.ProviderFilter{
		ProviderType: domain.ProviderType(req.Input.ProviderType),
		IsActive:     req.Input.IsActive,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, gin.H{"providers": providers})
}
