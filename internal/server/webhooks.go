package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

type processWebhookInput struct {
	ProviderID   snowflake.ID    `json:"providerId"`
	ProviderCode string          `json:"providerCode"`
	EventType    string          `json:"eventType"`
	Payload      json.RawMessage `json:"payload"`
}

type eventIDInput struct {
	EventID snowflake.ID `json:"eventId"`
}

type listWebhookEventsInput struct {
	ProviderID snowflake.ID `json:"providerId"`
	Status     string       `json:"status"`
	EventType  string       `json:"eventType"`
	Limit      int          `json:"limit"`
}

// ProcessWebhook is the action form used by internal relays that already
// authenticated the delivery, so signatures are not checked here.
func (s *Server) ProcessWebhook(c *gin.Context) {
	req, ok := bindAction[processWebhookInput](c)
	if !ok {
		return
	}
	in := req.Input
	outcome, err := s.gateway.ProcessWebhook(c.Request.Context(), domain.ProcessWebhookInput{
		ProviderID:   in.ProviderID,
		ProviderCode: in.ProviderCode,
		EventType:    in.EventType,
		Payload:      in.Payload,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, outcome)
}

func (s *Server) ReplayWebhookEvent(c *gin.Context) {
	req, ok := bindAction[eventIDInput](c)
	if !ok {
		return
	}
	outcome, err := s.gateway.ReplayWebhookEvent(c.Request.Context(), req.Input.EventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, outcome)
}

func (s *Server) ListWebhookEvents(c *gin.Context) {
	req, ok := bindAction[listWebhookEventsInput](c)
	if !ok {
		return
	}
	items, err := s.gateway.ListWebhookEvents(c.Request.Context(), domain.WebhookEventFilter{
		ProviderID: req.Input.ProviderID,
		Status:     domain.WebhookEventStatus(req.Input.Status),
		EventType:  req.Input.EventType,
		Limit:      req.Input.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, gin.H{"events": items})
}

// ReceiveWebhook accepts a delivery straight from the provider. The raw body
// is passed through untouched because signatures cover the exact bytes.
// POST /webhooks/:providerCode?eventType=...
func (s *Server) ReceiveWebhook(c *gin.Context) {
	limit := s.ingestor.MaxPayloadSize()
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"message": "payload too large"})
			return
		}
		abortWebhook(c, domain.ErrInvalidPayload)
		return
	}

	outcome, err := s.ingestor.Ingest(c.Request.Context(), c.Param("providerCode"), c.Query("eventType"), body, c.Request.Header)
	if err != nil {
		abortWebhook(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"eventId":   outcome.Event.ID,
		"duplicate": outcome.Duplicate,
	})
}
