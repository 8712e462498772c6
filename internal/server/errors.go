package server

import (
	"errors"
	"net/http"

	"github.com/finbridge/payhub/internal/payment/domain"
	"github.com/gin-gonic/gin"
)

// AbortWithError maps engine errors onto the action contract: lookups that
// miss are 404, everything else is 400 with the error text as message.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := http.StatusBadRequest
	if domain.IsNotFound(err) {
		status = http.StatusNotFound
	}
	c.AbortWithStatusJSON(status, gin.H{"message": err.Error()})
}

// abortWebhook tells the provider whether to retry: rejected deliveries are
// final, processing failures are retried.
func abortWebhook(c *gin.Context, err error) {
	_ = c.Error(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrInvalidProvider),
		errors.Is(err, domain.ErrInvalidRequest):
		status = http.StatusBadRequest
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	}
	c.AbortWithStatusJSON(status, gin.H{"message": err.Error()})
}

func invalidRequestError(detail string) error {
	return domain.Invalid("%s", detail)
}
