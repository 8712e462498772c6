package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const userIDVariable = "x-hasura-user-id"

// actionRequest is the envelope every action call arrives in.
type actionRequest[T any] struct {
	Input            T                 `json:"input"`
	SessionVariables map[string]string `json:"session_variables"`
}

func (r actionRequest[T]) userID() string {
	return r.SessionVariables[userIDVariable]
}

func bindAction[T any](c *gin.Context) (actionRequest[T], bool) {
	var req actionRequest[T]
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError(err.Error()))
		return req, false
	}
	return req, true
}

func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}
