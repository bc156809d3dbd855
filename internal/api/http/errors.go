package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/egsm/perftrace/internal/domain/trace"
)

// statusFor maps store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, trace.ErrTraceNotFound):
		return http.StatusNotFound
	case errors.Is(err, trace.ErrTraceTerminal), errors.Is(err, trace.ErrCorrelationCollision):
		return http.StatusConflict
	case errors.Is(err, trace.ErrUnknownStage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}
