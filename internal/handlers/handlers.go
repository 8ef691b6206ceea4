package handlers

import (
	"net/http"

	"intelboard/internal/services"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the JSON error envelope shared by all handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusForError maps service error kinds to HTTP statuses. Retryable
// kinds map to statuses clients are expected to retry on.
func statusForError(err error) int {
	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindInvalidTransition, services.KindConflict:
		return http.StatusConflict
	case services.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error, title string) {
	c.JSON(statusForError(err), ErrorResponse{
		Error:   title,
		Message: err.Error(),
	})
}
