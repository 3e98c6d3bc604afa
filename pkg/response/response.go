package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/replyloop/service-codepool/pkg/domain"
)

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Success writes 200 with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// Created writes 201 with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// PageMeta describes one page of a list response.
type PageMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// Paginated writes 200 with items and paging metadata.
func Paginated(c *gin.Context, items interface{}, total int64, page, limit int) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: gin.H{
			"items": items,
			"meta":  PageMeta{Page: page, Limit: limit, Total: total},
		},
	})
}

// NoContent writes 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest writes 400 with message.
func BadRequest(c *gin.Context, message string) {
	abort(c, http.StatusBadRequest, "invalid_input", message, "")
}

// Unauthorized writes 401 with message.
func Unauthorized(c *gin.Context, message string) {
	abort(c, http.StatusUnauthorized, "unauthorized", message, "")
}

// Forbidden writes 403 with message.
func Forbidden(c *gin.Context, message string) {
	abort(c, http.StatusForbidden, "access_denied", message, "")
}

// Error maps a domain error to its HTTP status. Unknown errors become 500
// without leaking their text.
func Error(c *gin.Context, err error) {
	var domErr *domain.DomainError
	if !errors.As(err, &domErr) {
		abort(c, http.StatusInternalServerError, "internal", "internal server error", "")
		return
	}

	switch domain.Kind(err) {
	case domain.ErrInvalidInput:
		abort(c, http.StatusBadRequest, "invalid_input", domErr.Message, domErr.Field)
	case domain.ErrNotFound:
		abort(c, http.StatusNotFound, "not_found", domErr.Message, "")
	case domain.ErrAccessDenied:
		abort(c, http.StatusForbidden, "access_denied", domErr.Message, "")
	case domain.ErrConstraintViolation, domain.ErrDuplicateAssignment:
		abort(c, http.StatusConflict, "constraint_violation", domErr.Message, "")
	case domain.ErrUnavailable:
		abort(c, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable", "")
	default:
		abort(c, http.StatusInternalServerError, "internal", "internal server error", "")
	}
}

func abort(c *gin.Context, status int, code, message, field string) {
	c.AbortWithStatusJSON(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Field: field},
	})
}
