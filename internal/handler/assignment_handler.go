package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/replyloop/service-codepool/internal/application"
	"github.com/replyloop/service-codepool/pkg/auth"
	"github.com/replyloop/service-codepool/pkg/middleware"
	"github.com/replyloop/service-codepool/pkg/response"
)

// CodeAssigner is the assignment use case.
type CodeAssigner interface {
	AssignCode(ctx context.Context, req application.AssignCodeRequest) (*application.AssignResult, error)
}

// AssignmentHandler exposes code assignment to internal services.
type AssignmentHandler struct {
	service CodeAssigner
}

// NewAssignmentHandler creates a new AssignmentHandler.
func NewAssignmentHandler(service CodeAssigner) *AssignmentHandler {
	return &AssignmentHandler{service: service}
}

// RegisterRoutes registers assignment routes.
func (h *AssignmentHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	r.POST("/assignments",
		middleware.AuthMiddleware(jwtManager),
		middleware.RequireRole(auth.RoleService),
		h.AssignCode,
	)
}

// AssignCode handles POST /api/v1/assignments. Fallback is a 200 with
// fallback=true, never an error.
func (h *AssignmentHandler) AssignCode(c *gin.Context) {
	var req application.AssignCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.AssignCode(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
