package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/replyloop/service-codepool/internal/application"
	"github.com/replyloop/service-codepool/pkg/auth"
	"github.com/replyloop/service-codepool/pkg/middleware"
	"github.com/replyloop/service-codepool/pkg/response"
)

// PoolManager is the pool management use case set.
type PoolManager interface {
	CreatePool(ctx context.Context, ownerID uuid.UUID, req application.CreatePoolRequest) (*application.PoolDTO, error)
	UpdatePool(ctx context.Context, ownerID, poolID uuid.UUID, req application.UpdatePoolRequest) (*application.PoolDTO, error)
	DeletePool(ctx context.Context, ownerID, poolID uuid.UUID) error
	ListPools(ctx context.Context, ownerID uuid.UUID) ([]*application.PoolDTO, error)
	GetPoolStats(ctx context.Context, ownerID, poolID uuid.UUID) (*application.PoolStatsDTO, error)
	ListCodes(ctx context.Context, ownerID, poolID uuid.UUID) ([]*application.CodeDTO, error)
	ListAssignments(ctx context.Context, ownerID, poolID uuid.UUID, page, limit int) ([]*application.AssignmentDTO, int64, error)
}

// PoolHandler handles HTTP requests for code pool management.
type PoolHandler struct {
	service PoolManager
}

// NewPoolHandler creates a new PoolHandler.
func NewPoolHandler(service PoolManager) *PoolHandler {
	return &PoolHandler{service: service}
}

// RegisterRoutes registers all pool routes.
func (h *PoolHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	ownerRole := middleware.RequireRole(auth.RoleOwner)

	pools := r.Group("/pools")
	pools.Use(authMW, ownerRole)
	{
		pools.POST("", h.CreatePool)
		pools.GET("", h.ListPools)
		pools.GET("/:id", h.GetPool)
		pools.PUT("/:id", h.UpdatePool)
		pools.DELETE("/:id", h.DeletePool)
		pools.GET("/:id/assignments", h.ListAssignments)
		pools.GET("/:id/codes", h.ListCodes)
	}
}

// CreatePool handles POST /api/v1/pools.
func (h *PoolHandler) CreatePool(c *gin.Context) {
	ownerID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req application.CreatePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.CreatePool(c.Request.Context(), ownerID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListPools handles GET /api/v1/pools.
func (h *PoolHandler) ListPools(c *gin.Context) {
	ownerID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	result, err := h.service.ListPools(c.Request.Context(), ownerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GetPool handles GET /api/v1/pools/:id.
func (h *PoolHandler) GetPool(c *gin.Context) {
	ownerID, poolID, ok := ownerAndPool(c)
	if !ok {
		return
	}

	result, err := h.service.GetPoolStats(c.Request.Context(), ownerID, poolID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// UpdatePool handles PUT /api/v1/pools/:id.
func (h *PoolHandler) UpdatePool(c *gin.Context) {
	ownerID, poolID, ok := ownerAndPool(c)
	if !ok {
		return
	}

	var req application.UpdatePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.UpdatePool(c.Request.Context(), ownerID, poolID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// DeletePool handles DELETE /api/v1/pools/:id.
func (h *PoolHandler) DeletePool(c *gin.Context) {
	ownerID, poolID, ok := ownerAndPool(c)
	if !ok {
		return
	}

	if err := h.service.DeletePool(c.Request.Context(), ownerID, poolID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// ListAssignments handles GET /api/v1/pools/:id/assignments.
func (h *PoolHandler) ListAssignments(c *gin.Context) {
	ownerID, poolID, ok := ownerAndPool(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	assignments, total, err := h.service.ListAssignments(c.Request.Context(), ownerID, poolID, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, assignments, total, page, limit)
}

// ListCodes handles GET /api/v1/pools/:id/codes.
func (h *PoolHandler) ListCodes(c *gin.Context) {
	ownerID, poolID, ok := ownerAndPool(c)
	if !ok {
		return
	}

	result, err := h.service.ListCodes(c.Request.Context(), ownerID, poolID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

func ownerAndPool(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}

	poolID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid pool ID")
		return uuid.Nil, uuid.Nil, false
	}
	return ownerID, poolID, true
}
