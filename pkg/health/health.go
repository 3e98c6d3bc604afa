package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Check reports nil when a dependency is ready.
type Check func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Check
}

// Handler serves liveness and readiness checks.
type Handler struct {
	db      *gorm.DB
	service string
	checks  []namedCheck
}

// NewHandler creates a Handler. db may be nil, in which case only the
// registered checks gate readiness.
func NewHandler(db *gorm.DB, service string) *Handler {
	return &Handler{db: db, service: service}
}

// WithCheck adds a readiness check reported under name.
func (h *Handler) WithCheck(name string, check Check) *Handler {
	h.checks = append(h.checks, namedCheck{name: name, check: check})
	return h
}

// RegisterRoutes mounts /health and /health/ready.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Live)
	r.GET("/health/ready", h.Ready)
}

// Live reports that the process is up.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.service})
}

// Ready pings the database and runs the registered checks.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": h.service, "error": "database unreachable"})
			return
		}
	}

	for _, nc := range h.checks {
		if err := nc.check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unavailable",
				"service": h.service,
				"error":   nc.name + ": " + err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "service": h.service})
}
