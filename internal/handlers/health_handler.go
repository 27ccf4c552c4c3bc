package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// HealthHandler reports whether the backing stores are reachable
type HealthHandler struct {
	db  *gorm.DB
	rdb redis.UniversalClient
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB, rdb redis.UniversalClient) *HealthHandler {
	return &HealthHandler{db: db, rdb: rdb}
}

// Check pings the database and Redis
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{"database": "ok", "redis": "ok"}
	healthy := true

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		status["database"] = err.Error()
		healthy = false
	}

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		status["redis"] = err.Error()
		healthy = false
	}

	if !healthy {
		status["status"] = "unavailable"
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	status["status"] = "ok"
	c.JSON(http.StatusOK, status)
}
