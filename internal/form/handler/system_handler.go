package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/bitfantasy/formflow/internal/metrics"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SystemHandler health, version and metrics
type SystemHandler struct {
	db      *gorm.DB
	metrics *metrics.Metrics
	version string
}

func NewSystemHandler(db *gorm.DB, m *metrics.Metrics, version string) *SystemHandler {
	return &SystemHandler{db: db, metrics: m, version: version}
}

// Live GET /health/live
func (h *SystemHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready GET /health/ready
func (h *SystemHandler) Ready(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "no database"})
		return
	}
	sqlDB, err := h.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Version GET /version
func (h *SystemHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": h.version, "service": "formflow"})
}

// Metrics GET /metrics
func (h *SystemHandler) Metrics(c *gin.Context) {
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}
