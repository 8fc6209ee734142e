package handlers

import (
	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the database and the reconcile queue.
type HealthHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue) *HealthHandler {
	return &HealthHandler{db: db, queue: queue}
}

// CheckHealth returns the health status of all subsystems.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := 200

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = 503
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	// Members still waiting for a permanent number.
	var temporary int64
	if dbStatus == "ok" {
		h.db.WithContext(c.Request.Context()).Model(&models.Member{}).
			Where("membership_id LIKE ?", models.TemporaryIDPrefix+"%").
			Count(&temporary)
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "church-portal",
		"components": gin.H{
			"database":          dbStatus,
			"queue_mode":        queueMode,
			"temporary_members": temporary,
		},
	})
}
