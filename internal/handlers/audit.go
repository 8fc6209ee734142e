package handlers

import (
	"strconv"
	"time"

	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/internal/services"
	"github.com/dkomics/church-portal/pkg/response"
	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	audit *services.AuditRecorder
}

func NewAuditHandler(audit *services.AuditRecorder) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List returns audit entries newest first. Dates are YYYY-MM-DD; "to" is
// inclusive of the whole day.
// GET /api/admin/audit-logs
func (h *AuditHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))

	q := services.AuditQuery{Page: page, PageSize: pageSize}
	if action := c.Query("action"); action != "" {
		q.Action = models.AuditAction(action)
		if !q.Action.Valid() {
			response.BadRequest(c, "unknown action "+action)
			return
		}
	}
	if actor := c.Query("user_id"); actor != "" {
		id, err := strconv.ParseUint(actor, 10, 32)
		if err != nil {
			response.BadRequest(c, "invalid user_id")
			return
		}
		q.ActorID = uint(id)
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			response.BadRequest(c, "invalid from date")
			return
		}
		q.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			response.BadRequest(c, "invalid to date")
			return
		}
		q.To = t.Add(24*time.Hour - time.Nanosecond)
	}

	result, err := h.audit.Query(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}
