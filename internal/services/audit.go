package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/pkg/logger"
	"github.com/dkomics/church-portal/pkg/metrics"
	"gorm.io/gorm"
)

// RequestMeta is the client information attached to audit entries. Either
// field may be empty.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// AuditEntry is what callers supply to Record. The timestamp is not part of
// it; the recorder assigns it at write time.
type AuditEntry struct {
	ActorID        uint
	Action         models.AuditAction
	TargetMemberID string
	Meta           RequestMeta
	Details        map[string]any
}

// AuditRecorder appends audit entries and reads them back. It has no update
// or delete operation.
type AuditRecorder struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditRecorder(db *gorm.DB) *AuditRecorder {
	return &AuditRecorder{db: db, now: time.Now}
}

// Record appends one entry. It fails only when the actor or action is
// malformed or the store rejects the write.
func (r *AuditRecorder) Record(ctx context.Context, e AuditEntry) (*models.AuditLog, error) {
	if e.ActorID == 0 {
		return nil, &ValidationError{Fields: map[string]string{"actor": "actor is required"}}
	}
	if !e.Action.Valid() {
		return nil, &ValidationError{Fields: map[string]string{"action": fmt.Sprintf("unknown action %q", e.Action)}}
	}

	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	entry := &models.AuditLog{
		UserID:         e.ActorID,
		Action:         e.Action,
		TargetMemberID: e.TargetMemberID,
		IPAddress:      e.Meta.IP,
		UserAgent:      e.Meta.UserAgent,
		Timestamp:      r.now().UTC(),
		Details:        details,
	}
	if err := dbFrom(ctx, r.db).Create(entry).Error; err != nil {
		metrics.AuditWriteFailures.WithLabelValues(string(e.Action)).Inc()
		return nil, err
	}
	metrics.AuditEntries.WithLabelValues(string(e.Action)).Inc()
	return entry, nil
}

// AuditQuery filters Query. Zero fields do not filter.
type AuditQuery struct {
	Action   models.AuditAction
	ActorID  uint
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

type AuditPage struct {
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Items    []models.AuditLog `json:"items"`
}

// Query returns matching entries newest first. Entries sharing a timestamp
// are ordered by descending id.
func (r *AuditRecorder) Query(ctx context.Context, q AuditQuery) (*AuditPage, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 50
	}
	if q.PageSize > 200 {
		q.PageSize = 200
	}

	query := dbFrom(ctx, r.db).Model(&models.AuditLog{})
	if q.Action != "" {
		query = query.Where("action = ?", q.Action)
	}
	if q.ActorID != 0 {
		query = query.Where("user_id = ?", q.ActorID)
	}
	if !q.From.IsZero() {
		query = query.Where("timestamp >= ?", q.From.UTC())
	}
	if !q.To.IsZero() {
		query = query.Where("timestamp <= ?", q.To.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	var items []models.AuditLog
	err := query.Preload("User").
		Order("timestamp DESC").Order("id DESC").
		Offset((q.Page - 1) * q.PageSize).Limit(q.PageSize).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	return &AuditPage{Total: total, Page: q.Page, PageSize: q.PageSize, Items: items}, nil
}

// recordAfter records the audit entry of an action that already succeeded. A
// failed write is logged and returned wrapped in ErrAuditWrite; it never
// replaces the action's own result.
func recordAfter(ctx context.Context, r *AuditRecorder, e AuditEntry) error {
	if _, err := r.Record(ctx, e); err != nil {
		logAuditFailure(e, err)
		return auditFailure(e.Action, err)
	}
	return nil
}

func logAuditFailure(e AuditEntry, err error) {
	logger.Error().
		Err(err).
		Str("action", string(e.Action)).
		Uint("user_id", e.ActorID).
		Str("membership_id", e.TargetMemberID).
		Msg("audit write failed")
}
