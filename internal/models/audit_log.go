package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrAuditImmutable is returned by the hooks below. Audit rows are append-only.
var ErrAuditImmutable = errors.New("audit log entries are immutable")

type AuditAction string

const (
	AuditLogin          AuditAction = "login"
	AuditLogout         AuditAction = "logout"
	AuditViewMember     AuditAction = "view_member"
	AuditRegisterMember AuditAction = "register_member"
	AuditUpdateMember   AuditAction = "update_member"
	AuditExportData     AuditAction = "export_data"
	AuditManageUser     AuditAction = "manage_user"
)

var auditActionLabels = map[AuditAction]string{
	AuditLogin:          "User Login",
	AuditLogout:         "User Logout",
	AuditViewMember:     "View Member Details",
	AuditRegisterMember: "Register New Member",
	AuditUpdateMember:   "Update Member Information",
	AuditExportData:     "Export Member Data",
	AuditManageUser:     "User Management Action",
}

func (a AuditAction) Valid() bool {
	_, ok := auditActionLabels[a]
	return ok
}

func (a AuditAction) Label() string {
	if l, ok := auditActionLabels[a]; ok {
		return l
	}
	return string(a)
}

// AuditLog records one security-relevant action.
type AuditLog struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UserID         uint           `gorm:"index;not null" json:"user_id"`
	User           *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Action         AuditAction    `gorm:"size:20;index;not null" json:"action"`
	TargetMemberID string         `gorm:"size:20" json:"target_member_id"`
	IPAddress      string         `gorm:"size:64" json:"ip_address"`
	UserAgent      string         `gorm:"type:text" json:"user_agent"`
	Timestamp      time.Time      `gorm:"index;not null" json:"timestamp"`
	Details        map[string]any `gorm:"serializer:json;type:text" json:"details,omitempty"`
}

func (AuditLog) TableName() string { return "audit_logs" }

func (a *AuditLog) BeforeUpdate(tx *gorm.DB) error { return ErrAuditImmutable }

func (a *AuditLog) BeforeDelete(tx *gorm.DB) error { return ErrAuditImmutable }
