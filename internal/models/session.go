package models

import "time"

// SessionValue is one key of a portal session, used by the database-backed
// session store.
type SessionValue struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionKey string    `gorm:"uniqueIndex:idx_session_value_key;size:64;not null" json:"session_key"`
	Name       string    `gorm:"uniqueIndex:idx_session_value_key;size:64;not null" json:"name"`
	Value      string    `gorm:"size:255" json:"value"`
	ExpiresAt  time.Time `gorm:"index" json:"expires_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (SessionValue) TableName() string { return "portal_sessions" }

func (s *SessionValue) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
