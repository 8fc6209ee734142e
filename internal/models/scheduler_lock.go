package models

import "time"

// SchedulerLock lets one replica own a periodic job run. The row for a job is
// taken over once ExpiresAt has passed.
type SchedulerLock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LockName  string    `gorm:"uniqueIndex;size:100;not null" json:"lock_name"`
	LockedBy  string    `gorm:"size:100" json:"locked_by"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

func (SchedulerLock) TableName() string { return "scheduler_locks" }

func (l *SchedulerLock) HeldBy(owner string, now time.Time) bool {
	return l.LockedBy == owner && now.Before(l.ExpiresAt)
}
