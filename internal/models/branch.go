package models

import (
	"regexp"
	"time"
)

// BranchCodePattern restricts codes to uppercase letters so that a code
// followed by a four digit year can never be mistaken for a longer code.
var BranchCodePattern = regexp.MustCompile(`^[A-Z]{2,10}$`)

// Branch is one physical church location. Branches are deactivated, never
// deleted, and the code is frozen once a membership id embeds it.
type Branch struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Code         string    `gorm:"uniqueIndex;size:10;not null" json:"code"`
	Location     string    `gorm:"size:255" json:"location"`
	PastorName   string    `gorm:"size:100" json:"pastor_name"`
	ContactPhone string    `gorm:"size:20" json:"contact_phone"`
	ContactEmail string    `gorm:"size:255" json:"contact_email"`
	IsActive     bool      `gorm:"default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Branch) TableName() string { return "branches" }
