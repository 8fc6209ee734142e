package models

import (
	"strings"
	"time"
)

// User is a login account. Access rights live on the linked UserProfile.
type User struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Username  string       `gorm:"uniqueIndex;size:150;not null" json:"username"`
	Password  string       `gorm:"size:255;not null" json:"-"`
	FirstName string       `gorm:"size:150" json:"first_name"`
	LastName  string       `gorm:"size:150" json:"last_name"`
	Email     string       `gorm:"size:255" json:"email"`
	IsActive  bool         `gorm:"default:true" json:"is_active"`
	LastLogin *time.Time   `json:"last_login"`
	Profile   *UserProfile `gorm:"foreignKey:UserID" json:"profile,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// FullName falls back to the username when no name was recorded.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}
