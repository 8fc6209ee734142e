package models

import "time"

// UserProfile is the access envelope of one user: role, assigned branches and
// an optional primary branch. Profiles are deactivated, never deleted.
type UserProfile struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UserID          uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	Role            Role      `gorm:"size:20;not null;default:member" json:"role"`
	Phone           string    `gorm:"size:15" json:"phone"`
	Branches        []Branch  `gorm:"many2many:user_profile_branches" json:"branches,omitempty"`
	PrimaryBranchID *uint     `json:"primary_branch_id"`
	PrimaryBranch   *Branch   `gorm:"foreignKey:PrimaryBranchID" json:"primary_branch,omitempty"`
	IsActive        bool      `gorm:"default:true" json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (UserProfile) TableName() string { return "user_profiles" }

// BranchIDs returns the ids of the assigned branches, active or not.
func (p *UserProfile) BranchIDs() []uint {
	ids := make([]uint, 0, len(p.Branches))
	for _, b := range p.Branches {
		ids = append(ids, b.ID)
	}
	return ids
}

// HasBranch reports whether branchID is in the assigned set.
func (p *UserProfile) HasBranch(branchID uint) bool {
	for _, b := range p.Branches {
		if b.ID == branchID {
			return true
		}
	}
	return false
}
