package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkomics/church-portal/internal/models"
	"gorm.io/gorm"
)

// ProfileContext is the resolved access envelope of one authenticated user.
// It is built per request and passed explicitly to every scoped operation.
type ProfileContext struct {
	UserID          uint
	Username        string
	ProfileID       uint
	Role            models.Role
	Capabilities    models.Capabilities
	BranchIDs       []uint
	PrimaryBranchID *uint
	Active          bool
	// LeastPrivilege marks a context produced by LeastPrivilegeContext rather
	// than read from a stored profile.
	LeastPrivilege bool
}

// LeastPrivilegeContext is the explicit fallback for a user without a usable
// profile: member role, no branches, inactive.
func LeastPrivilegeContext(userID uint, username string) ProfileContext {
	return ProfileContext{
		UserID:         userID,
		Username:       username,
		Role:           models.RoleMember,
		LeastPrivilege: true,
	}
}

func (p ProfileContext) IsSystemAdmin() bool {
	return p.Active && p.Capabilities.IsSystemAdmin
}

func (p ProfileContext) hasBranch(id uint) bool {
	for _, b := range p.BranchIDs {
		if b == id {
			return true
		}
	}
	return false
}

// Require fails with ErrAccessDenied unless the profile is active and check
// holds for its capabilities.
func (p ProfileContext) Require(name string, check func(models.Capabilities) bool) error {
	if !p.Active || !check(p.Capabilities) {
		return fmt.Errorf("%w: %s required", ErrAccessDenied, name)
	}
	return nil
}

type ProfileService struct {
	db *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{db: db}
}

// CreateUserProfile creates the 1:1 profile of a freshly created account. It is
// called by the account creation workflow inside its transaction.
func (s *ProfileService) CreateUserProfile(ctx context.Context, user *models.User, role models.Role, branchIDs []uint, primaryBranchID *uint) (*models.UserProfile, error) {
	if _, err := models.CapabilitiesFor(role); err != nil {
		return nil, err
	}
	db := dbFrom(ctx, s.db)

	branches, err := loadBranches(db, branchIDs)
	if err != nil {
		return nil, err
	}
	if primaryBranchID != nil && !containsID(branchIDs, *primaryBranchID) {
		return nil, &ValidationError{Fields: map[string]string{
			"primary_branch_id": "primary branch must be one of the assigned branches",
		}}
	}

	profile := &models.UserProfile{
		UserID:          user.ID,
		Role:            role,
		PrimaryBranchID: primaryBranchID,
		IsActive:        true,
		Branches:        branches,
	}
	if err := db.Create(profile).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: profile for user %d", ErrConflict, user.ID)
		}
		return nil, err
	}
	return profile, nil
}

// ResolveProfileContext loads the profile of userID. A user without a profile
// yields ErrNoProfile; callers decide whether to fall back to
// LeastPrivilegeContext.
func (s *ProfileService) ResolveProfileContext(ctx context.Context, userID uint) (ProfileContext, error) {
	db := dbFrom(ctx, s.db)

	var user models.User
	if err := db.Preload("Profile.Branches").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ProfileContext{}, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return ProfileContext{}, err
	}
	if user.Profile == nil {
		return ProfileContext{}, fmt.Errorf("%w: user %s", ErrNoProfile, user.Username)
	}

	caps, err := models.CapabilitiesFor(user.Profile.Role)
	if err != nil {
		return ProfileContext{}, err
	}

	return ProfileContext{
		UserID:          user.ID,
		Username:        user.Username,
		ProfileID:       user.Profile.ID,
		Role:            user.Profile.Role,
		Capabilities:    caps,
		BranchIDs:       user.Profile.BranchIDs(),
		PrimaryBranchID: user.Profile.PrimaryBranchID,
		Active:          user.Profile.IsActive && user.IsActive,
	}, nil
}

func loadBranches(db *gorm.DB, ids []uint) ([]models.Branch, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var branches []models.Branch
	if err := db.Where("id IN ?", ids).Find(&branches).Error; err != nil {
		return nil, err
	}
	if len(branches) != len(uniqueIDs(ids)) {
		return nil, &ValidationError{Fields: map[string]string{"branch_ids": "unknown branch"}}
	}
	return branches, nil
}

func containsID(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
