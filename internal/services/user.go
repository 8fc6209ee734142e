package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/internal/utils"
	"github.com/dkomics/church-portal/pkg/logger"
	"gorm.io/gorm"
)

// UserService manages accounts and their profiles. Every change is recorded as
// a manage_user audit entry.
type UserService struct {
	db       *gorm.DB
	profiles *ProfileService
	access   *AccessService
	audit    *AuditRecorder
}

func NewUserService(db *gorm.DB, profiles *ProfileService, access *AccessService, audit *AuditRecorder) *UserService {
	return &UserService{db: db, profiles: profiles, access: access, audit: audit}
}

type CreateUserInput struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Role            string `json:"role" binding:"required"`
	BranchIDs       []uint `json:"branch_ids"`
	PrimaryBranchID *uint  `json:"primary_branch_id"`
}

func canManageUsers(c models.Capabilities) bool { return c.CanManageUsers }

// CreateUser creates an account and its profile in one transaction.
func (s *UserService) CreateUser(ctx context.Context, p ProfileContext, in CreateUserInput, meta RequestMeta) (*models.User, error) {
	if err := p.Require("can_manage_users", canManageUsers); err != nil {
		return nil, err
	}

	verr := &ValidationError{}
	username := strings.TrimSpace(in.Username)
	if username == "" || len(username) > 150 {
		verr.add("username", "username is required and must be at most 150 characters")
	}
	if err := utils.ValidatePassword(in.Password); err != nil {
		verr.add("password", err.Error())
	}
	role, err := models.ParseRole(in.Role)
	if err != nil {
		verr.add("role", "select a valid role")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	if err := s.checkGrant(ctx, p, role, in.BranchIDs); err != nil {
		return nil, err
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:  username,
		Password:  hash,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     strings.TrimSpace(in.Email),
		IsActive:  true,
	}

	err = runInTx(ctx, s.db, func(txCtx context.Context) error {
		if err := dbFrom(txCtx, s.db).Omit("Profile").Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &ValidationError{Fields: map[string]string{"username": "a user with that username already exists"}}
			}
			return err
		}
		profile, err := s.profiles.CreateUserProfile(txCtx, user, role, in.BranchIDs, in.PrimaryBranchID)
		if err != nil {
			return err
		}
		user.Profile = profile
		return nil
	})
	if err != nil {
		return nil, err
	}

	auditErr := recordAfter(ctx, s.audit, AuditEntry{
		ActorID: p.UserID,
		Action:  models.AuditManageUser,
		Meta:    meta,
		Details: map[string]any{
			"action":      "create_user",
			"target_user": user.Username,
			"role":        string(role),
		},
	})
	return user, auditErr
}

// ToggleUserStatus flips the active flag of an account. Users cannot disable
// themselves.
func (s *UserService) ToggleUserStatus(ctx context.Context, p ProfileContext, userID uint, meta RequestMeta) (*models.User, error) {
	if userID == p.UserID {
		return nil, &ValidationError{Fields: map[string]string{"user_id": "you cannot change your own status"}}
	}
	target, err := s.manageableUser(ctx, p, userID)
	if err != nil {
		return nil, err
	}

	newStatus := !target.IsActive
	if err := dbFrom(ctx, s.db).Model(target).Update("is_active", newStatus).Error; err != nil {
		return nil, err
	}
	target.IsActive = newStatus

	status := "deactivated"
	if newStatus {
		status = "activated"
	}
	auditErr := recordAfter(ctx, s.audit, AuditEntry{
		ActorID: p.UserID,
		Action:  models.AuditManageUser,
		Meta:    meta,
		Details: map[string]any{
			"action":      "toggle_status",
			"target_user": target.Username,
			"new_status":  status,
		},
	})
	return target, auditErr
}

// UpdateUserRole changes the role of a user's profile.
func (s *UserService) UpdateUserRole(ctx context.Context, p ProfileContext, userID uint, roleValue string, meta RequestMeta) (*models.User, error) {
	role, err := models.ParseRole(roleValue)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"role": "select a valid role"}}
	}
	target, err := s.manageableUser(ctx, p, userID)
	if err != nil {
		return nil, err
	}
	if target.Profile == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNoProfile, target.Username)
	}
	if err := s.checkGrant(ctx, p, role, target.Profile.BranchIDs()); err != nil {
		return nil, err
	}

	oldRole := target.Profile.Role
	if err := dbFrom(ctx, s.db).Model(target.Profile).Update("role", role).Error; err != nil {
		return nil, err
	}
	target.Profile.Role = role

	auditErr := recordAfter(ctx, s.audit, AuditEntry{
		ActorID: p.UserID,
		Action:  models.AuditManageUser,
		Meta:    meta,
		Details: map[string]any{
			"action":      "update_role",
			"target_user": target.Username,
			"old_role":    string(oldRole),
			"new_role":    string(role),
		},
	})
	return target, auditErr
}

// AssignBranches replaces the assigned branch set and primary branch of a
// user's profile.
func (s *UserService) AssignBranches(ctx context.Context, p ProfileContext, userID uint, branchIDs []uint, primaryBranchID *uint, meta RequestMeta) (*models.User, error) {
	target, err := s.manageableUser(ctx, p, userID)
	if err != nil {
		return nil, err
	}
	if target.Profile == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNoProfile, target.Username)
	}
	if err := s.checkGrant(ctx, p, target.Profile.Role, branchIDs); err != nil {
		return nil, err
	}
	if primaryBranchID != nil && !containsID(branchIDs, *primaryBranchID) {
		return nil, &ValidationError{Fields: map[string]string{"primary_branch_id": "primary branch must be one of the assigned branches"}}
	}

	var codes []string
	err = runInTx(ctx, s.db, func(txCtx context.Context) error {
		db := dbFrom(txCtx, s.db)
		branches, err := loadBranches(db, branchIDs)
		if err != nil {
			return err
		}
		if err := db.Model(target.Profile).Association("Branches").Replace(branches); err != nil {
			return err
		}
		if err := db.Model(target.Profile).Update("primary_branch_id", primaryBranchID).Error; err != nil {
			return err
		}
		target.Profile.Branches = branches
		target.Profile.PrimaryBranchID = primaryBranchID
		for _, b := range branches {
			codes = append(codes, b.Code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	auditErr := recordAfter(ctx, s.audit, AuditEntry{
		ActorID: p.UserID,
		Action:  models.AuditManageUser,
		Meta:    meta,
		Details: map[string]any{
			"action":      "assign_branches",
			"target_user": target.Username,
			"branches":    codes,
		},
	})
	return target, auditErr
}

// ListUsers returns the accounts p may manage, newest first.
func (s *UserService) ListUsers(ctx context.Context, p ProfileContext) ([]models.User, error) {
	if err := p.Require("can_manage_users", canManageUsers); err != nil {
		return nil, err
	}
	var users []models.User
	if err := dbFrom(ctx, s.db).Preload("Profile.Branches").Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, err
	}
	if p.IsSystemAdmin() {
		return users, nil
	}

	allowed, err := s.access.AccessibleBranchIDs(ctx, p)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID == p.UserID || (!isAdminUser(&u) && withinBranches(&u, allowed)) {
			out = append(out, u)
		}
	}
	return out, nil
}

// EnsureAdmin creates the bootstrap administrator when no admin profile
// exists yet.
func (s *UserService) EnsureAdmin(ctx context.Context, username, password string) error {
	var count int64
	if err := dbFrom(ctx, s.db).Model(&models.UserProfile{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	return runInTx(ctx, s.db, func(txCtx context.Context) error {
		user := &models.User{Username: username, Password: hash, IsActive: true}
		if err := dbFrom(txCtx, s.db).Omit("Profile").Create(user).Error; err != nil {
			return err
		}
		if _, err := s.profiles.CreateUserProfile(txCtx, user, models.RoleAdmin, nil, nil); err != nil {
			return err
		}
		logger.Info().Str("username", username).Msg("bootstrap administrator created")
		return nil
	})
}

// manageableUser loads userID and checks that p may manage it. System admins
// manage everyone; branch admins manage non-admin users whose branches all
// lie within their own accessible set.
func (s *UserService) manageableUser(ctx context.Context, p ProfileContext, userID uint) (*models.User, error) {
	if err := p.Require("can_manage_users", canManageUsers); err != nil {
		return nil, err
	}
	var user models.User
	if err := dbFrom(ctx, s.db).Preload("Profile.Branches").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, err
	}
	if p.IsSystemAdmin() {
		return &user, nil
	}

	if user.Profile == nil || isAdminUser(&user) {
		return nil, fmt.Errorf("%w: user %s", ErrAccessDenied, user.Username)
	}
	allowed, err := s.access.AccessibleBranchIDs(ctx, p)
	if err != nil {
		return nil, err
	}
	if !withinBranches(&user, allowed) {
		return nil, fmt.Errorf("%w: user %s is outside your branches", ErrAccessDenied, user.Username)
	}
	return &user, nil
}

// checkGrant verifies p may hand out role and branchIDs.
func (s *UserService) checkGrant(ctx context.Context, p ProfileContext, role models.Role, branchIDs []uint) error {
	if p.IsSystemAdmin() {
		return nil
	}
	if role == models.RoleAdmin {
		return fmt.Errorf("%w: only administrators can grant the admin role", ErrAccessDenied)
	}
	allowed, err := s.access.AccessibleBranchIDs(ctx, p)
	if err != nil {
		return err
	}
	for _, id := range branchIDs {
		if _, ok := allowed[id]; !ok {
			return fmt.Errorf("%w: branch %d", ErrAccessDenied, id)
		}
	}
	return nil
}

func isAdminUser(u *models.User) bool {
	return u.Profile != nil && u.Profile.Role == models.RoleAdmin
}

func withinBranches(u *models.User, allowed map[uint]struct{}) bool {
	if u.Profile == nil || len(u.Profile.Branches) == 0 {
		return false
	}
	for _, b := range u.Profile.Branches {
		if _, ok := allowed[b.ID]; !ok {
			return false
		}
	}
	return true
}
