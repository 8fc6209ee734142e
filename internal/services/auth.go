package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkomics/church-portal/internal/config"
	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/internal/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
	profiles  *ProfileService
	contexts  *BranchContextManager
	sessions  SessionStore
	audit     *AuditRecorder
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig, profiles *ProfileService, contexts *BranchContextManager, sessions SessionStore, audit *AuditRecorder) *AuthService {
	return &AuthService{
		db:        db,
		jwtConfig: jwtCfg,
		profiles:  profiles,
		contexts:  contexts,
		sessions:  sessions,
		audit:     audit,
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	Token     string         `json:"token"`
	ExpireAt  time.Time      `json:"expire_at"`
	SessionID string         `json:"-"`
	User      *models.User   `json:"user"`
	Profile   ProfileSummary `json:"profile"`
}

// ProfileSummary is the part of a ProfileContext exposed to clients.
type ProfileSummary struct {
	Role            models.Role         `json:"role"`
	RoleLabel       string              `json:"role_label"`
	Capabilities    models.Capabilities `json:"capabilities"`
	BranchIDs       []uint              `json:"branch_ids"`
	PrimaryBranchID *uint               `json:"primary_branch_id"`
	Restricted      bool                `json:"restricted"`
}

func SummarizeProfile(p ProfileContext) ProfileSummary {
	return ProfileSummary{
		Role:            p.Role,
		RoleLabel:       p.Role.Label(),
		Capabilities:    p.Capabilities,
		BranchIDs:       p.BranchIDs,
		PrimaryBranchID: p.PrimaryBranchID,
		Restricted:      p.LeastPrivilege || !p.Active,
	}
}

// Login verifies credentials and opens a new session. The token carries the
// session id that keys the branch context. When the user has a primary branch
// it becomes the initial context.
func (s *AuthService) Login(ctx context.Context, req *LoginRequest, meta RequestMeta) (*LoginResult, error) {
	var user models.User
	err := dbFrom(ctx, s.db).Where("username = ?", req.Username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	profile, err := s.profiles.ResolveProfileContext(ctx, user.ID)
	if errors.Is(err, ErrNoProfile) {
		profile = LeastPrivilegeContext(user.ID, user.Username)
	} else if err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	token, err := utils.GenerateToken(user.ID, user.Username, string(profile.Role), sessionID, s.jwtConfig.ExpireHour)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user.LastLogin = &now
	if err := dbFrom(ctx, s.db).Model(&user).Update("last_login", now).Error; err != nil {
		return nil, err
	}

	if profile.PrimaryBranchID != nil {
		if _, err := s.contexts.SetContext(ctx, sessionID, profile, *profile.PrimaryBranchID); err != nil && !errors.Is(err, ErrAccessDenied) {
			return nil, err
		}
	}

	result := &LoginResult{
		Token:     token,
		ExpireAt:  now.Add(time.Duration(s.jwtConfig.ExpireHour) * time.Hour),
		SessionID: sessionID,
		User:      &user,
		Profile:   SummarizeProfile(profile),
	}
	auditErr := recordAfter(ctx, s.audit, AuditEntry{
		ActorID: user.ID,
		Action:  models.AuditLogin,
		Meta:    meta,
		Details: map[string]any{"login_method": "username_password"},
	})
	return result, auditErr
}

// sessionRevokedKey marks a session ended by logout. It lives in the session
// store, whose TTL is never shorter than the token lifetime.
const sessionRevokedKey = "revoked"

// Logout drops every value of the session, including its branch context, and
// marks the session revoked so its token stops working.
func (s *AuthService) Logout(ctx context.Context, userID uint, sessionID string, meta RequestMeta) error {
	if err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	if err := s.sessions.Set(ctx, sessionID, sessionRevokedKey, "1"); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return recordAfter(ctx, s.audit, AuditEntry{
		ActorID: userID,
		Action:  models.AuditLogout,
		Meta:    meta,
	})
}

// SessionRevoked reports whether sessionID was ended by Logout.
func (s *AuthService) SessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	_, revoked, err := s.sessions.Get(ctx, sessionID, sessionRevokedKey)
	return revoked, err
}

// CurrentUser returns the account behind a session.
func (s *AuthService) CurrentUser(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	if err := dbFrom(ctx, s.db).Preload("Profile.Branches").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, err
	}
	return &user, nil
}
