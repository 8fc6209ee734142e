package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/dkomics/church-portal/internal/services"
	"github.com/dkomics/church-portal/internal/utils"
	"github.com/dkomics/church-portal/pkg/logger"
	"github.com/dkomics/church-portal/pkg/response"
	"github.com/gin-gonic/gin"
)

const (
	ContextUserID    = "user_id"
	ContextUsername  = "username"
	ContextRole      = "role"
	ContextSessionID = "session_id"
	ContextProfile   = "profile"
	ContextBranch    = "branch_context"
	ContextBranchID  = "branch_id"
)

// AuthRequired is a middleware that checks for a valid JWT token
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "authorization header required")
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header format")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextSessionID, claims.SessionID)

		c.Next()
	}
}

// SessionChecker reports whether a session was ended by logout.
type SessionChecker interface {
	SessionRevoked(ctx context.Context, sessionID string) (bool, error)
}

// SessionActive rejects tokens whose session was logged out. It runs after
// AuthRequired.
func SessionActive(sessions SessionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := GetSessionID(c)
		revoked, err := sessions.SessionRevoked(c.Request.Context(), sessionID)
		if err != nil {
			logger.Error().Err(err).Str("session_id", sessionID).Msg("session lookup failed")
			response.ServerError(c, "failed to check session")
			c.Abort()
			return
		}
		if revoked {
			response.Unauthorized(c, "session has ended, please log in again")
			c.Abort()
			return
		}
		c.Next()
	}
}

// ProfileRequired resolves the profile of the authenticated user. A user
// without a profile continues with the least privilege context.
func ProfileRequired(profiles *services.ProfileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetUserID(c)
		p, err := profiles.ResolveProfileContext(c.Request.Context(), userID)
		switch {
		case err == nil:
		case errors.Is(err, services.ErrNoProfile):
			logger.Warn().Uint("user_id", userID).Msg("user has no profile, continuing with least privilege")
			p = services.LeastPrivilegeContext(userID, GetUsername(c))
		case errors.Is(err, services.ErrNotFound):
			response.Unauthorized(c, "account no longer exists")
			c.Abort()
			return
		default:
			logger.Error().Err(err).Uint("user_id", userID).Msg("resolve profile failed")
			response.ServerError(c, "failed to load user profile")
			c.Abort()
			return
		}

		c.Set(ContextProfile, p)
		c.Next()
	}
}

// BranchScope loads the active branch of the session. Requests continue with
// no context when the selection is missing, stale or unreadable.
func BranchScope(contexts *services.BranchContextManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		bc, err := contexts.GetContext(c.Request.Context(), GetSessionID(c), GetProfile(c))
		if err != nil {
			logger.Warn().Err(err).Uint("user_id", GetUserID(c)).Msg("branch context unavailable")
			bc = services.NoBranchContext
		}
		c.Set(ContextBranch, bc)
		if id, ok := bc.BranchID(); ok {
			c.Set(ContextBranchID, id)
		}
		c.Next()
	}
}

// AdminRequired is a middleware that checks for a system administrator profile
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetProfile(c).IsSystemAdmin() {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetUserID gets the current user ID from context
func GetUserID(c *gin.Context) uint {
	if id, exists := c.Get(ContextUserID); exists {
		return id.(uint)
	}
	return 0
}

// GetUsername gets the current username from context
func GetUsername(c *gin.Context) string {
	if username, exists := c.Get(ContextUsername); exists {
		return username.(string)
	}
	return ""
}

// GetRole gets the role claimed by the token. Authorization decisions use
// GetProfile instead.
func GetRole(c *gin.Context) string {
	if role, exists := c.Get(ContextRole); exists {
		return role.(string)
	}
	return ""
}

func GetSessionID(c *gin.Context) string {
	if sid, exists := c.Get(ContextSessionID); exists {
		return sid.(string)
	}
	return ""
}

// GetProfile returns the resolved profile, or the least privilege context
// when ProfileRequired did not run.
func GetProfile(c *gin.Context) services.ProfileContext {
	if p, exists := c.Get(ContextProfile); exists {
		return p.(services.ProfileContext)
	}
	return services.LeastPrivilegeContext(GetUserID(c), GetUsername(c))
}

// GetBranchContext returns the branch context set by BranchScope, or none.
func GetBranchContext(c *gin.Context) services.BranchContext {
	if bc, exists := c.Get(ContextBranch); exists {
		return bc.(services.BranchContext)
	}
	return services.NoBranchContext
}

// RequestMeta returns the client address and user agent recorded in audit
// entries. Forwarding headers count only when the peer is a trusted proxy.
func RequestMeta(c *gin.Context) services.RequestMeta {
	return services.RequestMeta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}
