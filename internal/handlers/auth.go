package handlers

import (
	"net/http"

	"github.com/dkomics/church-portal/internal/middleware"
	"github.com/dkomics/church-portal/internal/services"
	"github.com/dkomics/church-portal/pkg/response"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Login handles user login
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Login(c.Request.Context(), &req, middleware.RequestMeta(c))
	respond(c, http.StatusOK, result, err)
}

// GetCurrentUser returns the current user with profile and branch context
// GET /api/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.authService.CurrentUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	payload := gin.H{
		"user":    user,
		"profile": services.SummarizeProfile(middleware.GetProfile(c)),
	}
	if bc := middleware.GetBranchContext(c); bc.Present() {
		payload["branch"] = bc.Branch
	}
	response.Success(c, payload)
}

// Logout ends the session and drops its branch context
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	err := h.authService.Logout(c.Request.Context(), middleware.GetUserID(c), middleware.GetSessionID(c), middleware.RequestMeta(c))
	respond(c, http.StatusOK, gin.H{"message": "logged out successfully"}, err)
}
