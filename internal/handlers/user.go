package handlers

import (
	"net/http"

	"github.com/dkomics/church-portal/internal/middleware"
	"github.com/dkomics/church-portal/internal/services"
	"github.com/dkomics/church-portal/pkg/response"
	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// List returns the users the caller may manage
// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context(), middleware.GetProfile(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"items": users, "total": len(users)})
}

// Create adds a user together with its profile
// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var in services.CreateUserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.users.CreateUser(c.Request.Context(), middleware.GetProfile(c), in, middleware.RequestMeta(c))
	respond(c, http.StatusCreated, user, err)
}

// ToggleStatus flips the active flag of a user
// POST /api/users/:id/toggle-status
func (h *UserHandler) ToggleStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	user, err := h.users.ToggleUserStatus(c.Request.Context(), middleware.GetProfile(c), id, middleware.RequestMeta(c))
	respond(c, http.StatusOK, user, err)
}

type updateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateRole changes the role of a user
// PUT /api/users/:id/role
func (h *UserHandler) UpdateRole(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.users.UpdateUserRole(c.Request.Context(), middleware.GetProfile(c), id, req.Role, middleware.RequestMeta(c))
	respond(c, http.StatusOK, user, err)
}

type assignBranchesRequest struct {
	BranchIDs       []uint `json:"branch_ids"`
	PrimaryBranchID *uint  `json:"primary_branch_id"`
}

// AssignBranches replaces the branch set of a user
// PUT /api/users/:id/branches
func (h *UserHandler) AssignBranches(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req assignBranchesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, err := h.users.AssignBranches(c.Request.Context(), middleware.GetProfile(c), id, req.BranchIDs, req.PrimaryBranchID, middleware.RequestMeta(c))
	respond(c, http.StatusOK, user, err)
}
