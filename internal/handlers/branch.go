package handlers

import (
	"net/http"

	"github.com/dkomics/church-portal/internal/middleware"
	"github.com/dkomics/church-portal/internal/services"
	"github.com/dkomics/church-portal/pkg/response"
	"github.com/gin-gonic/gin"
)

type BranchHandler struct {
	branches *services.BranchService
}

func NewBranchHandler(branches *services.BranchService) *BranchHandler {
	return &BranchHandler{branches: branches}
}

// List returns every branch, inactive ones included
// GET /api/admin/branches
func (h *BranchHandler) List(c *gin.Context) {
	branches, err := h.branches.List(c.Request.Context(), middleware.GetProfile(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, branches)
}

// Create adds a branch
// POST /api/admin/branches
func (h *BranchHandler) Create(c *gin.Context) {
	var in services.BranchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	branch, err := h.branches.Create(c.Request.Context(), middleware.GetProfile(c), in)
	respond(c, http.StatusCreated, branch, err)
}

// Update edits a branch; the code is frozen once members carry it
// PUT /api/admin/branches/:id
func (h *BranchHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in services.BranchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	branch, err := h.branches.Update(c.Request.Context(), middleware.GetProfile(c), id, in)
	respond(c, http.StatusOK, branch, err)
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// SetActive activates or deactivates a branch
// PUT /api/admin/branches/:id/active
func (h *BranchHandler) SetActive(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	branch, err := h.branches.SetActive(c.Request.Context(), middleware.GetProfile(c), id, *req.IsActive)
	respond(c, http.StatusOK, branch, err)
}
