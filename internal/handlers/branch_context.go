package handlers

import (
	"github.com/dkomics/church-portal/internal/middleware"
	"github.com/dkomics/church-portal/internal/services"
	"github.com/dkomics/church-portal/pkg/response"
	"github.com/gin-gonic/gin"
)

// BranchContextHandler lets a user pick the branch their session works in.
type BranchContextHandler struct {
	contexts *services.BranchContextManager
}

func NewBranchContextHandler(contexts *services.BranchContextManager) *BranchContextHandler {
	return &BranchContextHandler{contexts: contexts}
}

// Options lists the branches the user may select
// GET /api/branch-context/options
func (h *BranchContextHandler) Options(c *gin.Context) {
	branches, err := h.contexts.ListUserBranchOptions(c.Request.Context(), middleware.GetProfile(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, branches)
}

// Current returns the active branch, or null
// GET /api/branch-context
func (h *BranchContextHandler) Current(c *gin.Context) {
	response.Success(c, gin.H{"branch": middleware.GetBranchContext(c).Branch})
}

type selectBranchRequest struct {
	BranchID uint `json:"branch_id" binding:"required"`
}

// Select makes a branch the active context of the session
// POST /api/branch-context
func (h *BranchContextHandler) Select(c *gin.Context) {
	var req selectBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	bc, err := h.contexts.SetContext(c.Request.Context(), middleware.GetSessionID(c), middleware.GetProfile(c), req.BranchID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"branch": bc.Branch})
}

// Clear removes the active context
// DELETE /api/branch-context
func (h *BranchContextHandler) Clear(c *gin.Context) {
	if err := h.contexts.ClearContext(c.Request.Context(), middleware.GetSessionID(c)); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"branch": nil})
}
