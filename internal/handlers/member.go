package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dkomics/church-portal/internal/middleware"
	"github.com/dkomics/church-portal/internal/services"
	"github.com/dkomics/church-portal/pkg/response"
	"github.com/gin-gonic/gin"
)

type MemberHandler struct {
	members *services.MemberService
}

func NewMemberHandler(members *services.MemberService) *MemberHandler {
	return &MemberHandler{members: members}
}

// Directory lists the members of the active branch
// GET /api/members
func (h *MemberHandler) Directory(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "25"))

	result, err := h.members.Directory(c.Request.Context(), middleware.GetProfile(c), middleware.GetBranchContext(c), services.DirectoryQuery{
		Search:   c.Query("search"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}

// Register creates a member and allocates its membership number
// POST /api/members
func (h *MemberHandler) Register(c *gin.Context) {
	var in services.MemberInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	member, err := h.members.Register(c.Request.Context(), middleware.GetProfile(c), middleware.GetBranchContext(c), in, middleware.RequestMeta(c))
	respond(c, http.StatusCreated, member, err)
}

// Get returns one member reduced to the fields the caller may see
// GET /api/members/:id
func (h *MemberHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	view, err := h.members.Get(c.Request.Context(), middleware.GetProfile(c), id, middleware.RequestMeta(c))
	respond(c, http.StatusOK, view, err)
}

// Update edits a member
// PUT /api/members/:id
func (h *MemberHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var in services.MemberInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	member, err := h.members.Update(c.Request.Context(), middleware.GetProfile(c), id, in, middleware.RequestMeta(c))
	respond(c, http.StatusOK, member, err)
}

// Export downloads the members of the active branch as CSV
// GET /api/members/export
func (h *MemberHandler) Export(c *gin.Context) {
	var buf bytes.Buffer
	_, err := h.members.Export(c.Request.Context(), middleware.GetProfile(c), middleware.GetBranchContext(c), &buf, middleware.RequestMeta(c))
	if err != nil && !errors.Is(err, services.ErrAuditWrite) {
		respondError(c, err)
		return
	}

	// Without a context the export holds only the header row.
	branch := "none"
	if bc := middleware.GetBranchContext(c); bc.Present() {
		branch = bc.Branch.Code
	}
	filename := fmt.Sprintf("members_%s_%s.csv", branch, time.Now().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err != nil {
		c.Header("X-Audit-Warning", auditWarning)
	}
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// Stats summarizes the active branch
// GET /api/members/stats
func (h *MemberHandler) Stats(c *gin.Context) {
	stats, err := h.members.BranchStats(c.Request.Context(), middleware.GetProfile(c), middleware.GetBranchContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, stats)
}
