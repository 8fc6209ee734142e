package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/pkg/logger"
	"github.com/dkomics/church-portal/pkg/metrics"
	"gorm.io/gorm"
)

// SessionKeySelectedBranch is the session value holding the active branch id.
const SessionKeySelectedBranch = "selected_branch_id"

// BranchContext is the active branch of one session. The zero value means no
// context, and every scoped read made with it returns nothing.
type BranchContext struct {
	Branch *models.Branch
}

// NoBranchContext is the explicit empty context.
var NoBranchContext = BranchContext{}

func (c BranchContext) Present() bool { return c.Branch != nil }

func (c BranchContext) BranchID() (uint, bool) {
	if c.Branch == nil {
		return 0, false
	}
	return c.Branch.ID, true
}

// BranchContextManager selects, validates and clears the active branch of a
// session.
type BranchContextManager struct {
	db     *gorm.DB
	access *AccessService
	store  SessionStore
}

func NewBranchContextManager(db *gorm.DB, access *AccessService, store SessionStore) *BranchContextManager {
	return &BranchContextManager{db: db, access: access, store: store}
}

// SetContext makes branchID the active branch of sessionID. It fails with
// ErrAccessDenied, leaving the session untouched, unless the branch is active
// and accessible to p.
func (m *BranchContextManager) SetContext(ctx context.Context, sessionID string, p ProfileContext, branchID uint) (BranchContext, error) {
	ok, err := m.access.CanAccessBranch(ctx, p, branchID)
	if err != nil {
		return NoBranchContext, err
	}
	if !ok {
		return NoBranchContext, fmt.Errorf("%w: branch %d", ErrAccessDenied, branchID)
	}

	branch, err := m.activeBranch(ctx, branchID)
	if err != nil {
		if errors.Is(err, ErrInvalidBranchContext) {
			return NoBranchContext, fmt.Errorf("%w: branch %d", ErrAccessDenied, branchID)
		}
		return NoBranchContext, err
	}

	if err := m.store.Set(ctx, sessionID, SessionKeySelectedBranch, strconv.FormatUint(uint64(branchID), 10)); err != nil {
		return NoBranchContext, err
	}
	return BranchContext{Branch: branch}, nil
}

// GetContext returns the active branch of sessionID after re-checking that it
// still exists, is active and is accessible to p. A selection that fails any
// check is cleared and NoBranchContext is returned; a stale branch is never
// surfaced. Store errors also yield NoBranchContext alongside the error.
func (m *BranchContextManager) GetContext(ctx context.Context, sessionID string, p ProfileContext) (BranchContext, error) {
	raw, found, err := m.store.Get(ctx, sessionID, SessionKeySelectedBranch)
	if err != nil {
		return NoBranchContext, err
	}
	if !found {
		return NoBranchContext, nil
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return NoBranchContext, m.invalidate(ctx, sessionID, p, fmt.Errorf("%w: malformed value %q", ErrInvalidBranchContext, raw))
	}
	branchID := uint(id)

	branch, err := m.activeBranch(ctx, branchID)
	if err != nil {
		if errors.Is(err, ErrInvalidBranchContext) {
			return NoBranchContext, m.invalidate(ctx, sessionID, p, err)
		}
		return NoBranchContext, err
	}

	ok, err := m.access.CanAccessBranch(ctx, p, branchID)
	if err != nil {
		return NoBranchContext, err
	}
	if !ok {
		return NoBranchContext, m.invalidate(ctx, sessionID, p, fmt.Errorf("%w: branch %d no longer accessible", ErrInvalidBranchContext, branchID))
	}
	return BranchContext{Branch: branch}, nil
}

// ClearContext removes the selection of sessionID unconditionally.
func (m *BranchContextManager) ClearContext(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, sessionID, SessionKeySelectedBranch)
}

// ListUserBranchOptions returns the active branches p may select. It only
// feeds a selector and grants nothing by itself.
func (m *BranchContextManager) ListUserBranchOptions(ctx context.Context, p ProfileContext) ([]models.Branch, error) {
	return m.access.AccessibleBranches(ctx, p)
}

// invalidate clears a selection that failed validation. The cause is logged,
// not returned: a bad selection degrades to no context.
func (m *BranchContextManager) invalidate(ctx context.Context, sessionID string, p ProfileContext, cause error) error {
	metrics.BranchContextCleared.Inc()
	logger.Info().
		Str("session", shortSession(sessionID)).
		Uint("user_id", p.UserID).
		Err(cause).
		Msg("branch context cleared")
	return m.ClearContext(ctx, sessionID)
}

func (m *BranchContextManager) activeBranch(ctx context.Context, id uint) (*models.Branch, error) {
	var branch models.Branch
	err := dbFrom(ctx, m.db).Where("id = ? AND is_active = ?", id, true).First(&branch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: branch %d missing or inactive", ErrInvalidBranchContext, id)
	}
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
