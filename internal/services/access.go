package services

import (
	"context"

	"github.com/dkomics/church-portal/internal/models"
	"gorm.io/gorm"
)

// AccessService derives which branches and members a profile may see.
type AccessService struct {
	db *gorm.DB
}

func NewAccessService(db *gorm.DB) *AccessService {
	return &AccessService{db: db}
}

// AccessibleBranches returns the active branches visible to p, ordered by name.
// System admins see every active branch; everyone else sees the assigned
// branches that are still active. Inactive profiles see nothing.
func (s *AccessService) AccessibleBranches(ctx context.Context, p ProfileContext) ([]models.Branch, error) {
	if !p.Active {
		return []models.Branch{}, nil
	}
	query := dbFrom(ctx, s.db).Where("is_active = ?", true)
	if !p.IsSystemAdmin() {
		if len(p.BranchIDs) == 0 {
			return []models.Branch{}, nil
		}
		query = query.Where("id IN ?", p.BranchIDs)
	}

	var branches []models.Branch
	if err := query.Order("name ASC").Find(&branches).Error; err != nil {
		return nil, err
	}
	return branches, nil
}

// AccessibleBranchIDs is AccessibleBranches reduced to a set of ids.
func (s *AccessService) AccessibleBranchIDs(ctx context.Context, p ProfileContext) (map[uint]struct{}, error) {
	branches, err := s.AccessibleBranches(ctx, p)
	if err != nil {
		return nil, err
	}
	ids := make(map[uint]struct{}, len(branches))
	for _, b := range branches {
		ids[b.ID] = struct{}{}
	}
	return ids, nil
}

// CanAccessBranch reports whether branchID is active and visible to p.
func (s *AccessService) CanAccessBranch(ctx context.Context, p ProfileContext, branchID uint) (bool, error) {
	if !p.Active {
		return false, nil
	}
	if !p.IsSystemAdmin() && !p.hasBranch(branchID) {
		return false, nil
	}
	var count int64
	err := dbFrom(ctx, s.db).Model(&models.Branch{}).
		Where("id = ? AND is_active = ?", branchID, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AccessibleMembers returns the member filter of p, computed once from the
// accessible branch set.
func (s *AccessService) AccessibleMembers(ctx context.Context, p ProfileContext) (MemberFilter, error) {
	ids, err := s.AccessibleBranchIDs(ctx, p)
	if err != nil {
		return MemberFilter{}, err
	}
	return MemberFilter{branchIDs: ids}, nil
}

// MemberFilter admits members whose branch is in a fixed set. The zero value
// admits nothing.
type MemberFilter struct {
	branchIDs map[uint]struct{}
}

// Allows reports whether m is visible. Members without a branch are never
// visible through a filter.
func (f MemberFilter) Allows(m *models.Member) bool {
	if m == nil || m.BranchID == nil {
		return false
	}
	_, ok := f.branchIDs[*m.BranchID]
	return ok
}

// Scope restricts a members query to the admitted branches.
func (f MemberFilter) Scope(db *gorm.DB) *gorm.DB {
	if len(f.branchIDs) == 0 {
		return db.Where("1 = 0")
	}
	ids := make([]uint, 0, len(f.branchIDs))
	for id := range f.branchIDs {
		ids = append(ids, id)
	}
	return db.Where("branch_id IN ?", ids)
}

// BranchOwned is implemented by records that belong to one branch.
type BranchOwned interface {
	OwningBranchID() (uint, bool)
}

// FilterByContext keeps the items of the context branch. Without a context
// the result is empty, never the full collection.
func FilterByContext[T BranchOwned](items []T, bc BranchContext) []T {
	out := make([]T, 0)
	id, ok := bc.BranchID()
	if !ok {
		return out
	}
	for _, it := range items {
		if bid, has := it.OwningBranchID(); has && bid == id {
			out = append(out, it)
		}
	}
	return out
}

// ScopeByContext is FilterByContext as a gorm scope over a table with a
// branch_id column.
func ScopeByContext(bc BranchContext) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		id, ok := bc.BranchID()
		if !ok {
			return db.Where("1 = 0")
		}
		return db.Where("branch_id = ?", id)
	}
}
