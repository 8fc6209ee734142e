package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dkomics/church-portal/internal/models"
	"gorm.io/gorm"
)

// BranchService administers branches. Only system admins may change them.
type BranchService struct {
	db *gorm.DB
}

func NewBranchService(db *gorm.DB) *BranchService {
	return &BranchService{db: db}
}

type BranchInput struct {
	Name         string `json:"name" binding:"required"`
	Code         string `json:"code" binding:"required"`
	Location     string `json:"location"`
	PastorName   string `json:"pastor_name"`
	ContactPhone string `json:"contact_phone"`
	ContactEmail string `json:"contact_email"`
}

func requireSystemAdmin(p ProfileContext) error {
	if !p.IsSystemAdmin() {
		return fmt.Errorf("%w: administrator required", ErrAccessDenied)
	}
	return nil
}

func (in BranchInput) validate() (*models.Branch, error) {
	verr := &ValidationError{}
	b := &models.Branch{
		Name:         strings.TrimSpace(in.Name),
		Code:         strings.ToUpper(strings.TrimSpace(in.Code)),
		Location:     strings.TrimSpace(in.Location),
		PastorName:   strings.TrimSpace(in.PastorName),
		ContactPhone: strings.TrimSpace(in.ContactPhone),
		ContactEmail: strings.TrimSpace(in.ContactEmail),
		IsActive:     true,
	}
	if b.Name == "" || len(b.Name) > 100 {
		verr.add("name", "name is required and must be at most 100 characters")
	}
	if !models.BranchCodePattern.MatchString(b.Code) {
		verr.add("code", "code must be 2 to 10 uppercase letters")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BranchService) Create(ctx context.Context, p ProfileContext, in BranchInput) (*models.Branch, error) {
	if err := requireSystemAdmin(p); err != nil {
		return nil, err
	}
	branch, err := in.validate()
	if err != nil {
		return nil, err
	}
	if err := dbFrom(ctx, s.db).Create(branch).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, &ValidationError{Fields: map[string]string{"code": "a branch with that name or code already exists"}}
		}
		return nil, err
	}
	return branch, nil
}

// Update edits branch metadata. The code cannot change once a membership id
// embeds it.
func (s *BranchService) Update(ctx context.Context, p ProfileContext, id uint, in BranchInput) (*models.Branch, error) {
	if err := requireSystemAdmin(p); err != nil {
		return nil, err
	}
	next, err := in.validate()
	if err != nil {
		return nil, err
	}

	var branch models.Branch
	err = runInTx(ctx, s.db, func(txCtx context.Context) error {
		db := dbFrom(txCtx, s.db)
		if err := db.First(&branch, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: branch %d", ErrNotFound, id)
			}
			return err
		}
		if next.Code != branch.Code {
			used, err := s.codeInUse(db, branch.Code)
			if err != nil {
				return err
			}
			if used {
				return &ValidationError{Fields: map[string]string{"code": "code is part of issued membership ids and cannot change"}}
			}
		}
		err := db.Model(&branch).Updates(map[string]any{
			"name":          next.Name,
			"code":          next.Code,
			"location":      next.Location,
			"pastor_name":   next.PastorName,
			"contact_phone": next.ContactPhone,
			"contact_email": next.ContactEmail,
		}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &ValidationError{Fields: map[string]string{"code": "a branch with that name or code already exists"}}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

// codeInUse reports whether a member holds an identifier built from code.
func (s *BranchService) codeInUse(db *gorm.DB, code string) (bool, error) {
	var count int64
	err := db.Model(&models.Member{}).
		Where("membership_id LIKE ? AND LENGTH(membership_id) = ?", code+"%", len(code)+8).
		Count(&count).Error
	return count > 0, err
}

// SetActive activates or deactivates a branch. Branches are never deleted.
func (s *BranchService) SetActive(ctx context.Context, p ProfileContext, id uint, active bool) (*models.Branch, error) {
	if err := requireSystemAdmin(p); err != nil {
		return nil, err
	}
	var branch models.Branch
	if err := dbFrom(ctx, s.db).First(&branch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: branch %d", ErrNotFound, id)
		}
		return nil, err
	}
	if err := dbFrom(ctx, s.db).Model(&branch).Update("is_active", active).Error; err != nil {
		return nil, err
	}
	branch.IsActive = active
	return &branch, nil
}

// List returns every branch, inactive ones included, for administration.
func (s *BranchService) List(ctx context.Context, p ProfileContext) ([]models.Branch, error) {
	if err := requireSystemAdmin(p); err != nil {
		return nil, err
	}
	var branches []models.Branch
	if err := dbFrom(ctx, s.db).Order("name ASC").Find(&branches).Error; err != nil {
		return nil, err
	}
	return branches, nil
}
