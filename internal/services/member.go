package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Fields a secretary sees; roles that may view full details see every field,
// everyone else sees limitedMemberFields.
var (
	contactMemberFields = []string{
		"id", "full_name", "gender", "phone", "email", "address",
		"membership_type", "registration_date", "membership_id", "branch_id",
	}
	limitedMemberFields = []string{"id", "full_name", "membership_type"}
)

// VisibleMemberFields returns the member fields p may read; nil means all.
func VisibleMemberFields(p ProfileContext) []string {
	switch {
	case p.Active && p.Capabilities.CanViewFullDetails:
		return nil
	case p.Active && p.Capabilities.CanViewDirectory:
		return contactMemberFields
	default:
		return limitedMemberFields
	}
}

// MemberView is a member reduced to the fields visible to one profile.
type MemberView map[string]any

func viewOf(m *models.Member, fields []string) (MemberView, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}
	delete(all, "branch")
	if fields == nil {
		return all, nil
	}
	view := make(MemberView, len(fields))
	for _, f := range fields {
		if v, ok := all[f]; ok {
			view[f] = v
		}
	}
	return view, nil
}

type MemberService struct {
	db        *gorm.DB
	access    *AccessService
	allocator *MembershipIDAllocator
	audit     *AuditRecorder
	queue     TaskQueue
	now       func() time.Time
}

func NewMemberService(db *gorm.DB, access *AccessService, allocator *MembershipIDAllocator, audit *AuditRecorder, queue TaskQueue) *MemberService {
	return &MemberService{
		db:        db,
		access:    access,
		allocator: allocator,
		audit:     audit,
		queue:     queue,
		now:       time.Now,
	}
}

func canRegister(c models.Capabilities) bool { return c.CanRegisterMembers }

func canViewDirectory(c models.Capabilities) bool { return c.CanViewDirectory }

func canExport(c models.Capabilities) bool { return c.CanExportData }

// Register validates in, allocates the membership identifier and stores the
// member in one transaction. The branch is in.BranchID when given and
// accessible, else the active branch context. Only system admins may register
// a member without a branch; such members receive a TEMP identifier.
//
// When the member is stored but the audit write fails, the member is returned
// together with an ErrAuditWrite error.
func (s *MemberService) Register(ctx context.Context, p ProfileContext, bc BranchContext, in MemberInput, meta RequestMeta) (*models.Member, error) {
	if err := p.Require("can_register_members", canRegister); err != nil {
		return nil, err
	}

	branch, err := s.targetBranch(ctx, p, bc, in.BranchID)
	if err != nil {
		return nil, err
	}

	member, err := buildMember(in, s.now())
	if err != nil {
		return nil, err
	}
	member.RegisteredBy = p.UserID
	if branch != nil {
		member.BranchID = &branch.ID
	}

	_, err = s.allocator.AllocateAndPersist(ctx, branch, member.RegistrationDate.Year(), func(txCtx context.Context, id string) error {
		member.ID = 0
		member.MembershipID = &id
		return dbFrom(txCtx, s.db).Omit("Branch").Create(member).Error
	})
	if err != nil {
		return nil, err
	}
	member.Branch = branch

	details := map[string]any{"membership_type": member.MembershipType}
	if branch != nil {
		details["branch_code"] = branch.Code
	} else {
		details["temporary_id"] = true
	}
	auditErr := recordAfter(ctx, s.audit, AuditEntry{
		ActorID:        p.UserID,
		Action:         models.AuditRegisterMember,
		TargetMemberID: *member.MembershipID,
		Meta:           meta,
		Details:        details,
	})
	return member, auditErr
}

// targetBranch resolves where a new or moved member goes.
func (s *MemberService) targetBranch(ctx context.Context, p ProfileContext, bc BranchContext, explicit *uint) (*models.Branch, error) {
	if explicit != nil {
		ok, err := s.access.CanAccessBranch(ctx, p, *explicit)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: branch %d", ErrAccessDenied, *explicit)
		}
		var branch models.Branch
		if err := dbFrom(ctx, s.db).First(&branch, *explicit).Error; err != nil {
			return nil, err
		}
		return &branch, nil
	}
	if bc.Present() {
		return bc.Branch, nil
	}
	if p.IsSystemAdmin() {
		return nil, nil
	}
	return nil, &ValidationError{Fields: map[string]string{"branch_id": "select a branch before registering members"}}
}

// Get returns the member with id reduced to the fields visible to p, and
// records the view.
func (s *MemberService) Get(ctx context.Context, p ProfileContext, id uint, meta RequestMeta) (MemberView, error) {
	member, err := s.visibleMember(ctx, p, id)
	if err != nil {
		return nil, err
	}
	view, err := viewOf(member, VisibleMemberFields(p))
	if err != nil {
		return nil, err
	}
	auditErr := recordAfter(ctx, s.audit, AuditEntry{
		ActorID:        p.UserID,
		Action:         models.AuditViewMember,
		TargetMemberID: membershipIDOf(member),
		Meta:           meta,
	})
	return view, auditErr
}

// visibleMember loads a member and checks that p may see it. Members without
// a branch are visible to system admins only. A member outside p's branches
// is reported as not found.
func (s *MemberService) visibleMember(ctx context.Context, p ProfileContext, id uint) (*models.Member, error) {
	var member models.Member
	if err := dbFrom(ctx, s.db).Preload("Branch").First(&member, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: member %d", ErrNotFound, id)
		}
		return nil, err
	}
	if member.BranchID == nil {
		if p.IsSystemAdmin() {
			return &member, nil
		}
		return nil, fmt.Errorf("%w: member %d", ErrNotFound, id)
	}
	filter, err := s.access.AccessibleMembers(ctx, p)
	if err != nil {
		return nil, err
	}
	if !filter.Allows(&member) {
		return nil, fmt.Errorf("%w: member %d", ErrNotFound, id)
	}
	return &member, nil
}

// Update rewrites the editable fields of a member. The membership identifier
// is never changed here. Moving a TEMP member into a branch queues its
// reconciliation.
func (s *MemberService) Update(ctx context.Context, p ProfileContext, id uint, in MemberInput, meta RequestMeta) (*models.Member, error) {
	if err := p.Require("can_register_members", canRegister); err != nil {
		return nil, err
	}
	member, err := s.visibleMember(ctx, p, id)
	if err != nil {
		return nil, err
	}

	if in.RegistrationDate == "" {
		in.RegistrationDate = member.RegistrationDate.Format(dateLayout)
	}
	next, err := buildMember(in, s.now())
	if err != nil {
		return nil, err
	}
	next.BranchID = member.BranchID
	if in.BranchID != nil && (member.BranchID == nil || *in.BranchID != *member.BranchID) {
		ok, err := s.access.CanAccessBranch(ctx, p, *in.BranchID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: branch %d", ErrAccessDenied, *in.BranchID)
		}
		next.BranchID = in.BranchID
	}

	changes := diffMember(member, next)
	if len(changes) == 0 {
		return member, nil
	}
	changed := make([]string, 0, len(changes))
	for k := range changes {
		changed = append(changed, k)
	}
	sort.Strings(changed)

	// The preloaded Branch must not be saved back with the member.
	if err := dbFrom(ctx, s.db).Model(&models.Member{ID: member.ID}).
		Omit(clause.Associations).
		Updates(changes).Error; err != nil {
		return nil, err
	}
	if err := dbFrom(ctx, s.db).Preload("Branch").First(member, id).Error; err != nil {
		return nil, err
	}

	if member.HasTemporaryID() && member.BranchID != nil && s.queue != nil {
		if err := s.queue.Enqueue(&ReconcileTask{MemberID: member.ID, TemporaryID: *member.MembershipID, RequestedBy: p.UserID}); err != nil {
			logger.Error().Err(err).Uint("member_id", member.ID).Msg("enqueue reconcile task failed")
		}
	}

	auditErr := recordAfter(ctx, s.audit, AuditEntry{
		ActorID:        p.UserID,
		Action:         models.AuditUpdateMember,
		TargetMemberID: membershipIDOf(member),
		Meta:           meta,
		Details:        map[string]any{"changed_fields": changed},
	})
	return member, auditErr
}

// diffMember returns column -> new value for every editable field that differs.
func diffMember(old, next *models.Member) map[string]any {
	changes := map[string]any{}
	str := func(col, a, b string) {
		if a != b {
			changes[col] = b
		}
	}
	date := func(col string, a, b *time.Time) {
		if (a == nil) != (b == nil) || (a != nil && !a.Equal(*b)) {
			changes[col] = b
		}
	}
	str("full_name", old.FullName, next.FullName)
	str("gender", old.Gender, next.Gender)
	str("age_category", old.AgeCategory, next.AgeCategory)
	str("marital_status", old.MaritalStatus, next.MaritalStatus)
	str("phone", old.Phone, next.Phone)
	str("email", old.Email, next.Email)
	str("address", old.Address, next.Address)
	str("baptized", old.Baptized, next.Baptized)
	str("membership_class", old.MembershipClass, next.MembershipClass)
	str("previous_church", old.PreviousChurch, next.PreviousChurch)
	str("emergency_name", old.EmergencyName, next.EmergencyName)
	str("emergency_relation", old.EmergencyRelation, next.EmergencyRelation)
	str("emergency_phone", old.EmergencyPhone, next.EmergencyPhone)
	str("membership_type", old.MembershipType, next.MembershipType)
	date("dob", old.DateOfBirth, next.DateOfBirth)
	date("salvation_date", old.SalvationDate, next.SalvationDate)
	date("baptism_date", old.BaptismDate, next.BaptismDate)
	if !old.RegistrationDate.Equal(next.RegistrationDate) {
		changes["registration_date"] = next.RegistrationDate
	}
	if (old.BranchID == nil) != (next.BranchID == nil) || (old.BranchID != nil && *old.BranchID != *next.BranchID) {
		changes["branch_id"] = next.BranchID
	}
	return changes
}

// likeEscaper quotes LIKE wildcards in user input. '!' is used as the escape
// character since sqlite, mysql and postgres all read it the same way.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

type DirectoryQuery struct {
	Search   string
	Page     int
	PageSize int
}

type DirectoryPage struct {
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Items    []MemberView `json:"items"`
}

// Directory lists the members of the context branch. Without a context the
// page is empty.
func (s *MemberService) Directory(ctx context.Context, p ProfileContext, bc BranchContext, q DirectoryQuery) (*DirectoryPage, error) {
	if err := p.Require("can_view_directory", canViewDirectory); err != nil {
		return nil, err
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 25
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}

	filter, err := s.access.AccessibleMembers(ctx, p)
	if err != nil {
		return nil, err
	}
	query := dbFrom(ctx, s.db).Model(&models.Member{}).
		Scopes(ScopeByContext(bc), filter.Scope)
	if q.Search != "" {
		like := "%" + likeEscaper.Replace(q.Search) + "%"
		query = query.Where("full_name LIKE ? ESCAPE '!' OR membership_id LIKE ? ESCAPE '!' OR phone LIKE ? ESCAPE '!'", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}
	var members []models.Member
	if err := query.Order("full_name ASC").Offset((q.Page - 1) * q.PageSize).Limit(q.PageSize).Find(&members).Error; err != nil {
		return nil, err
	}

	fields := VisibleMemberFields(p)
	items := make([]MemberView, 0, len(members))
	for i := range members {
		v, err := viewOf(&members[i], fields)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return &DirectoryPage{Total: total, Page: q.Page, PageSize: q.PageSize, Items: items}, nil
}

var exportColumns = []string{
	"membership_id", "full_name", "gender", "age_category", "dob", "marital_status",
	"phone", "email", "address", "salvation_date", "baptized", "baptism_date",
	"membership_class", "previous_church", "emergency_name", "emergency_relation",
	"emergency_phone", "membership_type", "registration_date",
}

// Export writes the members of the context branch as CSV, limited to the
// columns visible to p, and returns the number of rows. Without a context
// only the header is written.
func (s *MemberService) Export(ctx context.Context, p ProfileContext, bc BranchContext, w io.Writer, meta RequestMeta) (int, error) {
	if err := p.Require("can_export_data", canExport); err != nil {
		return 0, err
	}
	filter, err := s.access.AccessibleMembers(ctx, p)
	if err != nil {
		return 0, err
	}

	columns := exportColumns
	if visible := VisibleMemberFields(p); visible != nil {
		columns = intersect(exportColumns, visible)
	}

	var members []models.Member
	err = dbFrom(ctx, s.db).Scopes(ScopeByContext(bc), filter.Scope).
		Order("membership_id ASC").Find(&members).Error
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return 0, err
	}
	for i := range members {
		row := exportRow(&members[i], columns)
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}

	details := map[string]any{"rows": len(members), "format": "csv"}
	if id, ok := bc.BranchID(); ok {
		details["branch_id"] = id
	}
	auditErr := recordAfter(ctx, s.audit, AuditEntry{
		ActorID: p.UserID,
		Action:  models.AuditExportData,
		Meta:    meta,
		Details: details,
	})
	return len(members), auditErr
}

func exportRow(m *models.Member, columns []string) []string {
	date := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(dateLayout)
	}
	values := map[string]string{
		"membership_id":      membershipIDOf(m),
		"full_name":          m.FullName,
		"gender":             m.Gender,
		"age_category":       m.AgeCategory,
		"dob":                date(m.DateOfBirth),
		"marital_status":     m.MaritalStatus,
		"phone":              m.Phone,
		"email":              m.Email,
		"address":            m.Address,
		"salvation_date":     date(m.SalvationDate),
		"baptized":           m.Baptized,
		"baptism_date":       date(m.BaptismDate),
		"membership_class":   m.MembershipClass,
		"previous_church":    m.PreviousChurch,
		"emergency_name":     m.EmergencyName,
		"emergency_relation": m.EmergencyRelation,
		"emergency_phone":    m.EmergencyPhone,
		"membership_type":    m.MembershipType,
		"registration_date":  m.RegistrationDate.Format(dateLayout),
	}
	row := make([]string, len(columns))
	for i, c := range columns {
		row[i] = values[c]
	}
	return row
}

// MemberStats summarizes the members of the context branch.
type MemberStats struct {
	TotalMembers             int64 `json:"total_members"`
	NewMembersThisMonth      int64 `json:"new_members_this_month"`
	BaptizedMembers          int64 `json:"baptized_members"`
	MembershipClassCompleted int64 `json:"membership_class_completed"`
}

// BranchStats needs the directory capability. It returns zeroes when there is
// no context.
func (s *MemberService) BranchStats(ctx context.Context, p ProfileContext, bc BranchContext) (MemberStats, error) {
	var stats MemberStats
	if err := p.Require("can_view_directory", canViewDirectory); err != nil {
		return stats, err
	}
	if !bc.Present() {
		return stats, nil
	}
	base := func() *gorm.DB {
		return dbFrom(ctx, s.db).Model(&models.Member{}).Scopes(ScopeByContext(bc))
	}
	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	counts := []struct {
		dst   *int64
		query *gorm.DB
	}{
		{&stats.TotalMembers, base()},
		{&stats.NewMembersThisMonth, base().Where("registration_date >= ?", monthStart)},
		{&stats.BaptizedMembers, base().Where("baptized = ?", models.AnswerYes)},
		{&stats.MembershipClassCompleted, base().Where("membership_class = ?", models.AnswerYes)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dst).Error; err != nil {
			return MemberStats{}, err
		}
	}
	return stats, nil
}

// ErrNotReconcilable: the member has a TEMP identifier but no branch yet.
var ErrNotReconcilable = errors.New("member has no branch")

// ReconcileTemporary replaces the TEMP identifier of a placed member with a
// permanent one and returns the identifier the member ends up with. Members
// that already hold a permanent identifier are left untouched.
func (s *MemberService) ReconcileTemporary(ctx context.Context, memberID uint) (string, error) {
	var member models.Member
	if err := dbFrom(ctx, s.db).Preload("Branch").First(&member, memberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: member %d", ErrNotFound, memberID)
		}
		return "", err
	}
	if !member.HasTemporaryID() {
		return membershipIDOf(&member), nil
	}
	if member.Branch == nil {
		return "", fmt.Errorf("%w: member %d", ErrNotReconcilable, memberID)
	}

	tempID := *member.MembershipID
	id, err := s.allocator.AllocateAndPersist(ctx, member.Branch, member.RegistrationDate.Year(), func(txCtx context.Context, id string) error {
		res := dbFrom(txCtx, s.db).Model(&models.Member{}).
			Where("id = ? AND membership_id = ?", member.ID, tempID).
			Update("membership_id", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errAlreadyReconciled
		}
		return nil
	})
	if errors.Is(err, errAlreadyReconciled) {
		var current models.Member
		if err := dbFrom(ctx, s.db).First(&current, memberID).Error; err != nil {
			return "", err
		}
		return membershipIDOf(&current), nil
	}
	if err != nil {
		return "", err
	}
	logger.Info().
		Uint("member_id", member.ID).
		Str("temporary_id", tempID).
		Str("membership_id", id).
		Msg("temporary membership id reconciled")
	return id, nil
}

var errAlreadyReconciled = errors.New("membership id changed concurrently")

// ReconcilePending reconciles up to limit placed members still holding TEMP
// identifiers and returns how many were converted.
func (s *MemberService) ReconcilePending(ctx context.Context, limit int) (int, error) {
	var ids []uint
	err := dbFrom(ctx, s.db).Model(&models.Member{}).
		Where("membership_id LIKE ? AND branch_id IS NOT NULL", models.TemporaryIDPrefix+"%").
		Order("id ASC").Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}

	done := 0
	for _, id := range ids {
		if _, err := s.ReconcileTemporary(ctx, id); err != nil {
			if errors.Is(err, ErrSequenceExhausted) {
				return done, err
			}
			logger.Error().Err(err).Uint("member_id", id).Msg("reconcile failed")
			continue
		}
		done++
	}
	return done, nil
}

// ProcessReconcileTask is the queue processor for TaskTypeReconcile.
func (s *MemberService) ProcessReconcileTask(ctx context.Context, task *ReconcileTask) error {
	_, err := s.ReconcileTemporary(ctx, task.MemberID)
	return err
}

func membershipIDOf(m *models.Member) string {
	if m.MembershipID == nil {
		return ""
	}
	return *m.MembershipID
}

func intersect(ordered, allowed []string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	out := make([]string, 0, len(ordered))
	for _, o := range ordered {
		if _, ok := set[o]; ok {
			out = append(out, o)
		}
	}
	return out
}
