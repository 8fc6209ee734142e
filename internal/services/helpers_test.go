package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkomics/church-portal/internal/config"
	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/internal/utils"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	db        *gorm.DB
	store     *DBSessionStore
	profiles  *ProfileService
	access    *AccessService
	contexts  *BranchContextManager
	audit     *AuditRecorder
	allocator *MembershipIDAllocator
	queue     *recordingQueue
	members   *MemberService
	users     *UserService
	branches  *BranchService
	auth      *AuthService
}

func openServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := models.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	utils.SetJWTSecret("test-secret")

	db := openServiceDB(t)
	env := &testEnv{db: db}
	env.store = NewDBSessionStore(db, time.Hour)
	env.profiles = NewProfileService(db)
	env.access = NewAccessService(db)
	env.contexts = NewBranchContextManager(db, env.access, env.store)
	env.audit = NewAuditRecorder(db)
	env.allocator = NewMembershipIDAllocator(db, 1)
	env.allocator.now = func() time.Time { return testNow }
	env.queue = &recordingQueue{}
	env.members = NewMemberService(db, env.access, env.allocator, env.audit, env.queue)
	env.members.now = func() time.Time { return testNow }
	env.users = NewUserService(db, env.profiles, env.access, env.audit)
	env.branches = NewBranchService(db)
	env.auth = NewAuthService(db, &config.JWTConfig{Secret: "test-secret", ExpireHour: 24}, env.profiles, env.contexts, env.store, env.audit)
	return env
}

func (e *testEnv) branch(t *testing.T, name, code string) *models.Branch {
	t.Helper()
	b := &models.Branch{Name: name, Code: code, IsActive: true}
	if err := e.db.Create(b).Error; err != nil {
		t.Fatalf("create branch %s: %v", code, err)
	}
	return b
}

func (e *testEnv) deactivate(t *testing.T, b *models.Branch) {
	t.Helper()
	if err := e.db.Model(b).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate branch %s: %v", b.Code, err)
	}
}

// user creates an account with a profile and returns its resolved context.
func (e *testEnv) user(t *testing.T, username string, role models.Role, branches ...*models.Branch) ProfileContext {
	t.Helper()
	hash, err := utils.HashPassword("secret-pass")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	u := &models.User{Username: username, Password: hash, IsActive: true}
	if err := e.db.Omit("Profile").Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	ids := make([]uint, 0, len(branches))
	for _, b := range branches {
		ids = append(ids, b.ID)
	}
	var primary *uint
	if len(ids) > 0 {
		primary = &ids[0]
	}
	if _, err := e.profiles.CreateUserProfile(context.Background(), u, role, ids, primary); err != nil {
		t.Fatalf("CreateUserProfile(%s) error = %v", username, err)
	}
	p, err := e.profiles.ResolveProfileContext(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("ResolveProfileContext(%s) error = %v", username, err)
	}
	return p
}

func (e *testEnv) member(t *testing.T, name string, branch *models.Branch, membershipID string) *models.Member {
	t.Helper()
	m := &models.Member{
		FullName:          name,
		Gender:            models.GenderFemale,
		AgeCategory:       models.AgeAdult,
		Address:           "Arusha",
		Baptized:          models.AnswerNo,
		EmergencyName:     "Contact",
		EmergencyRelation: "Sibling",
		EmergencyPhone:    "0700000000",
		MembershipType:    models.MembershipNew,
		RegistrationDate:  time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC),
		RegisteredBy:      1,
	}
	if branch != nil {
		m.BranchID = &branch.ID
	}
	if membershipID != "" {
		m.MembershipID = &membershipID
	}
	if err := e.db.Omit("Branch").Create(m).Error; err != nil {
		t.Fatalf("create member %s: %v", name, err)
	}
	return m
}

func validInput() MemberInput {
	return MemberInput{
		FullName:          "Neema Mollel",
		Gender:            models.GenderFemale,
		DateOfBirth:       "1990-06-15",
		MaritalStatus:     models.MaritalMarried,
		Phone:             "0712345678",
		Email:             "neema@example.com",
		Address:           "Njiro, Arusha",
		SalvationDate:     "2005-01-01",
		Baptized:          models.AnswerYes,
		BaptismDate:       "2006-04-16",
		MembershipClass:   models.AnswerYes,
		EmergencyName:     "Baraka Mollel",
		EmergencyRelation: "Spouse",
		EmergencyPhone:    "0787654321",
		MembershipType:    models.MembershipNew,
	}
}

func insertMember(db *gorm.DB, branch *models.Branch) func(context.Context, string) error {
	return func(txCtx context.Context, id string) error {
		m := &models.Member{
			FullName:         "Allocated " + id,
			Gender:           models.GenderMale,
			Address:          "x",
			Baptized:         models.AnswerNo,
			MembershipType:   models.MembershipNew,
			RegistrationDate: testNow,
			MembershipID:     &id,
		}
		if branch != nil {
			m.BranchID = &branch.ID
		}
		return dbFrom(txCtx, db).Omit("Branch").Create(m).Error
	}
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []ReconcileTask
}

func (q *recordingQueue) Enqueue(task *ReconcileTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, *task)
	return nil
}

func (q *recordingQueue) IsAsync() bool { return false }

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) Tasks() []ReconcileTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ReconcileTask(nil), q.tasks...)
}

func countAudit(t *testing.T, db *gorm.DB, action models.AuditAction) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.AuditLog{}).Where("action = ?", action).Count(&n).Error; err != nil {
		t.Fatalf("count audit: %v", err)
	}
	return n
}
