package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkomics/church-portal/internal/config"
	"github.com/dkomics/church-portal/internal/middleware"
	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/internal/services"
	"github.com/dkomics/church-portal/internal/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const testPassword = "secret-pass"

func init() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("handler-test-secret")
}

type apiEnv struct {
	db       *gorm.DB
	router   *gin.Engine
	profiles *services.ProfileService
	aru      *models.Branch
	dar      *models.Branch
}

type apiResponse struct {
	Code     int               `json:"code"`
	Message  string            `json:"message"`
	Data     json.RawMessage   `json:"data"`
	Fields   map[string]string `json:"fields"`
	Warnings []string          `json:"warnings"`
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
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

	dar := models.Branch{Name: "Dar es Salaam Branch", Code: "DAR", IsActive: true}
	if err := models.SeedBranches(db, models.DefaultBranch, dar); err != nil {
		t.Fatalf("SeedBranches() error = %v", err)
	}

	store := services.NewDBSessionStore(db, time.Hour)
	profiles := services.NewProfileService(db)
	access := services.NewAccessService(db)
	contexts := services.NewBranchContextManager(db, access, store)
	audit := services.NewAuditRecorder(db)
	queue := services.NewSyncQueue()
	members := services.NewMemberService(db, access, services.NewMembershipIDAllocator(db, 2), audit, queue)
	queue.SetProcessor(members.ProcessReconcileTask)
	users := services.NewUserService(db, profiles, access, audit)
	auth := services.NewAuthService(db, &config.JWTConfig{Secret: "handler-test-secret", ExpireHour: 24}, profiles, contexts, store, audit)

	authH := NewAuthHandler(auth)
	bcH := NewBranchContextHandler(contexts)
	memberH := NewMemberHandler(members)
	userH := NewUserHandler(users)
	branchH := NewBranchHandler(services.NewBranchService(db))
	auditH := NewAuditHandler(audit)

	r := gin.New()
	r.GET("/health", NewHealthHandler(db, queue).CheckHealth)
	api := r.Group("/api")
	api.POST("/auth/login", authH.Login)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.SessionActive(auth), middleware.ProfileRequired(profiles), middleware.BranchScope(contexts))
	protected.GET("/auth/me", authH.GetCurrentUser)
	protected.POST("/auth/logout", authH.Logout)
	protected.GET("/branch-context", bcH.Current)
	protected.GET("/branch-context/options", bcH.Options)
	protected.POST("/branch-context", bcH.Select)
	protected.DELETE("/branch-context", bcH.Clear)
	protected.GET("/members", memberH.Directory)
	protected.GET("/members/export", memberH.Export)
	protected.GET("/members/stats", memberH.Stats)
	protected.GET("/members/:id", memberH.Get)
	protected.POST("/members", memberH.Register)
	protected.PUT("/members/:id", memberH.Update)
	protected.GET("/users", userH.List)
	protected.POST("/users", userH.Create)
	protected.POST("/users/:id/toggle-status", userH.ToggleStatus)
	protected.PUT("/users/:id/role", userH.UpdateRole)
	protected.PUT("/users/:id/branches", userH.AssignBranches)

	admin := api.Group("/admin")
	admin.Use(middleware.AuthRequired(), middleware.SessionActive(auth), middleware.ProfileRequired(profiles), middleware.AdminRequired())
	admin.GET("/branches", branchH.List)
	admin.POST("/branches", branchH.Create)
	admin.PUT("/branches/:id", branchH.Update)
	admin.PUT("/branches/:id/active", branchH.SetActive)
	admin.GET("/audit-logs", auditH.List)

	env := &apiEnv{db: db, router: r, profiles: profiles}
	env.aru = env.branchByCode(t, "ARU")
	env.dar = env.branchByCode(t, "DAR")
	return env
}

func (e *apiEnv) branchByCode(t *testing.T, code string) *models.Branch {
	t.Helper()
	var b models.Branch
	if err := e.db.Where("code = ?", code).First(&b).Error; err != nil {
		t.Fatalf("load branch %s: %v", code, err)
	}
	return &b
}

// user creates an account and profile; the first branch is the primary one.
func (e *apiEnv) user(t *testing.T, username string, role models.Role, branches ...*models.Branch) *models.User {
	t.Helper()
	hash, err := utils.HashPassword(testPassword)
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
	return u
}

func (e *apiEnv) login(t *testing.T, username string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": username,
		"password": testPassword,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login %s status = %d, body = %s", username, w.Code, w.Body.String())
	}
	var data struct {
		Token string `json:"token"`
	}
	decode(t, w, &data)
	return data.Token
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decode unwraps the response envelope into data and returns it.
func decode(t *testing.T, w *httptest.ResponseRecorder, data any) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	if data != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, data); err != nil {
			t.Fatalf("decode data %s: %v", resp.Data, err)
		}
	}
	return resp
}

func memberPayload() map[string]any {
	return map[string]any{
		"full_name":          "Neema Mollel",
		"gender":             models.GenderFemale,
		"dob":                "1990-06-15",
		"marital_status":     models.MaritalMarried,
		"phone":              "0712345678",
		"email":              "neema@example.com",
		"address":            "Njiro, Arusha",
		"baptized":           models.AnswerNo,
		"membership_class":   models.AnswerNotYet,
		"emergency_name":     "Baraka Mollel",
		"emergency_relation": "Spouse",
		"emergency_phone":    "0787654321",
		"membership_type":    models.MembershipNew,
		"registration_date":  "2025-03-10",
	}
}
