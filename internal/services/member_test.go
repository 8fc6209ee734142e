package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/dkomics/church-portal/internal/models"
)

func TestRegister_UsesBranchContext(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	p := env.user(t, "clerk", models.RoleSecretary, aru)
	ctx := context.Background()

	for i, expected := range []string{"ARU20250001", "ARU20250002"} {
		in := validInput()
		m, err := env.members.Register(ctx, p, BranchContext{Branch: aru}, in, RequestMeta{IP: "10.0.0.1"})
		if err != nil {
			t.Fatalf("Register() #%d error = %v", i+1, err)
		}
		if m.MembershipID == nil || *m.MembershipID != expected {
			t.Errorf("Register() #%d id = %v, expected %q", i+1, m.MembershipID, expected)
		}
		if m.BranchID == nil || *m.BranchID != aru.ID {
			t.Errorf("Register() #%d branch = %v, expected ARU", i+1, m.BranchID)
		}
		if m.RegisteredBy != p.UserID {
			t.Errorf("RegisteredBy = %d, expected %d", m.RegisteredBy, p.UserID)
		}
	}

	if n := countAudit(t, env.db, models.AuditRegisterMember); n != 2 {
		t.Errorf("register_member entries = %d, expected 2", n)
	}
}

func TestRegister_ExplicitBranch(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	dar := env.branch(t, "Dar es Salaam Branch", "DAR")
	p := env.user(t, "pastor", models.RolePastor, aru, dar)
	ctx := context.Background()

	in := validInput()
	in.BranchID = &dar.ID
	m, err := env.members.Register(ctx, p, BranchContext{Branch: aru}, in, RequestMeta{})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if *m.MembershipID != "DAR20250001" {
		t.Errorf("id = %q, expected DAR20250001", *m.MembershipID)
	}
}

func TestRegister_Denied(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	dar := env.branch(t, "Dar es Salaam Branch", "DAR")
	member := env.user(t, "plain", models.RoleMember, aru)
	clerk := env.user(t, "clerk", models.RoleSecretary, aru)
	ctx := context.Background()

	if _, err := env.members.Register(ctx, member, BranchContext{Branch: aru}, validInput(), RequestMeta{}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Register(member role) error = %v, expected ErrAccessDenied", err)
	}

	in := validInput()
	in.BranchID = &dar.ID
	if _, err := env.members.Register(ctx, clerk, BranchContext{Branch: aru}, in, RequestMeta{}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Register(foreign branch) error = %v, expected ErrAccessDenied", err)
	}

	var n int64
	env.db.Model(&models.Member{}).Count(&n)
	if n != 0 {
		t.Errorf("members = %d, expected none stored", n)
	}
}

func TestRegister_WithoutBranch(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	admin := env.user(t, "admin", models.RoleAdmin)
	clerk := env.user(t, "clerk", models.RoleSecretary, aru)
	ctx := context.Background()

	m, err := env.members.Register(ctx, admin, NoBranchContext, validInput(), RequestMeta{})
	if err != nil {
		t.Fatalf("Register(admin, no branch) error = %v", err)
	}
	if !m.HasTemporaryID() {
		t.Errorf("id = %v, expected TEMP identifier", m.MembershipID)
	}
	if m.BranchID != nil {
		t.Error("unplaced member should have no branch")
	}

	_, err = env.members.Register(ctx, clerk, NoBranchContext, validInput(), RequestMeta{})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["branch_id"] == "" {
		t.Errorf("Register(clerk, no branch) error = %v, expected branch_id validation error", err)
	}
}

func TestRegister_InvalidInputStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	p := env.user(t, "clerk", models.RoleSecretary, aru)

	in := validInput()
	in.Gender = ""
	if _, err := env.members.Register(context.Background(), p, BranchContext{Branch: aru}, in, RequestMeta{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("Register() error = %v, expected ErrValidation", err)
	}
	if n := countAudit(t, env.db, models.AuditRegisterMember); n != 0 {
		t.Errorf("audit entries = %d, expected 0", n)
	}
}

func TestRegister_AuditFailureKeepsMember(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	p := env.user(t, "clerk", models.RoleSecretary, aru)
	if err := env.db.Migrator().DropTable(&models.AuditLog{}); err != nil {
		t.Fatalf("DropTable() error = %v", err)
	}

	m, err := env.members.Register(context.Background(), p, BranchContext{Branch: aru}, validInput(), RequestMeta{})
	if !errors.Is(err, ErrAuditWrite) {
		t.Fatalf("Register() error = %v, expected ErrAuditWrite", err)
	}
	if m == nil || m.MembershipID == nil || *m.MembershipID != "ARU20250001" {
		t.Fatalf("Register() member = %+v, expected the stored member", m)
	}
	var n int64
	env.db.Model(&models.Member{}).Count(&n)
	if n != 1 {
		t.Errorf("members = %d, expected 1", n)
	}
}

func TestGet_FieldVisibility(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	m := env.member(t, "Asha", aru, "ARU20250001")
	ctx := context.Background()

	tests := []struct {
		role    models.Role
		visible []string
		hidden  []string
	}{
		{models.RolePastor, []string{"full_name", "emergency_name", "dob", "membership_id"}, nil},
		{models.RoleSecretary, []string{"full_name", "phone", "membership_id"}, []string{"emergency_name", "dob", "salvation_date"}},
		{models.RoleMember, []string{"id", "full_name", "membership_type"}, []string{"phone", "membership_id", "address"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			p := env.user(t, "u_"+string(tt.role), tt.role, aru)
			view, err := env.members.Get(ctx, p, m.ID, RequestMeta{})
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			for _, f := range tt.visible {
				if _, ok := view[f]; !ok {
					t.Errorf("field %q missing for %s", f, tt.role)
				}
			}
			for _, f := range tt.hidden {
				if _, ok := view[f]; ok {
					t.Errorf("field %q visible to %s", f, tt.role)
				}
			}
			if _, ok := view["branch"]; ok {
				t.Error("nested branch should not be part of the view")
			}
		})
	}

	if n := countAudit(t, env.db, models.AuditViewMember); n != int64(len(tests)) {
		t.Errorf("view_member entries = %d, expected %d", n, len(tests))
	}
}

func TestGet_OutOfScopeIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	dar := env.branch(t, "Dar es Salaam Branch", "DAR")
	foreign := env.member(t, "Juma", dar, "DAR20250001")
	unplaced := env.member(t, "Temp", nil, "TEMP2025000001")
	clerk := env.user(t, "clerk", models.RoleSecretary, aru)
	admin := env.user(t, "admin", models.RoleAdmin)
	ctx := context.Background()

	for _, id := range []uint{foreign.ID, unplaced.ID, 9999} {
		if _, err := env.members.Get(ctx, clerk, id, RequestMeta{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%d) error = %v, expected ErrNotFound", id, err)
		}
	}
	if _, err := env.members.Get(ctx, admin, unplaced.ID, RequestMeta{}); err != nil {
		t.Errorf("Get(admin, unplaced) error = %v", err)
	}
}

func TestDirectory(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	dar := env.branch(t, "Dar es Salaam Branch", "DAR")
	env.member(t, "Zawadi", aru, "ARU20250002")
	env.member(t, "Asha", aru, "ARU20250001")
	env.member(t, "Juma", dar, "DAR20250001")
	clerk := env.user(t, "clerk", models.RoleSecretary, aru)
	ctx := context.Background()

	page, err := env.members.Directory(ctx, clerk, BranchContext{Branch: aru}, DirectoryQuery{})
	if err != nil {
		t.Fatalf("Directory() error = %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("Directory() = %d items of %d, expected 2", len(page.Items), page.Total)
	}
	if page.Items[0]["full_name"] != "Asha" {
		t.Errorf("first item = %v, expected Asha", page.Items[0]["full_name"])
	}

	page, err = env.members.Directory(ctx, clerk, BranchContext{Branch: aru}, DirectoryQuery{Search: "Zaw"})
	if err != nil || page.Total != 1 {
		t.Errorf("Directory(search) total = %v, %v, expected 1", page, err)
	}

	// Wildcards in the search text match literally.
	env.member(t, "Neema_100%", aru, "ARU20250003")
	for _, search := range []string{"%", "_", "!"} {
		page, err = env.members.Directory(ctx, clerk, BranchContext{Branch: aru}, DirectoryQuery{Search: search})
		expected := int64(1)
		if search == "!" {
			expected = 0
		}
		if err != nil || page.Total != expected {
			t.Errorf("Directory(search %q) total = %v, %v, expected %d", search, page, err, expected)
		}
	}

	page, err = env.members.Directory(ctx, clerk, NoBranchContext, DirectoryQuery{})
	if err != nil {
		t.Fatalf("Directory(no context) error = %v", err)
	}
	if page.Total != 0 || len(page.Items) != 0 {
		t.Errorf("Directory(no context) = %d items, expected none", len(page.Items))
	}

	// A context outside the profile's branches still yields nothing.
	page, err = env.members.Directory(ctx, clerk, BranchContext{Branch: dar}, DirectoryQuery{})
	if err != nil || page.Total != 0 {
		t.Errorf("Directory(foreign context) total = %v, %v, expected 0", page, err)
	}

	plain := env.user(t, "plain", models.RoleMember, aru)
	if _, err := env.members.Directory(ctx, plain, BranchContext{Branch: aru}, DirectoryQuery{}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Directory(member role) error = %v, expected ErrAccessDenied", err)
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	env.member(t, "Asha", aru, "ARU20250001")
	env.member(t, "Baraka", aru, "ARU20250002")
	clerk := env.user(t, "clerk", models.RoleSecretary, aru)
	ctx := context.Background()

	var buf bytes.Buffer
	n, err := env.members.Export(ctx, clerk, BranchContext{Branch: aru}, &buf, RequestMeta{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Export() rows = %d, expected 2", n)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("csv records = %d, expected header + 2", len(records))
	}
	for _, col := range records[0] {
		if col == "emergency_name" || col == "dob" {
			t.Errorf("secretary export includes restricted column %q", col)
		}
	}
	if records[1][0] != "ARU20250001" {
		t.Errorf("first row id = %q, expected ARU20250001", records[1][0])
	}
	if c := countAudit(t, env.db, models.AuditExportData); c != 1 {
		t.Errorf("export_data entries = %d, expected 1", c)
	}

	buf.Reset()
	n, err = env.members.Export(ctx, clerk, NoBranchContext, &buf, RequestMeta{})
	if err != nil {
		t.Fatalf("Export(no context) error = %v", err)
	}
	records, _ = csv.NewReader(&buf).ReadAll()
	if n != 0 || len(records) != 1 {
		t.Errorf("Export(no context) = %d rows, %d records, expected header only", n, len(records))
	}
}

func TestBranchStats(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	p := env.user(t, "clerk", models.RoleSecretary, aru)
	ctx := context.Background()

	if _, err := env.members.Register(ctx, p, BranchContext{Branch: aru}, validInput(), RequestMeta{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	env.member(t, "Older", aru, "ARU20250100")

	stats, err := env.members.BranchStats(ctx, p, BranchContext{Branch: aru})
	if err != nil {
		t.Fatalf("BranchStats() error = %v", err)
	}
	expected := MemberStats{TotalMembers: 2, NewMembersThisMonth: 1, BaptizedMembers: 1, MembershipClassCompleted: 1}
	if stats != expected {
		t.Errorf("BranchStats() = %+v, expected %+v", stats, expected)
	}

	empty, _ := env.members.BranchStats(ctx, p, NoBranchContext)
	if empty != (MemberStats{}) {
		t.Errorf("BranchStats(no context) = %+v, expected zeroes", empty)
	}

	congregant := env.user(t, "congregant", models.RoleMember, aru)
	denied, err := env.members.BranchStats(ctx, congregant, BranchContext{Branch: aru})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("BranchStats(member role) error = %v, expected ErrAccessDenied", err)
	}
	if denied != (MemberStats{}) {
		t.Errorf("BranchStats(member role) = %+v, expected zeroes", denied)
	}
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	p := env.user(t, "pastor", models.RolePastor, aru)
	ctx := context.Background()

	m, err := env.members.Register(ctx, p, BranchContext{Branch: aru}, validInput(), RequestMeta{})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	in := validInput()
	in.Phone = "0799999999"
	in.Address = "Sakina, Arusha"
	updated, err := env.members.Update(ctx, p, m.ID, in, RequestMeta{})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Phone != "0799999999" || updated.Address != "Sakina, Arusha" {
		t.Errorf("Update() = %q/%q, expected new phone and address", updated.Phone, updated.Address)
	}
	if *updated.MembershipID != *m.MembershipID {
		t.Errorf("membership id changed from %q to %q", *m.MembershipID, *updated.MembershipID)
	}

	var entry models.AuditLog
	env.db.Where("action = ?", models.AuditUpdateMember).First(&entry)
	fields, _ := entry.Details["changed_fields"].([]any)
	if len(fields) != 2 || fields[0] != "address" || fields[1] != "phone" {
		t.Errorf("changed_fields = %v, expected [address phone]", entry.Details["changed_fields"])
	}
}

func TestUpdate_MoveBetweenBranches(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	dar := env.branch(t, "Dar es Salaam Branch", "DAR")
	p := env.user(t, "pastor", models.RolePastor, aru, dar)
	ctx := context.Background()

	m, err := env.members.Register(ctx, p, BranchContext{Branch: aru}, validInput(), RequestMeta{})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	in := validInput()
	in.BranchID = &dar.ID
	updated, err := env.members.Update(ctx, p, m.ID, in, RequestMeta{})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.BranchID == nil || *updated.BranchID != dar.ID {
		t.Errorf("BranchID = %v, expected %d", updated.BranchID, dar.ID)
	}
	if updated.Branch == nil || updated.Branch.Code != "DAR" {
		t.Errorf("Branch = %+v, expected DAR", updated.Branch)
	}
	if *updated.MembershipID != *m.MembershipID {
		t.Errorf("membership id changed from %q to %q", *m.MembershipID, *updated.MembershipID)
	}

	var entry models.AuditLog
	env.db.Where("action = ?", models.AuditUpdateMember).First(&entry)
	fields, _ := entry.Details["changed_fields"].([]any)
	if len(fields) != 1 || fields[0] != "branch_id" {
		t.Errorf("changed_fields = %v, expected [branch_id]", entry.Details["changed_fields"])
	}

	var stored models.Branch
	env.db.First(&stored, aru.ID)
	if stored.Code != "ARU" || stored.Name != "Arusha Branch" {
		t.Errorf("previous branch = %s/%s, expected it untouched", stored.Code, stored.Name)
	}
}

func TestUpdate_PlacingTemporaryMemberQueuesReconcile(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	admin := env.user(t, "admin", models.RoleAdmin)
	ctx := context.Background()

	m, err := env.members.Register(ctx, admin, NoBranchContext, validInput(), RequestMeta{})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	in := validInput()
	in.BranchID = &aru.ID
	if _, err := env.members.Update(ctx, admin, m.ID, in, RequestMeta{}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	tasks := env.queue.Tasks()
	if len(tasks) != 1 || tasks[0].MemberID != m.ID || tasks[0].TemporaryID != *m.MembershipID {
		t.Fatalf("queued tasks = %+v, expected one for member %d", tasks, m.ID)
	}

	if err := env.members.ProcessReconcileTask(ctx, &tasks[0]); err != nil {
		t.Fatalf("ProcessReconcileTask() error = %v", err)
	}
	var stored models.Member
	env.db.First(&stored, m.ID)
	if stored.MembershipID == nil || *stored.MembershipID != "ARU20250001" {
		t.Errorf("reconciled id = %v, expected ARU20250001", stored.MembershipID)
	}

	// Running the task again leaves the permanent id alone.
	id, err := env.members.ReconcileTemporary(ctx, m.ID)
	if err != nil || id != "ARU20250001" {
		t.Errorf("ReconcileTemporary() again = %q, %v", id, err)
	}
}

func TestReconcilePending(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	env.member(t, "Placed one", aru, "TEMP2025000001")
	env.member(t, "Placed two", aru, "TEMP2025000002")
	unplaced := env.member(t, "Unplaced", nil, "TEMP2025000003")
	ctx := context.Background()

	n, err := env.members.ReconcilePending(ctx, 10)
	if err != nil {
		t.Fatalf("ReconcilePending() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ReconcilePending() = %d, expected 2", n)
	}

	var ids []string
	env.db.Model(&models.Member{}).Where("branch_id = ?", aru.ID).Order("membership_id").Pluck("membership_id", &ids)
	if len(ids) != 2 || ids[0] != "ARU20250001" || ids[1] != "ARU20250002" {
		t.Errorf("placed ids = %v, expected ARU20250001 and ARU20250002", ids)
	}

	if _, err := env.members.ReconcileTemporary(ctx, unplaced.ID); !errors.Is(err, ErrNotReconcilable) {
		t.Errorf("ReconcileTemporary(unplaced) error = %v, expected ErrNotReconcilable", err)
	}
}
