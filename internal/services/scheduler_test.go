package services

import (
	"context"
	"testing"
	"time"

	"github.com/dkomics/church-portal/internal/models"
)

func TestMaintenanceScheduler_Lock(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2025, time.March, 1, 2, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	a := NewMaintenanceScheduler(env.db, env.members, nil, "@every 5m")
	b := NewMaintenanceScheduler(env.db, env.members, nil, "@every 5m")
	a.now, b.now = clock, clock

	ok, err := a.tryLock(ctx, reconcileLockName)
	if err != nil || !ok {
		t.Fatalf("a.tryLock() = %v, %v, expected acquired", ok, err)
	}
	if ok, _ := b.tryLock(ctx, reconcileLockName); ok {
		t.Error("b acquired a lock held by a")
	}
	if ok, _ := a.tryLock(ctx, reconcileLockName); !ok {
		t.Error("a could not renew its own lock")
	}

	a.unlock(ctx, reconcileLockName)
	now = now.Add(time.Second)
	if ok, _ := b.tryLock(ctx, reconcileLockName); !ok {
		t.Error("b could not take a released lock")
	}

	now = now.Add(lockTTL + time.Minute)
	if ok, _ := a.tryLock(ctx, reconcileLockName); !ok {
		t.Error("a could not take over an expired lock")
	}

	var lock models.SchedulerLock
	env.db.Where("lock_name = ?", reconcileLockName).First(&lock)
	if lock.LockedBy != a.owner {
		t.Errorf("LockedBy = %q, expected %q", lock.LockedBy, a.owner)
	}
}

func TestMaintenanceScheduler_RunReconcile(t *testing.T) {
	env := newTestEnv(t)
	aru := env.branch(t, "Arusha Branch", "ARU")
	m := env.member(t, "Placed", aru, "TEMP2025000001")

	s := NewMaintenanceScheduler(env.db, env.members, nil, "@every 5m")
	s.RunReconcile(context.Background())

	var stored models.Member
	env.db.First(&stored, m.ID)
	if stored.MembershipID == nil || *stored.MembershipID != "ARU20250001" {
		t.Errorf("membership id = %v, expected ARU20250001", stored.MembershipID)
	}
}

func TestMaintenanceScheduler_RunSessionPurge(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2025, time.March, 1, 2, 0, 0, 0, time.UTC)
	env.store.now = func() time.Time { return now }
	ctx := context.Background()
	env.store.Set(ctx, "s", "k", "v")
	now = now.Add(2 * time.Hour)

	s := NewMaintenanceScheduler(env.db, env.members, env.store, "@every 5m")
	s.RunSessionPurge(ctx)

	var n int64
	env.db.Model(&models.SessionValue{}).Count(&n)
	if n != 0 {
		t.Errorf("session rows = %d, expected expired rows purged", n)
	}
}

func TestMaintenanceScheduler_StartRejectsBadSpec(t *testing.T) {
	env := newTestEnv(t)
	s := NewMaintenanceScheduler(env.db, env.members, nil, "not a cron")
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("Start() with invalid cron expression should fail")
	}

	s = NewMaintenanceScheduler(env.db, env.members, env.store, "@every 1h")
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Stop()
}
