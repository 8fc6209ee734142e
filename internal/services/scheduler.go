package services

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/pkg/logger"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	reconcileLockName = "membership_reconcile"
	sessionsLockName  = "session_purge"
	reconcileBatch    = 200
	lockTTL           = 10 * time.Minute
)

// MaintenanceScheduler runs the periodic TEMP identifier sweep and, for the
// database session store, the purge of expired sessions. A scheduler_locks
// row keeps replicas from running the same job at once.
type MaintenanceScheduler struct {
	db       *gorm.DB
	members  *MemberService
	sessions *DBSessionStore
	spec     string
	owner    string
	cron     *cron.Cron
	now      func() time.Time
}

// NewMaintenanceScheduler builds the scheduler. sessions may be nil when
// sessions live in Redis.
func NewMaintenanceScheduler(db *gorm.DB, members *MemberService, sessions *DBSessionStore, spec string) *MaintenanceScheduler {
	host, _ := os.Hostname()
	return &MaintenanceScheduler{
		db:       db,
		members:  members,
		sessions: sessions,
		spec:     spec,
		owner:    host + "/" + uuid.NewString()[:8],
		now:      time.Now,
	}
}

func (s *MaintenanceScheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunReconcile(context.Background()) }); err != nil {
		return err
	}
	if s.sessions != nil {
		if _, err := s.cron.AddFunc("@hourly", func() { s.RunSessionPurge(context.Background()) }); err != nil {
			return err
		}
	}
	s.cron.Start()
	logger.Info().Str("cron", s.spec).Str("owner", s.owner).Msg("[Maintenance] Scheduler started")
	return nil
}

func (s *MaintenanceScheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunReconcile converts pending TEMP identifiers if this replica wins the lock.
func (s *MaintenanceScheduler) RunReconcile(ctx context.Context) {
	ok, err := s.tryLock(ctx, reconcileLockName)
	if err != nil {
		logger.Error().Err(err).Msg("[Maintenance] reconcile lock failed")
		return
	}
	if !ok {
		return
	}
	defer s.unlock(ctx, reconcileLockName)

	n, err := s.members.ReconcilePending(ctx, reconcileBatch)
	if err != nil {
		logger.Error().Err(err).Int("reconciled", n).Msg("[Maintenance] reconcile sweep stopped")
		return
	}
	if n > 0 {
		logger.Info().Int("reconciled", n).Msg("[Maintenance] temporary ids reconciled")
	}
}

func (s *MaintenanceScheduler) RunSessionPurge(ctx context.Context) {
	ok, err := s.tryLock(ctx, sessionsLockName)
	if err != nil || !ok {
		return
	}
	defer s.unlock(ctx, sessionsLockName)

	n, err := s.sessions.PurgeExpired(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("[Maintenance] session purge failed")
		return
	}
	if n > 0 {
		logger.Info().Int64("purged", n).Msg("[Maintenance] expired sessions purged")
	}
}

// tryLock takes the named lock when it is free, expired or already ours.
func (s *MaintenanceScheduler) tryLock(ctx context.Context, name string) (bool, error) {
	now := s.now()
	lock := models.SchedulerLock{
		LockName:  name,
		LockedBy:  s.owner,
		LockedAt:  now,
		ExpiresAt: now.Add(lockTTL),
	}
	err := s.db.WithContext(ctx).Create(&lock).Error
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, err
	}

	res := s.db.WithContext(ctx).Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND (expires_at < ? OR locked_by = ?)", name, now, s.owner).
		Updates(map[string]any{
			"locked_by":  s.owner,
			"locked_at":  now,
			"expires_at": now.Add(lockTTL),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *MaintenanceScheduler) unlock(ctx context.Context, name string) {
	err := s.db.WithContext(ctx).Model(&models.SchedulerLock{}).
		Where("lock_name = ? AND locked_by = ?", name, s.owner).
		Update("expires_at", s.now()).Error
	if err != nil {
		logger.Warn().Err(err).Str("lock", name).Msg("[Maintenance] unlock failed")
	}
}
