package main

import (
	"context"

	"github.com/dkomics/church-portal/internal/config"
	"github.com/dkomics/church-portal/internal/handlers"
	"github.com/dkomics/church-portal/internal/middleware"
	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/internal/services"
	"github.com/dkomics/church-portal/internal/utils"
	"github.com/dkomics/church-portal/pkg/logger"
	"github.com/dkomics/church-portal/pkg/metrics"
	"gorm.io/gorm"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg       *config.Config
	db        *gorm.DB
	profiles  *services.ProfileService
	contexts  *services.BranchContextManager
	auth      *services.AuthService
	taskQueue services.TaskQueue
	worker    *services.Worker
	scheduler *services.MaintenanceScheduler

	loginLimiter *middleware.RateLimiter

	authHandler          *handlers.AuthHandler
	branchContextHandler *handlers.BranchContextHandler
	memberHandler        *handlers.MemberHandler
	userHandler          *handlers.UserHandler
	branchHandler        *handlers.BranchHandler
	auditHandler         *handlers.AuditHandler
	healthHandler        *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	db := models.GetDB()

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default branch
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := metrics.RegisterDB(sqlDB); err != nil {
			logger.Warn().Err(err).Msg("Failed to register database metrics")
		}
	}

	sessions := services.NewSessionStore(cfg, db)
	profiles := services.NewProfileService(db)
	access := services.NewAccessService(db)
	contexts := services.NewBranchContextManager(db, access, sessions)
	audit := services.NewAuditRecorder(db)
	allocator := services.NewMembershipIDAllocator(db, cfg.Membership.AllocationRetries)

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg)
	members := services.NewMemberService(db, access, allocator, audit, taskQueue)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(members.ProcessReconcileTask)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(members.ProcessReconcileTask)
			if err := worker.Start(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start worker")
			}
		}
	}

	// Redis expires its own keys; only the database store needs purging.
	dbSessions, _ := sessions.(*services.DBSessionStore)
	scheduler := services.NewMaintenanceScheduler(db, members, dbSessions, cfg.Membership.ReconcileCron)
	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	users := services.NewUserService(db, profiles, access, audit)
	if err := users.EnsureAdmin(context.Background(), cfg.Admin.Username, cfg.Admin.Password); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	authService := services.NewAuthService(db, &cfg.JWT, profiles, contexts, sessions, audit)

	return &appServices{
		cfg:       cfg,
		db:        db,
		profiles:  profiles,
		contexts:  contexts,
		auth:      authService,
		taskQueue: taskQueue,
		worker:    worker,
		scheduler: scheduler,

		authHandler:          handlers.NewAuthHandler(authService),
		branchContextHandler: handlers.NewBranchContextHandler(contexts),
		memberHandler:        handlers.NewMemberHandler(members),
		userHandler:          handlers.NewUserHandler(users),
		branchHandler:        handlers.NewBranchHandler(services.NewBranchService(db)),
		auditHandler:         handlers.NewAuditHandler(audit),
		healthHandler:        handlers.NewHealthHandler(db, taskQueue),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.scheduler.Stop()
	if s.loginLimiter != nil {
		s.loginLimiter.Stop()
	}
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}
