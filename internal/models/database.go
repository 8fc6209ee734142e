package models

import (
	"fmt"

	"github.com/dkomics/church-portal/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// DefaultBranch is created on first start so that registration works before
// an administrator has set up the remaining locations.
var DefaultBranch = Branch{
	Name:       "Arusha Branch",
	Code:       "ARU",
	Location:   "Arusha, Tanzania",
	PastorName: "Pastor John Mwangi",
	IsActive:   true,
}

// Open connects to the configured database. TranslateError is enabled so that
// unique constraint violations surface as gorm.ErrDuplicatedKey on every driver.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer; serializing connections avoids
		// "database is locked" under concurrent registrations.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return db, nil
}

func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Migrate creates or updates every table of the portal on db.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Branch{},
		&User{},
		&UserProfile{},
		&Member{},
		&AuditLog{},
		&SessionValue{},
		&SchedulerLock{},
	)
}

func AutoMigrate() error {
	return Migrate(DB)
}

func GetDB() *gorm.DB {
	return DB
}

// SeedDefaultData creates the default branch if no branch exists yet.
func SeedDefaultData() error {
	return SeedBranches(DB, DefaultBranch)
}

// SeedBranches creates each branch whose code is not present yet and leaves
// existing rows untouched.
func SeedBranches(db *gorm.DB, branches ...Branch) error {
	for _, b := range branches {
		var count int64
		if err := db.Model(&Branch{}).Where("code = ?", b.Code).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		branch := b
		if err := db.Create(&branch).Error; err != nil {
			return fmt.Errorf("seed branch %s: %w", b.Code, err)
		}
	}
	return nil
}
