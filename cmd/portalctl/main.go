package main

import (
	"os"

	"github.com/dkomics/church-portal/internal/config"
	"github.com/dkomics/church-portal/internal/models"
	"github.com/dkomics/church-portal/pkg/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "portalctl",
	Short: "portalctl maintains branches and user assignments of the church portal",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	rootCmd.AddCommand(setupBranchesCmd, assignUserBranchesCmd)
}

// openDB loads the configuration and returns a migrated connection.
func openDB() (*gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Log.Level)
	db, err := models.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := models.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
