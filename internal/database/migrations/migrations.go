package migrations

import (
	"github.com/gemxhub/backend/pkg/logger"
	"github.com/go-gormigrate/gormigrate/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// migrationsList holds all migrations in apply order
var migrationsList = []*gormigrate.Migration{
	CreateUsersTable(),
	CreateWalletsTable(),
}

// RunMigrations runs all database migrations
func RunMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrationsList)

	if err := m.Migrate(); err != nil {
		logger.Log.Error("could not migrate", zap.Error(err))
		return err
	}
	logger.Log.Info("migrations ran successfully", zap.Int("count", len(migrationsList)))
	return nil
}

// RollbackLast undoes the most recently applied migration
func RollbackLast(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrationsList)
	return m.RollbackLast()
}
