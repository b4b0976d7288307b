package database

import (
	"fmt"

	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/accounts"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/database/migrations"
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/orders"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddSymbolMetadata(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&accounts.ConnectedAccount{},
		&orders.Order{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
