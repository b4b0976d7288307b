package migrations

import (
	"github.com/ravitejakamalapuram/copytradepro-sub006/internal/symbols"
	"gorm.io/gorm"
)

// AddSymbolMetadata creates the symbol metadata table used to enrich order
// requests with exchange tokens and lot sizes.
func AddSymbolMetadata(db *gorm.DB) error {
	if err := db.AutoMigrate(&symbols.Metadata{}); err != nil {
		return err
	}

	return nil
}
