// Package symbols provides optional symbol metadata lookup. Its absence must
// never block order placement: callers fall back to passing the trading
// symbol through unchanged.
package symbols

import (
	"errors"

	"gorm.io/gorm"
)

// Metadata describes one tradable instrument.
type Metadata struct {
	gorm.Model    `json:"-"`
	TradingSymbol string  `gorm:"index:idx_symbol_exchange" json:"trading_symbol"`
	Exchange      string  `gorm:"index:idx_symbol_exchange" json:"exchange"`
	Token         string  `json:"token"`
	LotSize       int     `json:"lot_size"`
	TickSize      float64 `json:"tick_size"`
	Segment       string  `json:"segment"`
}

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetByTradingSymbol returns metadata for (symbol, exchange), or (nil, nil)
// when the instrument is unknown.
func (d *Database) GetByTradingSymbol(symbol, exchange string) (*Metadata, error) {
	var meta Metadata
	err := d.db.Where("trading_symbol = ? AND exchange = ?", symbol, exchange).First(&meta).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &meta, nil
}

// Upsert stores or refreshes an instrument row.
func (d *Database) Upsert(meta *Metadata) error {
	existing, err := d.GetByTradingSymbol(meta.TradingSymbol, meta.Exchange)
	if err != nil {
		return err
	}
	if existing != nil {
		meta.ID = existing.ID
	}
	return d.db.Save(meta).Error
}
