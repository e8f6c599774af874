package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/spreadbot/core"
	"github.com/web3guy0/spreadbot/execution"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Trade journal
// ═══════════════════════════════════════════════════════════════════════════════
//
// Write-only reporting store. Closed live spreads and backtest trade rows are
// appended here; nothing is read back into engine state on startup.
//
//   postgres://...  → PostgreSQL
//   anything else   → SQLite file (":memory:" for tests)
//   empty           → disabled, every call is a no-op
//
// ═══════════════════════════════════════════════════════════════════════════════

// Database is the trade journal
type Database struct {
	db        *gorm.DB
	enabled   bool
	sessionID string
}

// SpreadTrade is a closed spread from a live or paper session
type SpreadTrade struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SessionID   string `gorm:"index"`
	SpreadID    string
	Underlying  string `gorm:"index"`
	Strategy    string
	LongSymbol  string
	ShortSymbol string
	EntryLong   decimal.Decimal `gorm:"type:decimal(20,6)"`
	EntryShort  decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExitLong    decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExitShort   decimal.Decimal `gorm:"type:decimal(20,6)"`
	Quantity    int
	LotSize     int
	Brokerage   decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnL         decimal.Decimal `gorm:"column:pnl;type:decimal(20,6)"`
	EnteredAt   time.Time
	ExitedAt    time.Time
	CreatedAt   time.Time
}

// BacktestTrade is one simulated day of a backtest run
type BacktestTrade struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	RunID         string `gorm:"index"`
	Date          time.Time
	EntryTime     time.Time
	Expiry        time.Time
	DaysToExpiry  int
	Underlying    string
	SpotPrice     decimal.Decimal `gorm:"type:decimal(20,6)"`
	BuyStrike     decimal.Decimal `gorm:"type:decimal(20,6)"`
	SellStrike    decimal.Decimal `gorm:"type:decimal(20,6)"`
	BuySymbol     string
	SellSymbol    string
	EntryBuy      decimal.Decimal `gorm:"type:decimal(20,6)"`
	EntrySell     decimal.Decimal `gorm:"type:decimal(20,6)"`
	EntryNetDebit decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExitBuy       decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExitSell      decimal.Decimal `gorm:"type:decimal(20,6)"`
	ExitNetDebit  decimal.Decimal `gorm:"type:decimal(20,6)"`
	LotSize       int
	GrossPnL      decimal.Decimal `gorm:"column:gross_pnl;type:decimal(20,6)"`
	Brokerage     decimal.Decimal `gorm:"type:decimal(20,6)"`
	NetPnL        decimal.Decimal `gorm:"column:net_pnl;type:decimal(20,6)"`
	CreatedAt     time.Time
}

// New opens the journal at dsn. An empty dsn disables persistence.
func New(dsn string) (*Database, error) {
	session := uuid.NewString()
	if dsn == "" {
		log.Warn().Msg("DATABASE_PATH not set, running without journal")
		return &Database{sessionID: session}, nil
	}

	var db *gorm.DB
	var err error
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("💾 Journal connected (PostgreSQL)")
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one connection keeps ":memory:" databases and file locks consistent
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		log.Info().Str("path", dsn).Msg("💾 Journal initialized (SQLite)")
	}

	if err := db.AutoMigrate(&SpreadTrade{}, &BacktestTrade{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	return &Database{db: db, enabled: true, sessionID: session}, nil
}

// IsEnabled returns if the journal is persisting
func (d *Database) IsEnabled() bool {
	return d.enabled
}

// SessionID identifies the live session stamped on spread rows
func (d *Database) SessionID() string {
	return d.sessionID
}

// SaveSpread records a closed spread
func (d *Database) SaveSpread(pos *execution.SpreadPosition) error {
	if !d.enabled {
		return nil
	}
	if pos.IsOpen() {
		return fmt.Errorf("spread %s is still open", pos.ID)
	}

	row := &SpreadTrade{
		SessionID:   d.sessionID,
		SpreadID:    pos.ID,
		Underlying:  pos.Underlying,
		Strategy:    pos.Strategy,
		LongSymbol:  pos.LongSymbol,
		ShortSymbol: pos.ShortSymbol,
		EntryLong:   pos.LongPrice,
		EntryShort:  pos.ShortPrice,
		ExitLong:    pos.ExitLongPrice,
		ExitShort:   pos.ExitShortPrice,
		Quantity:    pos.Quantity,
		LotSize:     pos.LotSize,
		Brokerage:   pos.Brokerage,
		PnL:         pos.RealizedPnL,
		EnteredAt:   pos.EntryTime,
		ExitedAt:    *pos.ExitTime,
	}
	return d.db.Create(row).Error
}

// SaveBacktestTrade records one backtest trade row
func (d *Database) SaveBacktestTrade(runID string, r core.TradeRow) error {
	if !d.enabled {
		return nil
	}
	row := &BacktestTrade{
		RunID:         runID,
		Date:          r.Date,
		EntryTime:     r.EntryTime,
		Expiry:        r.Expiry,
		DaysToExpiry:  r.DaysToExpiry,
		Underlying:    r.Underlying,
		SpotPrice:     r.SpotPrice,
		BuyStrike:     r.BuyStrike,
		SellStrike:    r.SellStrike,
		BuySymbol:     r.BuySymbol,
		SellSymbol:    r.SellSymbol,
		EntryBuy:      r.EntryBuy,
		EntrySell:     r.EntrySell,
		EntryNetDebit: r.EntryNetDebit,
		ExitBuy:       r.ExitBuy,
		ExitSell:      r.ExitSell,
		ExitNetDebit:  r.ExitNetDebit,
		LotSize:       r.LotSize,
		GrossPnL:      r.GrossPnL,
		Brokerage:     r.Brokerage,
		NetPnL:        r.NetPnL,
	}
	return d.db.Create(row).Error
}

// RecentSpreads returns the latest closed spreads, newest first
func (d *Database) RecentSpreads(limit int) ([]SpreadTrade, error) {
	if !d.enabled {
		return nil, nil
	}
	var trades []SpreadTrade
	err := d.db.Order("exited_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// BacktestTrades returns the rows of one run in trading order
func (d *Database) BacktestTrades(runID string) ([]BacktestTrade, error) {
	if !d.enabled {
		return nil, nil
	}
	var trades []BacktestTrade
	err := d.db.Where("run_id = ?", runID).Order("date ASC").Find(&trades).Error
	return trades, err
}

// SessionPnL sums realized P&L of this session's spreads
func (d *Database) SessionPnL() (decimal.Decimal, error) {
	if !d.enabled {
		return decimal.Zero, nil
	}
	var result struct {
		Total decimal.Decimal
	}
	err := d.db.Model(&SpreadTrade{}).
		Where("session_id = ?", d.sessionID).
		Select("COALESCE(SUM(pnl), 0) as total").
		Scan(&result).Error
	return result.Total, err
}

// Close closes the database connection
func (d *Database) Close() {
	if !d.enabled {
		return
	}
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}
