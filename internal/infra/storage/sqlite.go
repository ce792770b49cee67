package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"market_hub/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TradeRecord is a persisted own-trade execution.
type TradeRecord struct {
	TradeID   string    `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index"`
	Pair      string    `gorm:"index"`
	Side      string
	Type      string
	Price     decimal.Decimal `gorm:"type:text"`
	Volume    decimal.Decimal `gorm:"type:text"`
	Cost      decimal.Decimal `gorm:"type:text"`
	Fee       decimal.Decimal `gorm:"type:text"`
}

// OrderRecord is a persisted order snapshot; replaced on status change.
type OrderRecord struct {
	OrderID   string    `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index"`
	Pair      string    `gorm:"index"`
	Side      string
	Type      string
	Price     decimal.Decimal `gorm:"type:text"`
	Volume    decimal.Decimal `gorm:"type:text"`
	Status    string          `gorm:"index"`
}

// BalanceRecord is one asset's balance at one point in time. History
// grows unbounded unless pruning is configured.
type BalanceRecord struct {
	Timestamp time.Time `gorm:"primaryKey"`
	Asset     string    `gorm:"primaryKey"`
	Total     decimal.Decimal `gorm:"type:text"`
	Available decimal.Decimal `gorm:"type:text"`
	InOrders  decimal.Decimal `gorm:"type:text"`
}

// Storage persists finalized domain events to SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at dbPath and migrates the
// schema.
func NewStorage(dbPath string) (*Storage, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&TradeRecord{}, &OrderRecord{}, &BalanceRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// SaveTrade upserts an own-trade execution.
func (s *Storage) SaveTrade(t domain.OwnTrade) error {
	rec := TradeRecord{
		TradeID:   t.TradeID,
		Timestamp: t.Time,
		Pair:      t.Pair,
		Side:      string(t.Side),
		Type:      t.OrderType,
		Price:     t.Price,
		Volume:    t.Volume,
		Cost:      t.Cost,
		Fee:       t.Fee,
	}
	if err := s.db.Save(&rec).Error; err != nil {
		return &domain.StorageError{Op: "save_trade", Key: t.TradeID, Err: err}
	}
	return nil
}

// SaveOrder upserts an order snapshot.
func (s *Storage) SaveOrder(o domain.OpenOrder) error {
	rec := OrderRecord{
		OrderID:   o.OrderID,
		Timestamp: o.Time,
		Pair:      o.Pair,
		Side:      string(o.Side),
		Type:      o.OrderType,
		Price:     o.Price,
		Volume:    o.Volume,
		Status:    string(o.Status),
	}
	if err := s.db.Save(&rec).Error; err != nil {
		return &domain.StorageError{Op: "save_order", Key: o.OrderID, Err: err}
	}
	return nil
}

// SaveBalances appends one history row per asset, all stamped at.
func (s *Storage) SaveBalances(balances []domain.Balance, at time.Time) error {
	if len(balances) == 0 {
		return nil
	}
	recs := make([]BalanceRecord, 0, len(balances))
	for _, b := range balances {
		recs = append(recs, BalanceRecord{
			Timestamp: at,
			Asset:     b.Asset,
			Total:     b.Total,
			Available: b.Available,
			InOrders:  b.InOrders,
		})
	}
	if err := s.db.Save(&recs).Error; err != nil {
		return &domain.StorageError{Op: "save_balances", Err: err}
	}
	return nil
}

// TradesByPair returns persisted trades for a pair, newest first.
func (s *Storage) TradesByPair(pair string, limit int) ([]TradeRecord, error) {
	var recs []TradeRecord
	q := s.db.Where("pair = ?", pair).Order("timestamp desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, &domain.StorageError{Op: "query_trades", Err: err}
	}
	return recs, nil
}

// OpenOrders returns all orders currently in open status.
func (s *Storage) OpenOrders() ([]OrderRecord, error) {
	var recs []OrderRecord
	if err := s.db.Where("status = ?", string(domain.OrderOpen)).Find(&recs).Error; err != nil {
		return nil, &domain.StorageError{Op: "query_orders", Err: err}
	}
	return recs, nil
}

// BalanceHistory returns an asset's history since the given time.
func (s *Storage) BalanceHistory(asset string, since time.Time) ([]BalanceRecord, error) {
	var recs []BalanceRecord
	err := s.db.Where("asset = ? AND timestamp >= ?", asset, since).
		Order("timestamp asc").Find(&recs).Error
	if err != nil {
		return nil, &domain.StorageError{Op: "query_balances", Err: err}
	}
	return recs, nil
}

// PruneBalanceHistory deletes balance rows older than cutoff and returns
// how many were removed. Retention is the operator's choice; nothing is
// pruned unless this is called.
func (s *Storage) PruneBalanceHistory(cutoff time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", cutoff).Delete(&BalanceRecord{})
	if res.Error != nil {
		return 0, &domain.StorageError{Op: "prune_balances", Err: res.Error}
	}
	return res.RowsAffected, nil
}
