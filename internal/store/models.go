package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReservationAccount is the per (tenant, account) capital aggregate.
// Invariant: ReservedTotal equals the sum of reserved ReservationEntry
// amounts, maintained inside a single transaction with the entry writes.
type ReservationAccount struct {
	ID            uint            `gorm:"primaryKey"`
	TenantID      string          `gorm:"size:64;not null;uniqueIndex:idx_res_account,priority:1"`
	AccountID     string          `gorm:"size:64;not null;uniqueIndex:idx_res_account,priority:2"`
	ReservedTotal decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	UpdatedAt     time.Time
}

// ReservationEntry is one trade's hold against account capital.
type ReservationEntry struct {
	ID         uint            `gorm:"primaryKey"`
	TenantID   string          `gorm:"size:64;not null;uniqueIndex:idx_res_trade,priority:1"`
	AccountID  string          `gorm:"size:64;not null;uniqueIndex:idx_res_trade,priority:2"`
	TradeID    string          `gorm:"size:128;not null;uniqueIndex:idx_res_trade,priority:3"`
	Amount     decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	State      string          `gorm:"size:16;not null"`
	ReservedAt time.Time       `gorm:"not null"`
	ReleasedAt *time.Time
}

// TokenConsumption records single-use confirmation token ids. The unique
// index on TokenID is the atomic create that makes exactly one concurrent
// first-use the winner.
type TokenConsumption struct {
	ID         uint      `gorm:"primaryKey"`
	TokenID    string    `gorm:"size:128;not null;uniqueIndex"`
	ConsumedAt time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null"`
}

// OrderRecord is the idempotent record of one client intent's execution. The
// unique index on ClientIntentID deduplicates retried attempts. FilledQty is
// the last observed cumulative fill, used for incremental delta bookkeeping.
type OrderRecord struct {
	ID             uint            `gorm:"primaryKey"`
	ClientIntentID string          `gorm:"size:128;not null;uniqueIndex"`
	TenantID       string          `gorm:"size:64;not null;index"`
	AccountID      string          `gorm:"size:64;not null;index"`
	StrategyID     string          `gorm:"size:64"`
	Symbol         string          `gorm:"size:32;not null"`
	Side           string          `gorm:"size:8;not null"`
	Quantity       decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	AssetClass     string          `gorm:"size:16"`
	OrderType      string          `gorm:"size:16"`
	BrokerOrderID  string          `gorm:"size:128;index"`
	Status         string          `gorm:"size:24;not null"`
	FilledQty      decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	CreatedAt      time.Time       `gorm:"not null"`
	LastSyncAt     time.Time
}

// LedgerEntry is one append-only trade ledger record. Quantity is the fill
// delta since the previous observation, never a cumulative value.
type LedgerEntry struct {
	EntryID       string          `gorm:"primaryKey;size:32"`
	BrokerOrderID string          `gorm:"size:128;index"`
	ClientIntentID string         `gorm:"size:128;index"`
	Symbol        string          `gorm:"size:32;not null"`
	Side          string          `gorm:"size:8;not null"`
	Quantity      decimal.Decimal `gorm:"type:decimal(32,8);not null"`
	Price         decimal.Decimal `gorm:"type:decimal(32,8)"`
	Outcome       string          `gorm:"size:24;not null"`
	CreatedAt     time.Time       `gorm:"not null"`
}

// OrderTransition is the durable audit record of a lifecycle edge.
type OrderTransition struct {
	ID        uint      `gorm:"primaryKey"`
	OrderID   string    `gorm:"size:128;not null;index"`
	FromState string    `gorm:"size:24;not null"`
	ToState   string    `gorm:"size:24;not null"`
	At        time.Time `gorm:"not null"`
}
