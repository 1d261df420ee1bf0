package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tradesys/ordergate/internal/authz"
	"github.com/tradesys/ordergate/internal/lifecycle"
)

// Store wraps the transactional document store backing capital reservations,
// token-replay records, idempotent order records, and the append-only trade
// ledger. It requires single-row atomic create (unique index insert) and
// multi-row transactional read-modify-write, which gorm provides over sqlite
// and the other supported dialects.
type Store struct {
	db *gorm.DB
}

// Open opens the store at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(
		&ReservationAccount{},
		&ReservationEntry{},
		&TokenConsumption{},
		&OrderRecord{},
		&LedgerEntry{},
		&OrderTransition{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for the CLI inspection commands.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ConsumeOnce implements authz.ConsumptionStore with a conditional create:
// the unique index on token id makes exactly one concurrent caller the winner
// across processes sharing the store.
func (s *Store) ConsumeOnce(ctx context.Context, tokenID string, expiresAt time.Time) error {
	row := TokenConsumption{TokenID: tokenID, ConsumedAt: time.Now(), ExpiresAt: expiresAt}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return authz.ErrAlreadyConsumed
	}
	return err
}

// CreateOrderRecord inserts the idempotent record for a client intent.
// Returns the existing record and ok=false when the intent id was already
// recorded.
func (s *Store) CreateOrderRecord(ctx context.Context, rec *OrderRecord) (*OrderRecord, bool, error) {
	err := s.db.WithContext(ctx).Create(rec).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing OrderRecord
		if err := s.db.WithContext(ctx).Where("client_intent_id = ?", rec.ClientIntentID).First(&existing).Error; err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// GetOrderRecordByIntent looks up the record for a client intent id.
func (s *Store) GetOrderRecordByIntent(ctx context.Context, clientIntentID string) (*OrderRecord, error) {
	var rec OrderRecord
	err := s.db.WithContext(ctx).Where("client_intent_id = ?", clientIntentID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateOrderPlacement records the broker order id and immediate status for
// an existing order record.
func (s *Store) UpdateOrderPlacement(ctx context.Context, clientIntentID, brokerOrderID, status string) error {
	return s.db.WithContext(ctx).Model(&OrderRecord{}).
		Where("client_intent_id = ?", clientIntentID).
		Updates(map[string]interface{}{
			"broker_order_id": brokerOrderID,
			"status":          status,
			"last_sync_at":    time.Now(),
		}).Error
}

// UpdateOrderStatus updates the tracked status for a broker order id.
func (s *Store) UpdateOrderStatus(ctx context.Context, brokerOrderID, status string) error {
	return s.db.WithContext(ctx).Model(&OrderRecord{}).
		Where("broker_order_id = ?", brokerOrderID).
		Updates(map[string]interface{}{
			"status":       status,
			"last_sync_at": time.Now(),
		}).Error
}

// AppendLedgerEntry writes one append-only trade ledger record.
func (s *Store) AppendLedgerEntry(ctx context.Context, entry *LedgerEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// ApplyFill computes the incremental fill delta for a broker order given a
// cumulative filled quantity, appends a ledger entry for the delta, and
// advances the last-observed cumulative quantity — all in one transaction so
// a fill is never double-counted. A zero or negative delta writes nothing.
func (s *Store) ApplyFill(ctx context.Context, brokerOrderID string, cumFilled, price decimal.Decimal) (decimal.Decimal, error) {
	delta := decimal.Zero
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec OrderRecord
		if err := tx.Where("broker_order_id = ?", brokerOrderID).First(&rec).Error; err != nil {
			return fmt.Errorf("order record for broker order %s: %w", brokerOrderID, err)
		}

		delta = cumFilled.Sub(rec.FilledQty)
		if !delta.IsPositive() {
			delta = decimal.Zero
			return nil
		}

		entry := LedgerEntry{
			EntryID:        ulid.Make().String(),
			BrokerOrderID:  brokerOrderID,
			ClientIntentID: rec.ClientIntentID,
			Symbol:         rec.Symbol,
			Side:           rec.Side,
			Quantity:       delta,
			Price:          price,
			Outcome:        "fill",
			CreatedAt:      time.Now(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return tx.Model(&OrderRecord{}).
			Where("broker_order_id = ?", brokerOrderID).
			Updates(map[string]interface{}{
				"filled_qty":   cumFilled,
				"last_sync_at": time.Now(),
			}).Error
	})
	if err != nil {
		return decimal.Zero, err
	}
	return delta, nil
}

// ListOpenOrders returns order records not yet in a terminal state, for the
// reconciliation sweep.
func (s *Store) ListOpenOrders(ctx context.Context) ([]OrderRecord, error) {
	var recs []OrderRecord
	err := s.db.WithContext(ctx).
		Where("broker_order_id <> '' AND status NOT IN ?", []string{
			string(lifecycle.StateFilled),
			string(lifecycle.StateCancelled),
			string(lifecycle.StateExpired),
		}).
		Find(&recs).Error
	return recs, err
}

// ListRecentOrders returns the most recent order records, newest first.
func (s *Store) ListRecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	var recs []OrderRecord
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// ListLedgerEntries returns the most recent trade ledger entries, newest first.
func (s *Store) ListLedgerEntries(ctx context.Context, limit int) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// ListReservationAccounts returns the per-account capital aggregates.
func (s *Store) ListReservationAccounts(ctx context.Context) ([]ReservationAccount, error) {
	var accounts []ReservationAccount
	err := s.db.WithContext(ctx).Order("tenant_id, account_id").Find(&accounts).Error
	return accounts, err
}

// RecordTransition implements lifecycle.TransitionSink.
func (s *Store) RecordTransition(orderID string, from, to lifecycle.State, at time.Time) error {
	return s.db.Create(&OrderTransition{
		OrderID:   orderID,
		FromState: string(from),
		ToState:   string(to),
		At:        at,
	}).Error
}
