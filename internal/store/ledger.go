package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradesys/ordergate/internal/ledger"
	"github.com/tradesys/ordergate/internal/monitoring"
)

// LedgerService is the store-backed capital reservation ledger. Each
// operation loads the account aggregate and its entries, applies the pure
// transition function, and writes the aggregate and the per-trade entry in a
// single transaction, so reserve/release for one (tenant, account, tradeID)
// are linearizable across processes.
type LedgerService struct {
	store *Store
	clock func() time.Time
}

// NewLedgerService creates a ledger over the store.
func NewLedgerService(s *Store) *LedgerService {
	return &LedgerService{store: s, clock: time.Now}
}

var _ ledger.Service = (*LedgerService)(nil)

// Reserve implements ledger.Service.
func (l *LedgerService) Reserve(ctx context.Context, tenantID, accountID, tradeID string, amount, buyingPower decimal.Decimal) (*ledger.Reservation, error) {
	var out *ledger.Reservation
	var reserved float64
	err := l.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := loadAccountState(tx, tenantID, accountID)
		if err != nil {
			return err
		}
		next, entry, err := ledger.ApplyReserve(state, tradeID, amount, buyingPower, l.clock())
		if err != nil {
			return err
		}
		if err := persistEntry(tx, tenantID, accountID, next, entry); err != nil {
			return err
		}
		reserved, _ = next.ReservedTotal.Float64()
		out = reservationOf(tenantID, accountID, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	monitoring.UpdateReservedTotal(tenantID, accountID, reserved)
	return out, nil
}

// Release implements ledger.Service.
func (l *LedgerService) Release(ctx context.Context, tenantID, accountID, tradeID string) (*ledger.Reservation, error) {
	var out *ledger.Reservation
	var reserved float64
	err := l.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state, err := loadAccountState(tx, tenantID, accountID)
		if err != nil {
			return err
		}
		next, entry, err := ledger.ApplyRelease(state, tradeID, l.clock())
		if err != nil {
			return err
		}
		if err := persistEntry(tx, tenantID, accountID, next, entry); err != nil {
			return err
		}
		reserved, _ = next.ReservedTotal.Float64()
		out = reservationOf(tenantID, accountID, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	monitoring.UpdateReservedTotal(tenantID, accountID, reserved)
	return out, nil
}

func loadAccountState(tx *gorm.DB, tenantID, accountID string) (ledger.AccountState, error) {
	state := ledger.NewAccountState()

	var acct ReservationAccount
	err := tx.Where("tenant_id = ? AND account_id = ?", tenantID, accountID).First(&acct).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return state, err
	}
	if err == nil {
		state.ReservedTotal = acct.ReservedTotal
	}

	var rows []ReservationEntry
	if err := tx.Where("tenant_id = ? AND account_id = ?", tenantID, accountID).Find(&rows).Error; err != nil {
		return state, err
	}
	for _, row := range rows {
		entry := ledger.Entry{
			TradeID:    row.TradeID,
			Amount:     row.Amount,
			State:      ledger.EntryState(row.State),
			ReservedAt: row.ReservedAt,
		}
		if row.ReleasedAt != nil {
			entry.ReleasedAt = *row.ReleasedAt
		}
		state.Entries[row.TradeID] = entry
	}
	return state, nil
}

func persistEntry(tx *gorm.DB, tenantID, accountID string, next ledger.AccountState, entry ledger.Entry) error {
	row := ReservationEntry{
		TenantID:   tenantID,
		AccountID:  accountID,
		TradeID:    entry.TradeID,
		Amount:     entry.Amount,
		State:      string(entry.State),
		ReservedAt: entry.ReservedAt,
	}
	if entry.State == ledger.EntryReleased {
		released := entry.ReleasedAt
		row.ReleasedAt = &released
	}

	var existing ReservationEntry
	err := tx.Where("tenant_id = ? AND account_id = ? AND trade_id = ?", tenantID, accountID, entry.TradeID).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		row.ID = existing.ID
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
	}

	var acct ReservationAccount
	err = tx.Where("tenant_id = ? AND account_id = ?", tenantID, accountID).First(&acct).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&ReservationAccount{
			TenantID:      tenantID,
			AccountID:     accountID,
			ReservedTotal: next.ReservedTotal,
		}).Error
	case err != nil:
		return err
	default:
		acct.ReservedTotal = next.ReservedTotal
		return tx.Save(&acct).Error
	}
}

func reservationOf(tenantID, accountID string, entry ledger.Entry) *ledger.Reservation {
	return &ledger.Reservation{
		TenantID:   tenantID,
		AccountID:  accountID,
		TradeID:    entry.TradeID,
		Amount:     entry.Amount,
		State:      entry.State,
		ReservedAt: entry.ReservedAt,
		ReleasedAt: entry.ReleasedAt,
	}
}
