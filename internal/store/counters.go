package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesys/ordergate/pkg/types"
)

func startOfDay(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

// CountTradesToday reports placed orders for a (tenant, account) pair since
// midnight, for the daily trade limit check.
func (s *Store) CountTradesToday(ctx context.Context, tenantID, accountID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&OrderRecord{}).
		Where("tenant_id = ? AND account_id = ? AND broker_order_id <> '' AND created_at >= ?",
			tenantID, accountID, startOfDay(time.Now())).
		Count(&count).Error
	return int(count), err
}

// GetPositionQty computes the signed position for an account and symbol from
// the fill ledger: buys add, sells subtract.
func (s *Store) GetPositionQty(ctx context.Context, accountID, symbol string) (decimal.Decimal, error) {
	var rows []struct {
		Side     string
		Quantity decimal.Decimal
	}
	err := s.db.WithContext(ctx).Table("ledger_entries").
		Select("ledger_entries.side, ledger_entries.quantity").
		Joins("JOIN order_records ON order_records.client_intent_id = ledger_entries.client_intent_id").
		Where("order_records.account_id = ? AND ledger_entries.symbol = ? AND ledger_entries.outcome = ?",
			accountID, symbol, "fill").
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	position := decimal.Zero
	for _, row := range rows {
		if row.Side == string(types.SideSell) {
			position = position.Sub(row.Quantity)
		} else {
			position = position.Add(row.Quantity)
		}
	}
	return position, nil
}

// CountExecutionsToday reports placed orders for a strategy since midnight,
// for the per-agent execution budget.
func (s *Store) CountExecutionsToday(ctx context.Context, strategyID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&OrderRecord{}).
		Where("strategy_id = ? AND broker_order_id <> '' AND created_at >= ?",
			strategyID, startOfDay(time.Now())).
		Count(&count).Error
	return int(count), err
}

// SumCapitalToday sums the filled notional for a strategy since midnight, for
// the per-agent capital budget.
func (s *Store) SumCapitalToday(ctx context.Context, strategyID string) (decimal.Decimal, error) {
	var rows []struct {
		Quantity decimal.Decimal
		Price    decimal.Decimal
	}
	err := s.db.WithContext(ctx).Table("ledger_entries").
		Select("ledger_entries.quantity, ledger_entries.price").
		Joins("JOIN order_records ON order_records.client_intent_id = ledger_entries.client_intent_id").
		Where("order_records.strategy_id = ? AND ledger_entries.outcome = ? AND ledger_entries.created_at >= ?",
			strategyID, "fill", startOfDay(time.Now())).
		Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Quantity.Mul(row.Price))
	}
	return total, nil
}
