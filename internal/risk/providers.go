package risk

import (
	"context"

	"github.com/shopspring/decimal"
)

// TradeCounter reports executed trade counts for the daily limit check.
type TradeCounter interface {
	CountTradesToday(ctx context.Context, tenantID, accountID string) (int, error)
}

// PositionProvider reports the current signed position for an account and
// symbol.
type PositionProvider interface {
	GetPositionQty(ctx context.Context, accountID, symbol string) (decimal.Decimal, error)
}

// BudgetCounter tracks per-strategy execution budgets.
type BudgetCounter interface {
	CountExecutionsToday(ctx context.Context, strategyID string) (int, error)
	SumCapitalToday(ctx context.Context, strategyID string) (decimal.Decimal, error)
}
