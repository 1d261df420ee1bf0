package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/tradesys/ordergate/internal/ledger"
)

// reservationGuard guarantees a capital reservation is released on every exit
// path of an execution attempt. Release failures are logged and swallowed:
// a secondary error must never mask the primary outcome, and the reservation
// TTL sweep will eventually reclaim a leaked hold.
type reservationGuard struct {
	svc       ledger.Service
	tenantID  string
	accountID string
	tradeID   string
	outcome   string
	logger    *zap.Logger
	released  bool
}

func newReservationGuard(svc ledger.Service, tenantID, accountID, tradeID string, logger *zap.Logger) *reservationGuard {
	return &reservationGuard{
		svc:       svc,
		tenantID:  tenantID,
		accountID: accountID,
		tradeID:   tradeID,
		outcome:   "exception",
		logger:    logger,
	}
}

// complete records the outcome the eventual release is attributed to.
func (g *reservationGuard) complete(outcome string) {
	g.outcome = outcome
}

// release runs once, on every exit path, via defer.
func (g *reservationGuard) release(ctx context.Context) {
	if g.released {
		return
	}
	g.released = true

	if _, err := g.svc.Release(ctx, g.tenantID, g.accountID, g.tradeID); err != nil {
		g.logger.Error("failed to release capital reservation",
			zap.String("tenant_id", g.tenantID),
			zap.String("account_id", g.accountID),
			zap.String("trade_id", g.tradeID),
			zap.String("outcome", g.outcome),
			zap.Error(err),
		)
		return
	}
	g.logger.Debug("capital reservation released",
		zap.String("trade_id", g.tradeID),
		zap.String("outcome", g.outcome),
	)
}
