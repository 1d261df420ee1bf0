package recovery

import (
	"time"

	"github.com/tradesys/ordergate/pkg/types"
)

// AssetTimeouts holds the give-up timeouts for one asset class. Market orders
// should resolve quickly; limit orders are given longer to rest.
type AssetTimeouts struct {
	Market time.Duration
	Limit  time.Duration
}

// TimeoutPolicy selects per-intent timeouts and poll staleness bounds for the
// reconciliation sweep. Pure configuration, no I/O.
type TimeoutPolicy struct {
	ByAssetClass   map[types.AssetClass]AssetTimeouts
	Fallback       AssetTimeouts
	PollStaleAfter time.Duration
}

// DefaultTimeoutPolicy returns the standard policy.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return TimeoutPolicy{
		ByAssetClass: map[types.AssetClass]AssetTimeouts{
			types.AssetClassEquity: {Market: 2 * time.Minute, Limit: 4 * time.Hour},
			types.AssetClassOption: {Market: 1 * time.Minute, Limit: 30 * time.Minute},
			types.AssetClassCrypto: {Market: 2 * time.Minute, Limit: 8 * time.Hour},
		},
		Fallback:       AssetTimeouts{Market: 2 * time.Minute, Limit: time.Hour},
		PollStaleAfter: 30 * time.Second,
	}
}

// TimeoutForIntent returns the unfilled-order timeout for an asset class and
// order type.
func (p TimeoutPolicy) TimeoutForIntent(assetClass types.AssetClass, orderType types.OrderType) time.Duration {
	timeouts, ok := p.ByAssetClass[assetClass]
	if !ok {
		timeouts = p.Fallback
	}
	if orderType == types.OrderTypeMarket {
		return timeouts.Market
	}
	return timeouts.Limit
}

// IsStaleForPoll reports whether an order has gone unobserved long enough to
// warrant a status poll. An order never synced is always stale.
func IsStaleForPoll(now, lastSyncAt time.Time, staleAfter time.Duration) bool {
	if lastSyncAt.IsZero() {
		return true
	}
	return now.Sub(lastSyncAt) >= staleAfter
}

// IsUnfilledPastTimeout reports whether an unfilled order has outlived its
// timeout and should be cancelled.
func IsUnfilledPastTimeout(now, createdAt time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(createdAt) >= timeout
}
