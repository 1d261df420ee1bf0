package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesys/ordergate/internal/audit"
	"github.com/tradesys/ordergate/internal/store"
	"github.com/tradesys/ordergate/pkg/types"
)

func TestTimeoutForIntent(t *testing.T) {
	p := DefaultTimeoutPolicy()

	tests := []struct {
		name       string
		assetClass types.AssetClass
		orderType  types.OrderType
		want       time.Duration
	}{
		{name: "equity market", assetClass: types.AssetClassEquity, orderType: types.OrderTypeMarket, want: 2 * time.Minute},
		{name: "equity limit", assetClass: types.AssetClassEquity, orderType: types.OrderTypeLimit, want: 4 * time.Hour},
		{name: "option market is tighter", assetClass: types.AssetClassOption, orderType: types.OrderTypeMarket, want: time.Minute},
		{name: "option limit", assetClass: types.AssetClassOption, orderType: types.OrderTypeLimit, want: 30 * time.Minute},
		{name: "unknown class uses fallback", assetClass: "FX", orderType: types.OrderTypeLimit, want: time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.TimeoutForIntent(tt.assetClass, tt.orderType))
		})
	}
}

func TestStalenessBounds(t *testing.T) {
	now := time.Now()

	assert.True(t, IsStaleForPoll(now, time.Time{}, 30*time.Second), "never-synced order is stale")
	assert.True(t, IsStaleForPoll(now, now.Add(-time.Minute), 30*time.Second))
	assert.False(t, IsStaleForPoll(now, now.Add(-10*time.Second), 30*time.Second))

	assert.True(t, IsUnfilledPastTimeout(now, now.Add(-3*time.Minute), 2*time.Minute))
	assert.False(t, IsUnfilledPastTimeout(now, now.Add(-time.Minute), 2*time.Minute))
	assert.False(t, IsUnfilledPastTimeout(now, now.Add(-time.Hour), 0), "zero timeout never expires")
}

type fakeLister struct {
	recs []store.OrderRecord
	err  error
}

func (f fakeLister) ListOpenOrders(context.Context) ([]store.OrderRecord, error) {
	return f.recs, f.err
}

type fakeSyncer struct {
	mu        sync.Mutex
	cancelled []string
	polled    []string
	cancelErr error
	syncErr   error
	delta     decimal.Decimal
}

func (f *fakeSyncer) Cancel(_ context.Context, _, brokerOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, brokerOrderID)
	return nil
}

func (f *fakeSyncer) SyncAndLedgerIfFilled(_ context.Context, _, brokerOrderID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return decimal.Zero, f.syncErr
	}
	f.polled = append(f.polled, brokerOrderID)
	return f.delta, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Emit(event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func TestSweepCancelsAndPolls(t *testing.T) {
	now := time.Now()
	lister := fakeLister{recs: []store.OrderRecord{
		{
			// Unfilled market order well past its timeout: cancel.
			BrokerOrderID: "bo-old", Symbol: "SPY",
			AssetClass: string(types.AssetClassEquity), OrderType: string(types.OrderTypeMarket),
			FilledQty: decimal.Zero, CreatedAt: now.Add(-10 * time.Minute), LastSyncAt: now,
		},
		{
			// Partially filled order: never cancelled by the sweep, polled when stale.
			BrokerOrderID: "bo-part", Symbol: "QQQ",
			AssetClass: string(types.AssetClassEquity), OrderType: string(types.OrderTypeMarket),
			FilledQty: decimal.NewFromInt(1), CreatedAt: now.Add(-10 * time.Minute), LastSyncAt: now.Add(-time.Minute),
		},
		{
			// Fresh limit order synced recently: untouched.
			BrokerOrderID: "bo-fresh", Symbol: "IWM",
			AssetClass: string(types.AssetClassEquity), OrderType: string(types.OrderTypeLimit),
			FilledQty: decimal.Zero, CreatedAt: now.Add(-time.Minute), LastSyncAt: now.Add(-time.Second),
		},
	}}
	syncer := &fakeSyncer{}
	sweeper := NewSweeper(DefaultTimeoutPolicy(), lister, syncer, nil, nil)

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.Cancelled)
	assert.Equal(t, 1, result.Polled)
	assert.Equal(t, []string{"bo-old"}, syncer.cancelled)
	assert.Equal(t, []string{"bo-part"}, syncer.polled)
}

func TestSweepContinuesPastIndividualFailures(t *testing.T) {
	now := time.Now()
	lister := fakeLister{recs: []store.OrderRecord{
		{
			BrokerOrderID: "bo-1", Symbol: "SPY",
			AssetClass: string(types.AssetClassEquity), OrderType: string(types.OrderTypeMarket),
			FilledQty: decimal.Zero, CreatedAt: now.Add(-10 * time.Minute),
		},
		{
			BrokerOrderID: "bo-2", Symbol: "QQQ",
			AssetClass: string(types.AssetClassEquity), OrderType: string(types.OrderTypeMarket),
			FilledQty: decimal.Zero, CreatedAt: now.Add(-10 * time.Minute),
		},
	}}
	syncer := &fakeSyncer{cancelErr: errors.New("broker down")}
	sweeper := NewSweeper(DefaultTimeoutPolicy(), lister, syncer, nil, nil)

	result, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Errors)
	assert.Zero(t, result.Cancelled)
}

func TestSweepPropagatesListFailure(t *testing.T) {
	sweeper := NewSweeper(DefaultTimeoutPolicy(), fakeLister{err: errors.New("store down")}, &fakeSyncer{}, nil, nil)
	_, err := sweeper.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweepEmitsRecoveryAuditRecords(t *testing.T) {
	now := time.Now()
	lister := fakeLister{recs: []store.OrderRecord{
		{
			ClientIntentID: "intent-old", TenantID: "t1", AccountID: "acct-1",
			BrokerOrderID: "bo-old", Symbol: "SPY", Side: "BUY",
			AssetClass: string(types.AssetClassEquity), OrderType: string(types.OrderTypeMarket),
			FilledQty: decimal.Zero, CreatedAt: now.Add(-10 * time.Minute), LastSyncAt: now,
		},
		{
			ClientIntentID: "intent-part", TenantID: "t1", AccountID: "acct-1",
			BrokerOrderID: "bo-part", Symbol: "QQQ", Side: "BUY",
			AssetClass: string(types.AssetClassEquity), OrderType: string(types.OrderTypeMarket),
			FilledQty: decimal.NewFromInt(1), CreatedAt: now.Add(-10 * time.Minute), LastSyncAt: now.Add(-time.Minute),
		},
	}}
	syncer := &fakeSyncer{delta: decimal.NewFromInt(2)}
	sink := &recordingSink{}
	sweeper := NewSweeper(DefaultTimeoutPolicy(), lister, syncer, sink, nil)

	_, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)

	require.Len(t, sink.events, 2)
	for _, event := range sink.events {
		assert.Equal(t, audit.KindRecover, event.Kind)
	}
	assert.Equal(t, "intent-old", sink.events[0].ClientIntentID)
	assert.Equal(t, "cancel", sink.events[0].Outcome)
	assert.Equal(t, "intent-part", sink.events[1].ClientIntentID)
	assert.Equal(t, "fill_delta", sink.events[1].Outcome)
	assert.Equal(t, "2", sink.events[1].Reason)
}
