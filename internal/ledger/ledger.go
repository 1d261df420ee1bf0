package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Reservation is the caller-visible view of one trade's capital hold.
type Reservation struct {
	TenantID   string
	AccountID  string
	TradeID    string
	Amount     decimal.Decimal
	State      EntryState
	ReservedAt time.Time
	ReleasedAt time.Time
}

// Service is the capital reservation ledger. Reserve and release observe
// linearizable ordering per (tenant, account, tradeID); independent accounts
// execute fully in parallel.
type Service interface {
	Reserve(ctx context.Context, tenantID, accountID, tradeID string, amount, buyingPower decimal.Decimal) (*Reservation, error)
	Release(ctx context.Context, tenantID, accountID, tradeID string) (*Reservation, error)
}

type accountKey struct {
	tenantID  string
	accountID string
}

// Memory is an in-process Service over the pure transition functions. One
// mutex per aggregate makes the per-account serialization point explicit.
// Multi-process deployments must use the store-backed service; this one is
// for tests and single-process runs.
type Memory struct {
	mu       sync.Mutex
	accounts map[accountKey]*memoryAccount
	clock    func() time.Time
}

type memoryAccount struct {
	mu    sync.Mutex
	state AccountState
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[accountKey]*memoryAccount),
		clock:    time.Now,
	}
}

func (m *Memory) account(tenantID, accountID string) *memoryAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accountKey{tenantID, accountID}
	acct, ok := m.accounts[key]
	if !ok {
		acct = &memoryAccount{state: NewAccountState()}
		m.accounts[key] = acct
	}
	return acct
}

// Reserve implements Service.
func (m *Memory) Reserve(_ context.Context, tenantID, accountID, tradeID string, amount, buyingPower decimal.Decimal) (*Reservation, error) {
	acct := m.account(tenantID, accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	next, entry, err := ApplyReserve(acct.state, tradeID, amount, buyingPower, m.clock())
	if err != nil {
		return nil, err
	}
	acct.state = next
	return reservationFromEntry(tenantID, accountID, entry), nil
}

// Release implements Service.
func (m *Memory) Release(_ context.Context, tenantID, accountID, tradeID string) (*Reservation, error) {
	acct := m.account(tenantID, accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	next, entry, err := ApplyRelease(acct.state, tradeID, m.clock())
	if err != nil {
		return nil, err
	}
	acct.state = next
	return reservationFromEntry(tenantID, accountID, entry), nil
}

// ReservedTotal reports the aggregate hold for an account, for tests and the
// status CLI.
func (m *Memory) ReservedTotal(tenantID, accountID string) decimal.Decimal {
	acct := m.account(tenantID, accountID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.state.ReservedTotal
}

func reservationFromEntry(tenantID, accountID string, entry Entry) *Reservation {
	return &Reservation{
		TenantID:   tenantID,
		AccountID:  accountID,
		TradeID:    entry.TradeID,
		Amount:     entry.Amount,
		State:      entry.State,
		ReservedAt: entry.ReservedAt,
		ReleasedAt: entry.ReleasedAt,
	}
}
