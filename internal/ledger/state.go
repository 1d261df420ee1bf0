package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel errors for reservation state transitions. Callers match with
// errors.Is.
var (
	// ErrDuplicateReservation: a trade id was re-reserved with a different
	// amount, or reserved again after release.
	ErrDuplicateReservation = errors.New("duplicate reservation")
	// ErrInsufficientBuyingPower: the reservation would push the reserved
	// total above the buying-power ceiling.
	ErrInsufficientBuyingPower = errors.New("insufficient buying power")
	// ErrReleaseUnknown: release of a trade id that was never reserved.
	ErrReleaseUnknown = errors.New("release of unknown reservation")
)

// EntryState is the lifecycle of one per-trade reservation.
type EntryState string

const (
	EntryReserved EntryState = "reserved"
	EntryReleased EntryState = "released"
)

// Entry is one trade's hold against account capital.
type Entry struct {
	TradeID    string
	Amount     decimal.Decimal
	State      EntryState
	ReservedAt time.Time
	ReleasedAt time.Time
}

// AccountState is the per (tenant, account) reservation aggregate. Invariant:
// ReservedTotal equals the sum of amounts in state "reserved".
type AccountState struct {
	ReservedTotal decimal.Decimal
	Entries       map[string]Entry
}

// NewAccountState returns an empty aggregate.
func NewAccountState() AccountState {
	return AccountState{ReservedTotal: decimal.Zero, Entries: make(map[string]Entry)}
}

func (s AccountState) clone() AccountState {
	out := AccountState{ReservedTotal: s.ReservedTotal, Entries: make(map[string]Entry, len(s.Entries))}
	for k, v := range s.Entries {
		out.Entries[k] = v
	}
	return out
}

// ApplyReserve is the pure reserve transition. It is idempotent by trade id:
// re-reserving the same (tradeID, amount) returns the existing entry
// unchanged. A different amount, or a reservation after release, errors with
// ErrDuplicateReservation. Exceeding buyingPower errors with
// ErrInsufficientBuyingPower and leaves the state untouched.
func ApplyReserve(state AccountState, tradeID string, amount, buyingPower decimal.Decimal, now time.Time) (AccountState, Entry, error) {
	if !amount.IsPositive() {
		return state, Entry{}, fmt.Errorf("reservation amount %s must be positive", amount)
	}

	if existing, ok := state.Entries[tradeID]; ok {
		if existing.State == EntryReleased {
			return state, Entry{}, fmt.Errorf("trade %s was already released: %w", tradeID, ErrDuplicateReservation)
		}
		if !existing.Amount.Equal(amount) {
			return state, Entry{}, fmt.Errorf("trade %s already reserved for %s, requested %s: %w",
				tradeID, existing.Amount, amount, ErrDuplicateReservation)
		}
		return state, existing, nil
	}

	newTotal := state.ReservedTotal.Add(amount)
	if newTotal.GreaterThan(buyingPower) {
		return state, Entry{}, fmt.Errorf("reserving %s would raise reserved total to %s above buying power %s: %w",
			amount, newTotal, buyingPower, ErrInsufficientBuyingPower)
	}

	next := state.clone()
	entry := Entry{TradeID: tradeID, Amount: amount, State: EntryReserved, ReservedAt: now}
	next.Entries[tradeID] = entry
	next.ReservedTotal = newTotal
	return next, entry, nil
}

// ApplyRelease is the pure release transition. Releasing an already-released
// trade id is a no-op returning the existing entry; releasing an unknown
// trade id errors with ErrReleaseUnknown.
func ApplyRelease(state AccountState, tradeID string, now time.Time) (AccountState, Entry, error) {
	existing, ok := state.Entries[tradeID]
	if !ok {
		return state, Entry{}, fmt.Errorf("trade %s has no reservation: %w", tradeID, ErrReleaseUnknown)
	}
	if existing.State == EntryReleased {
		return state, existing, nil
	}

	next := state.clone()
	entry := existing
	entry.State = EntryReleased
	entry.ReleasedAt = now
	next.Entries[tradeID] = entry
	next.ReservedTotal = state.ReservedTotal.Sub(existing.Amount)
	return next, entry, nil
}
