package lifecycle

import (
	"strings"

	"github.com/shopspring/decimal"
)

// BrokerOrderToState maps a vendor status string plus fill quantities to a
// canonical state. Fill quantities win over an ambiguous or missing status
// string. Unknown non-empty statuses default to ACCEPTED so the state machine
// keeps progressing. An empty status with no fill data returns ok=false and
// the caller must not force a transition.
func BrokerOrderToState(status string, filledQty, orderQty decimal.Decimal) (State, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(status))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")

	// Quantities give a definitive classification regardless of the label.
	if filledQty.IsPositive() && orderQty.IsPositive() {
		if filledQty.GreaterThanOrEqual(orderQty) {
			return StateFilled, true
		}
		if !isTerminalStatus(normalized) {
			return StatePartiallyFilled, true
		}
	}

	switch normalized {
	case "NEW", "PENDING_NEW", "SUBMITTED", "CREATED":
		return StateNew, true
	case "ACCEPTED", "OPEN", "WORKING", "LIVE", "UNTRIGGERED":
		return StateAccepted, true
	case "PARTIALLY_FILLED", "PARTIAL_FILL", "PARTIALLYFILLED":
		return StatePartiallyFilled, true
	case "FILLED", "DONE", "EXECUTED", "COMPLETE":
		return StateFilled, true
	case "CANCELLED", "CANCELED", "REJECTED":
		return StateCancelled, true
	case "EXPIRED":
		return StateExpired, true
	case "":
		return "", false
	default:
		// Unknown but non-empty: keep the machine progressing rather than
		// stalling the reconciliation loop.
		return StateAccepted, true
	}
}

func isTerminalStatus(normalized string) bool {
	switch normalized {
	case "FILLED", "DONE", "EXECUTED", "COMPLETE", "CANCELLED", "CANCELED", "REJECTED", "EXPIRED":
		return true
	}
	return false
}
