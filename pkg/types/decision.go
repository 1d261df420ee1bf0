package types

import "github.com/shopspring/decimal"

// CheckOutcome records how a single risk check concluded.
type CheckOutcome string

const (
	CheckPassed   CheckOutcome = "pass"
	CheckRejected CheckOutcome = "reject"
	CheckSkipped  CheckOutcome = "skip"
)

// CheckRecord is one entry in the ordered audit trail of a risk validation.
type CheckRecord struct {
	Name    string            `json:"name"`
	Params  map[string]string `json:"params,omitempty"`
	Outcome CheckOutcome      `json:"outcome"`
	Detail  string            `json:"detail,omitempty"`
}

// RiskScope indicates the blast radius of a rejection.
type RiskScope string

const (
	ScopeAccount  RiskScope = "account"
	ScopeStrategy RiskScope = "strategy"
	ScopeNone     RiskScope = "none"
)

// RiskDecision is the outcome of one validation call. The check trail is
// ordered and complete up to the first rejection, and is attached verbatim to
// the execution result for audit.
type RiskDecision struct {
	Allowed bool          `json:"allowed"`
	Reason  string        `json:"reason,omitempty"`
	Scope   RiskScope     `json:"scope"`
	Checks  []CheckRecord `json:"checks"`
}

// Allow returns an allowed decision carrying the given trail.
func Allow(checks []CheckRecord) RiskDecision {
	return RiskDecision{Allowed: true, Scope: ScopeNone, Checks: checks}
}

// Reject returns a disallowed decision with a stable reason code.
func Reject(reason string, scope RiskScope, checks []CheckRecord) RiskDecision {
	return RiskDecision{Allowed: false, Reason: reason, Scope: scope, Checks: checks}
}

// AccountSnapshot is the read-only account view the risk engine evaluates an
// intent against. Position and counter data come from providers, not from the
// snapshot, so they are read at the point of use.
type AccountSnapshot struct {
	TenantID    string
	AccountID   string
	Equity      decimal.Decimal
	BuyingPower decimal.Decimal
	AsOf        int64
}
