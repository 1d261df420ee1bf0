package types

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType represents the execution style of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce represents how long an order remains active
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
)

// AssetClass represents the instrument category of an order
type AssetClass string

const (
	AssetClassEquity AssetClass = "EQUITY"
	AssetClassOption AssetClass = "OPTION"
	AssetClassCrypto AssetClass = "CRYPTO"
)

// Well-known metadata keys carried on an OrderIntent. Producers populate
// these; the risk engine and audit sink read them by name.
const (
	MetaTenantID        = "tenant_id"
	MetaNotional        = "notional"
	MetaRiskPerTradeCap = "risk_per_trade_cap"
	MetaRiskAmount      = "risk_amount"
	MetaAgentName       = "agent_name"
	MetaAgentRole       = "agent_role"
	MetaAgentVersion    = "agent_version"
)

// OrderIntent is an immutable description of a desired trade. It is never
// itself a broker order; a retry submits a new attempt referencing the same
// ClientIntentID.
type OrderIntent struct {
	StrategyID     string
	AccountID      string
	Symbol         string
	Side           Side
	Quantity       decimal.Decimal
	OrderType      OrderType
	TimeInForce    TimeInForce
	LimitPrice     *decimal.Decimal
	AssetClass     AssetClass
	ClientIntentID string
	Metadata       map[string]string
}

// Normalize returns a copy of the intent with symbol and side uppercased and
// validates the structural invariants: quantity > 0 and side in {BUY, SELL}.
func (oi OrderIntent) Normalize() (OrderIntent, error) {
	out := oi
	out.Symbol = strings.ToUpper(strings.TrimSpace(oi.Symbol))
	out.Side = Side(strings.ToUpper(strings.TrimSpace(string(oi.Side))))

	if out.Symbol == "" {
		return out, fmt.Errorf("intent symbol is empty")
	}
	if out.Side != SideBuy && out.Side != SideSell {
		return out, fmt.Errorf("intent side %q is not BUY or SELL", oi.Side)
	}
	if !out.Quantity.IsPositive() {
		return out, fmt.Errorf("intent quantity %s must be positive", oi.Quantity)
	}
	if out.ClientIntentID == "" {
		return out, fmt.Errorf("intent is missing a client intent id")
	}
	if out.AccountID == "" {
		return out, fmt.Errorf("intent is missing an account id")
	}
	return out, nil
}

// TenantID reads the tenant identifier from intent metadata.
func (oi OrderIntent) TenantID() string {
	return oi.Metadata[MetaTenantID]
}

// Meta returns the metadata value for key, or "" when absent.
func (oi OrderIntent) Meta(key string) string {
	return oi.Metadata[key]
}

// Notional returns the monetary amount to reserve for this intent. It prefers
// an explicit notional hint in metadata and falls back to quantity times the
// limit price. Market orders without a notional hint return an error because
// the reservation amount cannot be derived.
func (oi OrderIntent) Notional() (decimal.Decimal, error) {
	if raw, ok := oi.Metadata[MetaNotional]; ok && raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("metadata notional %q is not a number: %w", raw, err)
		}
		if !d.IsPositive() {
			return decimal.Zero, fmt.Errorf("metadata notional %s must be positive", d)
		}
		return d, nil
	}
	if oi.LimitPrice != nil {
		return oi.Quantity.Mul(*oi.LimitPrice), nil
	}
	return decimal.Zero, fmt.Errorf("intent carries neither a notional hint nor a limit price")
}

// SignedQuantity returns the position delta this intent applies: positive for
// a buy, negative for a sell.
func (oi OrderIntent) SignedQuantity() decimal.Decimal {
	if oi.Side == SideSell {
		return oi.Quantity.Neg()
	}
	return oi.Quantity
}
