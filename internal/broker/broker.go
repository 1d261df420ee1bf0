package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tradesys/ordergate/pkg/types"
)

// Order is the broker-side view of a submitted order: its venue identifier,
// the venue's status string, and cumulative fill progress. The raw status is
// passed through untranslated; lifecycle classification happens upstream.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Status        string
	Qty           decimal.Decimal
	FilledQty     decimal.Decimal
	AvgPrice      decimal.Decimal
}

// Broker is the single seam through which orders reach a venue. Every method
// takes a context so callers can bound the time a slow venue may hold an
// execution attempt hostage.
type Broker interface {
	// Name identifies the venue for logs and metrics.
	Name() string

	// PlaceOrder submits the intent as a new venue order. The intent's
	// ClientIntentID travels as the client order id so duplicate submissions
	// are detectable venue-side.
	PlaceOrder(ctx context.Context, intent types.OrderIntent) (*Order, error)

	// CancelOrder requests cancellation of an open order.
	CancelOrder(ctx context.Context, symbol, brokerOrderID string) error

	// GetOrderStatus fetches the current venue state of an order.
	GetOrderStatus(ctx context.Context, symbol, brokerOrderID string) (*Order, error)
}
