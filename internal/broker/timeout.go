package broker

import (
	"context"
	"errors"
	"time"

	execerrors "github.com/tradesys/ordergate/internal/errors"
	"github.com/tradesys/ordergate/pkg/types"
)

// BoundedBroker wraps a venue with a hard per-call deadline so one slow
// network call can never hold an execution attempt open indefinitely.
type BoundedBroker struct {
	inner   Broker
	timeout time.Duration
}

// WithTimeout bounds every call on inner to the given duration.
func WithTimeout(inner Broker, timeout time.Duration) *BoundedBroker {
	return &BoundedBroker{inner: inner, timeout: timeout}
}

// Name implements Broker.
func (b *BoundedBroker) Name() string {
	return b.inner.Name()
}

// PlaceOrder implements Broker.
func (b *BoundedBroker) PlaceOrder(ctx context.Context, intent types.OrderIntent) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	order, err := b.inner.PlaceOrder(ctx, intent)
	return order, b.classify("place_order", err)
}

// CancelOrder implements Broker.
func (b *BoundedBroker) CancelOrder(ctx context.Context, symbol, brokerOrderID string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.classify("cancel_order", b.inner.CancelOrder(ctx, symbol, brokerOrderID))
}

// GetOrderStatus implements Broker.
func (b *BoundedBroker) GetOrderStatus(ctx context.Context, symbol, brokerOrderID string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	order, err := b.inner.GetOrderStatus(ctx, symbol, brokerOrderID)
	return order, b.classify("get_order_status", err)
}

func (b *BoundedBroker) classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return execerrors.NewBrokerError("broker", operation, err).WithReason("broker_timeout")
	}
	return err
}
