package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	execerrors "github.com/tradesys/ordergate/internal/errors"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetryRecoversFromTransientBrokerError(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "place_order", func() error {
		calls++
		if calls < 3 {
			return execerrors.NewBrokerError("broker", "place_order", errors.New("502 bad gateway"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsImmediatelyOnFatalError(t *testing.T) {
	calls := 0
	fatal := execerrors.NewAuthzError("authz", "place_order", "kill switch is engaged")
	err := fastPolicy().Do(context.Background(), "place_order", func() error {
		calls++
		return fatal
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, execerrors.CategoryAuthz, execerrors.CategoryOf(err))
}

func TestRetryDoesNotRetryPolicyRejections(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "place_order", func() error {
		calls++
		return execerrors.NewPolicyError("risk", "validate", "max_daily_trades")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAndReturnsLastError(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "place_order", func() error {
		calls++
		return execerrors.NewBrokerError("broker", "place_order", errors.New("503"))
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, execerrors.CategoryBroker, execerrors.CategoryOf(err))
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fastPolicy().Do(ctx, "place_order", func() error {
		return execerrors.NewBrokerError("broker", "place_order", errors.New("503"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(2, 20*time.Millisecond)
	boom := errors.New("venue down")

	require.Error(t, cb.Call("place_order", func() error { return boom }))
	require.Error(t, cb.Call("place_order", func() error { return boom }))

	// Breaker is now open: the function must not run.
	ran := false
	err := cb.Call("place_order", func() error { ran = true; return nil })
	require.Error(t, err)
	assert.False(t, ran)
	assert.Equal(t, "circuit_open", execerrors.ReasonOf(err))

	time.Sleep(25 * time.Millisecond)
	assert.NoError(t, cb.Call("place_order", func() error { return nil }))
	assert.NoError(t, cb.Call("place_order", func() error { return nil }))
}

func TestHostAllowlist(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		allowed []string
		wantErr bool
	}{
		{name: "mainnet allowed by default", baseURL: "https://api.bybit.com"},
		{name: "testnet allowed by default", baseURL: "https://api-testnet.bybit.com"},
		{name: "unknown host refused", baseURL: "https://api.evil.example.com", wantErr: true},
		{name: "lookalike host refused", baseURL: "https://api.bybit.com.attacker.net", wantErr: true},
		{name: "explicit allowlist honored", baseURL: "https://proxy.internal", allowed: []string{"proxy.internal"}},
		{name: "garbage url refused", baseURL: "://not-a-url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkHostAllowed(tt.baseURL, tt.allowed)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, execerrors.CategoryAuthz, execerrors.CategoryOf(err))
				assert.True(t, execerrors.IsFatal(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
