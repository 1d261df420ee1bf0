package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradesys/ordergate/internal/authz"
)

// RedisTokenStore records confirmation-token consumption in redis. SETNX is
// the conditional create: exactly one concurrent consumer wins across every
// process sharing the instance. The key expires shortly after the token
// itself so the namespace stays bounded.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenStore creates a token consumption store over a redis client.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, prefix: "ordergate:token:"}
}

var _ authz.ConsumptionStore = (*RedisTokenStore)(nil)

// ConsumeOnce implements authz.ConsumptionStore.
func (r *RedisTokenStore) ConsumeOnce(ctx context.Context, tokenID string, expiresAt time.Time) error {
	// Keep the replay record past nominal expiry to cover clock skew between
	// minting and consuming hosts.
	ttl := time.Until(expiresAt) + time.Hour
	if ttl <= 0 {
		ttl = time.Hour
	}

	ok, err := r.client.SetNX(ctx, r.prefix+tokenID, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis token consumption write failed: %w", err)
	}
	if !ok {
		return authz.ErrAlreadyConsumed
	}
	return nil
}
