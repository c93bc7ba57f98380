package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stake-plus/stakegate/src/api/data"
)

// Cached shares transaction listings across instances for a few seconds so
// that many clients polling the same verification account cost one query.
// Balances are never cached: lock checks must see the live value.
type Cached struct {
	Gateway
	rdb *redis.Client
	ttl time.Duration
}

func NewCached(g Gateway, rdb *redis.Client, ttl time.Duration) *Cached {
	return &Cached{Gateway: g, rdb: rdb, ttl: ttl}
}

func (c *Cached) ListTransactions(ctx context.Context, f Filter, order Order, limit int) ([]Transaction, error) {
	key := fmt.Sprintf("ledger:txs:%s:%d:%d", f, order, limit)
	if b, ok := data.CacheGet(ctx, c.rdb, key); ok {
		var txs []Transaction
		if err := json.Unmarshal(b, &txs); err == nil {
			return txs, nil
		}
	}
	txs, err := c.Gateway.ListTransactions(ctx, f, order, limit)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(txs); err == nil {
		_ = data.CacheSet(ctx, c.rdb, key, b, c.ttl)
	}
	return txs, nil
}
