package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// StatusEntry is the cached view served by GET /orders/{id}/status.
type StatusEntry struct {
	OrderID   int64         `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache is a read-through cache in front of the orders table. The
// database stays the source of truth; entries only expire.
type StatusCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func (c *StatusCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return TTLStatusCache
}

// Get reports ok=false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID int64) (StatusEntry, bool, error) {
	var e StatusEntry
	raw, err := c.RDB.Get(ctx, OrderStatusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return e, false, nil
	}
	if err != nil {
		return e, false, fmt.Errorf("redis get status: %w", err)
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, false, fmt.Errorf("decode status entry: %w", err)
	}
	return e, true, nil
}

const maxWatchRetries = 5

// SetIfNewer writes e unless the cached entry is newer. The read and the
// write run under WATCH, so concurrent writers for one order cannot move
// the entry back in time. It reports whether e was written.
func (c *StatusCache) SetIfNewer(ctx context.Context, e StatusEntry) (bool, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	key := OrderStatusKey(e.OrderID)

	for i := 0; i < maxWatchRetries; i++ {
		written := false
		err := c.RDB.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var cur StatusEntry
				if json.Unmarshal(raw, &cur) == nil && cur.UpdatedAt.After(e.UpdatedAt) {
					return nil
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, b, c.ttl())
				return nil
			})
			written = err == nil
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("redis set status: %w", err)
		}
		return written, nil
	}
	return false, fmt.Errorf("redis set status %d: watch retries exhausted", e.OrderID)
}

// Dedup remembers processed event ids for one consumer.
type Dedup struct {
	RDB      *redis.Client
	Consumer string
}

// MarkSeen returns true the first time an event id is offered.
func (d *Dedup) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.RDB.SetNX(ctx, DedupKey(d.Consumer, eventID), "1", TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx dedup: %w", err)
	}
	return ok, nil
}

// Forget drops a mark so a failed event can be redelivered.
func (d *Dedup) Forget(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, DedupKey(d.Consumer, eventID)).Err()
}
