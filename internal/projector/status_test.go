package projector

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/ariefcatur/go-order-orchestrator/internal/redisx"
)

type memDedup map[string]bool

func (d memDedup) MarkSeen(_ context.Context, id string) (bool, error) {
	if d[id] {
		return false, nil
	}
	d[id] = true
	return true, nil
}

func (d memDedup) Forget(_ context.Context, id string) error {
	delete(d, id)
	return nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[int64]redisx.StatusEntry
	failSet bool
}

func (c *memCache) SetIfNewer(_ context.Context, e redisx.StatusEntry) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSet {
		return false, errors.New("redis down")
	}
	if cur, ok := c.entries[e.OrderID]; ok && cur.UpdatedAt.After(e.UpdatedAt) {
		return false, nil
	}
	c.entries[e.OrderID] = e
	return true, nil
}

func message(t *testing.T, eventType string, orderID int64, status orders.Status, at time.Time) (kafkago.Message, string) {
	t.Helper()
	payload, err := json.Marshal(orders.StatusChangedPayload{OrderID: orderID, Status: status})
	require.NoError(t, err)
	env := orders.Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   at,
		Payload:      payload,
	}
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Value: b}, env.EventID
}

func newProjector() (*StatusProjector, memDedup, *memCache) {
	d := memDedup{}
	c := &memCache{entries: map[int64]redisx.StatusEntry{}}
	return &StatusProjector{Dedup: d, Cache: c}, d, c
}

func TestProjector_AppliesLatestStatus(t *testing.T) {
	p, _, cache := newProjector()
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	created, _ := message(t, orders.EventOrderCreated, 9, orders.StatusCreated, t0)
	confirmed, _ := message(t, orders.EventOrderConfirmed, 9, orders.StatusConfirmed, t0.Add(time.Second))

	require.NoError(t, p.HandleMessage(ctx, confirmed))
	require.NoError(t, p.HandleMessage(ctx, created)) // late arrival

	assert.Equal(t, orders.StatusConfirmed, cache.entries[9].Status)
}

func TestProjector_SkipsDuplicates(t *testing.T) {
	p, _, cache := newProjector()
	ctx := context.Background()
	m, _ := message(t, orders.EventOrderCanceled, 3, orders.StatusCanceled, time.Now().UTC())

	require.NoError(t, p.HandleMessage(ctx, m))
	delete(cache.entries, 3)
	require.NoError(t, p.HandleMessage(ctx, m))

	_, ok := cache.entries[3]
	assert.False(t, ok, "second delivery is ignored")
}

func TestProjector_FailedWriteIsRetryable(t *testing.T) {
	p, dedup, cache := newProjector()
	ctx := context.Background()
	m, id := message(t, orders.EventOrderCreated, 4, orders.StatusCreated, time.Now().UTC())

	cache.failSet = true
	require.Error(t, p.HandleMessage(ctx, m))
	assert.False(t, dedup[id])

	cache.failSet = false
	require.NoError(t, p.HandleMessage(ctx, m))
	assert.Equal(t, orders.StatusCreated, cache.entries[4].Status)
}

func TestProjector_IgnoresForeignAndBrokenMessages(t *testing.T) {
	p, dedup, _ := newProjector()
	ctx := context.Background()

	other, _ := message(t, "StockReserved", 1, "", time.Now())
	assert.NoError(t, p.HandleMessage(ctx, other))
	assert.NoError(t, p.HandleMessage(ctx, kafkago.Message{Value: []byte("{not json")}))
	assert.Empty(t, dedup)
}
