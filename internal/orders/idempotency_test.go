package orders_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-orchestrator/internal/memstore"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
)

func checkOrInsert(st *memstore.Store, idem orders.IdempotencyStore, key, targetType string, target int64, compute func() (orders.Outcome, error)) ([]byte, bool, error) {
	var (
		payload  []byte
		replayed bool
	)
	err := st.InTx(context.Background(), func(tx orders.Tx) error {
		var err error
		payload, replayed, err = idem.CheckOrInsert(context.Background(), tx, key, targetType, target, compute)
		return err
	})
	return payload, replayed, err
}

func TestIdempotencyStore_ComputesOnce(t *testing.T) {
	st := memstore.New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	idem := orders.IdempotencyStore{TTL: time.Hour, Now: func() time.Time { return now }}

	calls := 0
	compute := func() (orders.Outcome, error) {
		calls++
		return orders.Outcome{Payload: []byte(`{"n":1}`)}, nil
	}

	p1, replayed, err := checkOrInsert(st, idem, "k", orders.TargetOrderConfirmation, 7, compute)
	require.NoError(t, err)
	assert.False(t, replayed)

	p2, replayed, err := checkOrInsert(st, idem, "k", orders.TargetOrderConfirmation, 7, compute)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, calls)

	recs := st.IdempotencyRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, now.Add(time.Hour), recs[0].ExpiresAt)
}

func TestIdempotencyStore_SkipLeavesKeyUnused(t *testing.T) {
	st := memstore.New()
	idem := orders.IdempotencyStore{}

	_, _, err := checkOrInsert(st, idem, "k", orders.TargetOrderConfirmation, 7, func() (orders.Outcome, error) {
		return orders.Outcome{Payload: []byte("x"), Skip: true}, nil
	})
	require.NoError(t, err)
	assert.Empty(t, st.IdempotencyRecords())
}

func TestIdempotencyStore_FailureLeavesKeyUnused(t *testing.T) {
	st := memstore.New()
	idem := orders.IdempotencyStore{}

	_, _, err := checkOrInsert(st, idem, "k", orders.TargetOrderConfirmation, 7, func() (orders.Outcome, error) {
		return orders.Outcome{}, errors.New("boom")
	})
	require.Error(t, err)
	assert.Empty(t, st.IdempotencyRecords())

	_, replayed, err := checkOrInsert(st, idem, "k", orders.TargetOrderConfirmation, 7, func() (orders.Outcome, error) {
		return orders.Outcome{Payload: []byte("ok")}, nil
	})
	require.NoError(t, err)
	assert.False(t, replayed)
}

func TestIdempotencyStore_ReplaysForAnyTargetID(t *testing.T) {
	st := memstore.New()
	idem := orders.IdempotencyStore{}
	calls := 0
	compute := func() (orders.Outcome, error) {
		calls++
		return orders.Outcome{Payload: []byte(`{"id":1}`)}, nil
	}

	_, _, err := checkOrInsert(st, idem, "k", orders.TargetOrderConfirmation, 1, compute)
	require.NoError(t, err)

	p, replayed, err := checkOrInsert(st, idem, "k", orders.TargetOrderConfirmation, 2, compute)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, `{"id":1}`, string(p))
	assert.Equal(t, 1, calls)
	require.Len(t, st.IdempotencyRecords(), 1)
	assert.Equal(t, int64(1), st.IdempotencyRecords()[0].TargetID)
}

func TestIdempotencyStore_TargetTypesAreSeparate(t *testing.T) {
	st := memstore.New()
	idem := orders.IdempotencyStore{}
	calls := 0
	compute := func() (orders.Outcome, error) {
		calls++
		return orders.Outcome{Payload: []byte("ok")}, nil
	}

	_, replayed, err := checkOrInsert(st, idem, "k", orders.TargetOrderConfirmation, 7, compute)
	require.NoError(t, err)
	assert.False(t, replayed)

	_, replayed, err = checkOrInsert(st, idem, "k", "ORDER_CANCELLATION", 7, compute)
	require.NoError(t, err)
	assert.False(t, replayed)

	assert.Equal(t, 2, calls)
	assert.Len(t, st.IdempotencyRecords(), 2)
}
