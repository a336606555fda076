package orders

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
)

const (
	TargetOrderConfirmation = "ORDER_CONFIRMATION"
	IdempotencyCompleted    = "COMPLETED"

	DefaultIdempotencyTTL = 24 * time.Hour
)

// Outcome is what a guarded operation produced. Skip leaves no record
// behind, so the key stays unused.
type Outcome struct {
	Payload []byte
	Skip    bool
}

type IdempotencyStore struct {
	TTL time.Duration
	Now func() time.Time
}

// CheckOrInsert runs compute at most once per (key, targetType). The caller's
// transaction holds the key lock, so a concurrent request with the same key
// either sees the committed record or waits for it. Expired records are still
// replayed; expires_at is cleanup metadata only.
func (s IdempotencyStore) CheckOrInsert(ctx context.Context, tx Tx, key, targetType string, targetID int64, compute func() (Outcome, error)) (payload []byte, replayed bool, err error) {
	if err := tx.LockIdempotencyKey(ctx, key, targetType); err != nil {
		return nil, false, apperr.Internal(err, "lock idempotency key")
	}

	rec, err := tx.FindIdempotency(ctx, key, targetType)
	if err != nil {
		return nil, false, apperr.Internal(err, "find idempotency record")
	}
	if rec != nil {
		// Scope is (key, targetType) only: a key first used for another
		// target still replays its stored answer.
		return bytes.Clone(rec.Response), true, nil
	}

	out, err := compute()
	if err != nil {
		return nil, false, err
	}
	if out.Skip {
		return out.Payload, false, nil
	}

	now := s.now()
	err = tx.InsertIdempotency(ctx, IdempotencyRecord{
		Key:        key,
		TargetType: targetType,
		TargetID:   targetID,
		Status:     IdempotencyCompleted,
		Response:   out.Payload,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl()),
	})
	if errors.Is(err, ErrDuplicate) {
		return nil, false, apperr.Conflict("idempotency key already recorded")
	}
	if err != nil {
		return nil, false, apperr.Internal(err, "store idempotency record")
	}
	return out.Payload, false, nil
}

func (s IdempotencyStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s IdempotencyStore) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultIdempotencyTTL
}
