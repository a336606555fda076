// Package projector consumes order lifecycle events and keeps the Redis
// status cache in step with them.
package projector

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-order-orchestrator/internal/kafka"
	"github.com/ariefcatur/go-order-orchestrator/internal/logx"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/ariefcatur/go-order-orchestrator/internal/redisx"
)

type Deduper interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// StatusStore must compare and write atomically; workers may reorder
// events of one order.
type StatusStore interface {
	SetIfNewer(ctx context.Context, e redisx.StatusEntry) (bool, error)
}

type StatusProjector struct {
	Dedup Deduper
	Cache StatusStore
}

// HandleMessage is installed as the consumer handler. Returning an error
// leaves the offset uncommitted.
func (p *StatusProjector) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		// a poison message would block the partition forever
		logx.FromContext(ctx).Error("dropping undecodable event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	switch env.EventType {
	case orders.EventOrderCreated, orders.EventOrderConfirmed, orders.EventOrderCanceled:
	default:
		return nil
	}

	first, err := p.Dedup.MarkSeen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	if err := p.apply(ctx, env); err != nil {
		if ferr := p.Dedup.Forget(ctx, env.EventID); ferr != nil {
			logx.FromContext(ctx).Warn("dedup rollback", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return err
	}
	return nil
}

func (p *StatusProjector) apply(ctx context.Context, env orders.Envelope) error {
	payload, err := kafkax.UnwrapPayload[orders.StatusChangedPayload](env.Payload)
	if err != nil {
		return err
	}

	written, err := p.Cache.SetIfNewer(ctx, redisx.StatusEntry{
		OrderID:   payload.OrderID,
		Status:    payload.Status,
		UpdatedAt: env.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("cache status %d: %w", payload.OrderID, err)
	}
	if !written {
		logx.FromContext(ctx).Debug("stale status event ignored",
			zap.Int64("order_id", payload.OrderID), zap.String("event_id", env.EventID))
		return nil
	}
	logx.FromContext(ctx).Debug("status projected",
		zap.Int64("order_id", payload.OrderID), zap.String("status", string(payload.Status)), zap.String("event_id", env.EventID))
	return nil
}
