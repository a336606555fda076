package orders

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-orchestrator/internal/logx"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderConfirmed = "OrderConfirmed"
	EventOrderCanceled  = "OrderCanceled"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// StatusChangedPayload is the payload of every lifecycle event.
type StatusChangedPayload struct {
	OrderID    int64     `json:"order_id"`
	CustomerID int64     `json:"customer_id"`
	Status     Status    `json:"status"`
	TotalCents int64     `json:"total_cents"`
	Items      []ItemQty `json:"items,omitempty"`
}

type ItemQty struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

func newEnvelope(ctx context.Context, producer, eventType string, o *Order) (Envelope, error) {
	items := make([]ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemQty{ProductID: it.ProductID, Qty: it.Qty})
	}
	payload, err := json.Marshal(StatusChangedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		TotalCents: o.TotalCents,
		Items:      items,
	})
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: strconv.FormatInt(o.ID, 10),
		Payload:       payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env, nil
}

// emit publishes after commit. Failures are logged; the committed state is
// the source of truth.
func (s *Service) emit(ctx context.Context, eventType string, o *Order) {
	if s.Events == nil {
		return
	}
	env, err := newEnvelope(ctx, s.ServiceName, eventType, o)
	if err == nil {
		var b []byte
		if b, err = json.Marshal(env); err == nil {
			s.Events.Publish(PartitionKey(o.ID), b,
				kafkago.Header{Key: HeaderEventType, Value: []byte(eventType)},
				kafkago.Header{Key: HeaderEventVersion, Value: []byte("1")},
			)
			return
		}
	}
	logx.FromContext(ctx).Error("publish order event",
		zap.String("event_type", eventType), zap.Int64("order_id", o.ID), zap.Error(err))
}
