// Package orchestrator sequences customer validation, order creation and
// order confirmation across the customer registry and order-api. It is a
// single linear pipeline: the first failure short-circuits and nothing is
// retried.
package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
	"github.com/ariefcatur/go-order-orchestrator/internal/customers"
	"github.com/ariefcatur/go-order-orchestrator/internal/logx"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
)

type CustomerLookup interface {
	GetCustomer(ctx context.Context, id int64) (*customers.Customer, error)
}

type OrderAPI interface {
	CreateOrder(ctx context.Context, customerID int64, items []orders.ItemInput, correlationID string) (int64, json.RawMessage, error)
	ConfirmOrder(ctx context.Context, orderID int64, idempotencyKey, correlationID string) (json.RawMessage, error)
}

var outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "orchestrations_total",
	Help: "Orchestration runs by outcome.",
}, []string{"outcome"})

var tracer = otel.Tracer("github.com/ariefcatur/go-order-orchestrator/internal/orchestrator")

type Request struct {
	CustomerID     int64              `json:"customer_id"`
	Items          []orders.ItemInput `json:"items"`
	IdempotencyKey string             `json:"idempotency_key"`
	CorrelationID  *string            `json:"correlation_id"`
}

func (r Request) Validate() error {
	if r.CustomerID <= 0 {
		return apperr.InvalidInput("customer_id must be a positive number")
	}
	if len(r.Items) == 0 {
		return apperr.InvalidInput("items must be a non-empty list")
	}
	for _, it := range r.Items {
		if it.ProductID <= 0 || it.Qty <= 0 {
			return apperr.InvalidInput("each item needs a positive product_id and qty")
		}
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return apperr.InvalidInput("idempotency_key is required")
	}
	return nil
}

func (r Request) correlationID() string {
	if r.CorrelationID == nil {
		return ""
	}
	return *r.CorrelationID
}

type Result struct {
	Customer *customers.Customer `json:"customer"`
	Order    json.RawMessage     `json:"order"`
}

type Orchestrator struct {
	Customers CustomerLookup
	Orders    OrderAPI
}

func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.Int64("customer.id", req.CustomerID), attribute.String("correlation.id", req.correlationID()))

	res, err := o.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		outcomes.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}
	outcomes.WithLabelValues("success").Inc()
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := logx.FromContext(ctx).With(zap.String("correlation_id", req.correlationID()))

	cust, err := o.Customers.GetCustomer(ctx, req.CustomerID)
	switch {
	case apperr.Is(err, apperr.KindNotFound):
		return nil, apperr.InvalidInput("customer does not exist")
	case apperr.Is(err, apperr.KindUpstreamUnavailable):
		log.Warn("customer lookup failed", zap.Error(err))
		return nil, err
	case err != nil:
		log.Warn("customer lookup failed", zap.Error(err))
		return nil, apperr.Upstream(err, "customer validation failed")
	}

	orderID, _, err := o.Orders.CreateOrder(ctx, req.CustomerID, req.Items, req.correlationID())
	if err != nil {
		log.Warn("create order failed", zap.Error(err))
		return nil, err
	}

	confirmed, err := o.Orders.ConfirmOrder(ctx, orderID, req.IdempotencyKey, req.correlationID())
	if err != nil {
		log.Warn("confirm order failed", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, err
	}

	log.Info("order placed", zap.Int64("order_id", orderID), zap.Int64("customer_id", req.CustomerID))
	return &Result{Customer: cust, Order: confirmed}, nil
}

// Response is the gateway-style answer returned by Handle.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

type envelope struct {
	Success       bool        `json:"success"`
	CorrelationID *string     `json:"correlationId"`
	Data          *Result     `json:"data,omitempty"`
	Error         apperr.Kind `json:"error,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       any         `json:"details,omitempty"`
}

// Handle decodes a raw request body, runs the pipeline and renders the
// envelope. The caller's correlation id is echoed on every answer.
func (o *Orchestrator) Handle(ctx context.Context, body []byte) Response {
	var req Request
	if len(body) == 0 {
		return render(http.StatusBadRequest, failure(nil, apperr.InvalidInput("request body is required")))
	}
	if err := json.Unmarshal(body, &req); err != nil {
		// keep the correlation id even when the rest of the body is malformed
		var probe struct {
			CorrelationID *string `json:"correlation_id"`
		}
		_ = json.Unmarshal(body, &probe)
		return render(http.StatusBadRequest, failure(probe.CorrelationID, apperr.Wrap(apperr.KindInvalidInput, err, "invalid request body")))
	}

	res, err := o.Run(ctx, req)
	if err != nil {
		return render(apperr.HTTPStatus(err), failure(req.CorrelationID, err))
	}
	return render(http.StatusCreated, envelope{Success: true, CorrelationID: req.CorrelationID, Data: res})
}

func failure(cid *string, err error) envelope {
	env := envelope{CorrelationID: cid, Error: apperr.KindOf(err), Message: apperr.Message(err)}
	if e, ok := apperr.As(err); ok {
		env.Details = e.Details
	}
	return env
}

func render(status int, env envelope) Response {
	b, err := json.Marshal(env)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"success":false,"correlationId":null,"error":"INTERNAL","message":"internal server error"}`)
	}
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       b,
	}
}
