package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
	"github.com/ariefcatur/go-order-orchestrator/internal/auth"
	"github.com/ariefcatur/go-order-orchestrator/internal/customers"
	"github.com/ariefcatur/go-order-orchestrator/internal/logx"
)

const (
	DefaultCancelWindow = 10 * time.Minute

	defaultListLimit = 10
	maxListLimit     = 50
)

type CustomerLookup interface {
	GetCustomer(ctx context.Context, id int64) (*customers.Customer, error)
}

// Service drives order creation, confirmation and cancellation. Each
// operation is one database transaction.
type Service struct {
	Store       Store
	Customers   CustomerLookup
	Ledger      Ledger
	Idempotency IdempotencyStore
	Events      Publisher // optional
	ServiceName string

	// CancelWindow bounds cancellation of CONFIRMED orders, measured from
	// created_at. An elapsed time equal to the window is still cancelable.
	CancelWindow time.Duration
	Now          func() time.Time
}

type CreateOrderInput struct {
	Caller     auth.Caller
	CustomerID int64
	Items      []ItemInput
}

type ConfirmOrderInput struct {
	Caller         auth.Caller
	OrderID        int64
	IdempotencyKey string
}

// ConfirmResult carries the response payload exactly as stored, so a replay
// is byte-identical to the first answer.
type ConfirmResult struct {
	Order        *Order
	Payload      []byte
	Replayed     bool
	Transitioned bool
}

type CancelOrderInput struct {
	Caller  auth.Caller
	OrderID int64
}

type CancelResult struct {
	Message string `json:"message"`
}

var tracer trace.Tracer = otel.Tracer("github.com/ariefcatur/go-order-orchestrator/internal/orders")

func (in CreateOrderInput) validate() error {
	if in.CustomerID <= 0 {
		return apperr.InvalidInput("customer_id must be a positive integer")
	}
	if len(in.Items) == 0 {
		return apperr.InvalidInput("items must contain at least one item")
	}
	for _, it := range in.Items {
		if it.ProductID <= 0 || it.Qty <= 0 {
			return apperr.InvalidInput("each item needs a positive product_id and qty")
		}
	}
	return nil
}

// CreateOrder reserves stock for every line and persists the order in
// CREATED, all in one transaction. It is not idempotent: a retry creates a
// second order.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder", trace.WithAttributes(
		attribute.Int64("customer.id", in.CustomerID),
		attribute.Int("order.lines", len(in.Items)),
	))
	defer span.End()

	if err := in.Caller.Require(auth.ScopeOrdersWrite); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	if _, err := s.Customers.GetCustomer(ctx, in.CustomerID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.New(apperr.KindInvalidReference, "customer does not exist")
		}
		return nil, fail(span, apperr.Upstream(err, "customer validation failed"))
	}

	lines := SortLines(in.Items)
	var order *Order
	err := s.Store.InTx(ctx, func(tx Tx) error {
		items := make([]OrderItem, 0, len(lines))
		var total int64
		for _, ln := range lines {
			r, err := s.Ledger.Reserve(ctx, tx, ln.ProductID, ln.Qty)
			if err != nil {
				return err
			}
			sub := r.UnitPriceCents * int64(r.Qty)
			total += sub
			items = append(items, OrderItem{
				ProductID:      r.ProductID,
				SKU:            r.SKU,
				Name:           r.Name,
				Qty:            r.Qty,
				UnitPriceCents: r.UnitPriceCents,
				SubtotalCents:  sub,
			})
		}

		o := &Order{
			CustomerID: in.CustomerID,
			Status:     StatusCreated,
			TotalCents: total,
			CreatedAt:  s.now(),
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return apperr.Internal(err, "insert order")
		}
		if err := tx.InsertOrderItems(ctx, o.ID, items); err != nil {
			return apperr.Internal(err, "insert order items")
		}
		o.Items = items
		order = o
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.Int64("order.total_cents", order.TotalCents))
	logx.FromContext(ctx).Info("order created",
		zap.Int64("order_id", order.ID), zap.Int64("customer_id", order.CustomerID), zap.Int64("total_cents", order.TotalCents))
	s.emit(ctx, EventOrderCreated, order)
	return order, nil
}

// ConfirmOrder moves a CREATED order to CONFIRMED under an idempotency key.
// A replayed key returns the stored payload. An order that is already
// CONFIRMED is returned unchanged and the new key is not recorded.
func (s *Service) ConfirmOrder(ctx context.Context, in ConfirmOrderInput) (*ConfirmResult, error) {
	ctx, span := tracer.Start(ctx, "orders.ConfirmOrder", trace.WithAttributes(attribute.Int64("order.id", in.OrderID)))
	defer span.End()

	if err := in.Caller.Require(auth.ScopeOrdersWrite); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		return nil, apperr.InvalidInput("idempotency key is required")
	}
	if in.OrderID <= 0 {
		return nil, apperr.InvalidInput("order id must be a positive integer")
	}

	res := &ConfirmResult{}
	err := s.Store.InTx(ctx, func(tx Tx) error {
		payload, replayed, err := s.Idempotency.CheckOrInsert(ctx, tx, key, TargetOrderConfirmation, in.OrderID, func() (Outcome, error) {
			o, transitioned, err := s.confirmLocked(ctx, tx, in.OrderID)
			if err != nil {
				return Outcome{}, err
			}
			b, err := json.Marshal(o)
			if err != nil {
				return Outcome{}, apperr.Internal(err, "encode order")
			}
			res.Transitioned = transitioned
			return Outcome{Payload: b, Skip: !transitioned}, nil
		})
		if err != nil {
			return err
		}
		res.Payload = payload
		res.Replayed = replayed
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	var o Order
	if err := json.Unmarshal(res.Payload, &o); err != nil {
		return nil, fail(span, apperr.Internal(err, "decode confirmation payload"))
	}
	res.Order = &o

	span.SetAttributes(attribute.Bool("idempotency.replayed", res.Replayed), attribute.Bool("order.transitioned", res.Transitioned))
	logx.FromContext(ctx).Info("order confirm",
		zap.Int64("order_id", in.OrderID), zap.Bool("replayed", res.Replayed), zap.Bool("transitioned", res.Transitioned))
	if res.Transitioned {
		s.emit(ctx, EventOrderConfirmed, res.Order)
	}
	return res, nil
}

func (s *Service) confirmLocked(ctx context.Context, tx Tx, orderID int64) (*Order, bool, error) {
	o, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}
	if o.Status == StatusConfirmed {
		return o, false, nil
	}
	if !CanTransition(o.Status, StatusConfirmed) {
		if o.Status == StatusCanceled {
			return nil, false, apperr.Conflict("order is canceled")
		}
		return nil, false, unsupportedStatus(o.Status)
	}
	if err := s.setStatus(ctx, tx, o, StatusConfirmed); err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// setStatus writes the new status and takes updated_at from the store, so
// the returned snapshot matches a later read.
func (s *Service) setStatus(ctx context.Context, tx Tx, o *Order, to Status) error {
	at, err := tx.SetOrderStatus(ctx, o.ID, to)
	if err != nil {
		return apperr.Internal(err, "update order status")
	}
	o.Status = to
	o.UpdatedAt = at.UTC()
	return nil
}

func unsupportedStatus(st Status) error {
	return apperr.Newf(apperr.KindConflict, "unsupported order status %s", st)
}

// CancelOrder cancels a CREATED order, or a CONFIRMED one inside the
// cancellation window, restoring the reserved stock of every line.
func (s *Service) CancelOrder(ctx context.Context, in CancelOrderInput) (*CancelResult, error) {
	ctx, span := tracer.Start(ctx, "orders.CancelOrder", trace.WithAttributes(attribute.Int64("order.id", in.OrderID)))
	defer span.End()

	if err := in.Caller.Require(auth.ScopeOrdersWrite); err != nil {
		return nil, err
	}
	if in.OrderID <= 0 {
		return nil, apperr.InvalidInput("order id must be a positive integer")
	}

	var (
		res      CancelResult
		canceled *Order
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		o, err := s.lockOrder(ctx, tx, in.OrderID)
		if err != nil {
			return err
		}
		if !CanTransition(o.Status, StatusCanceled) {
			if o.Status == StatusCanceled {
				return apperr.Conflict("order is already canceled")
			}
			return unsupportedStatus(o.Status)
		}
		res.Message = "order canceled and stock restored"
		if o.Status == StatusConfirmed {
			if elapsed := s.now().Sub(o.CreatedAt); elapsed > s.cancelWindow() {
				return apperr.Conflict("cancellation window expired")
			}
			res.Message = "confirmed order canceled within the cancellation window and stock restored"
		}

		sort.Slice(o.Items, func(i, j int) bool { return o.Items[i].ProductID < o.Items[j].ProductID })
		for _, it := range o.Items {
			if err := s.Ledger.Restore(ctx, tx, it.ProductID, it.Qty); err != nil {
				return err
			}
		}
		if err := s.setStatus(ctx, tx, o, StatusCanceled); err != nil {
			return err
		}
		canceled = o
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	logx.FromContext(ctx).Info("order canceled", zap.Int64("order_id", in.OrderID))
	s.emit(ctx, EventOrderCanceled, canceled)
	return &res, nil
}

// lockOrder loads the order under an exclusive row lock, items included.
func (s *Service) lockOrder(ctx context.Context, tx Tx, id int64) (*Order, error) {
	o, err := tx.LockOrder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "order %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "lock order")
	}
	items, err := tx.OrderItems(ctx, id)
	if err != nil {
		return nil, apperr.Internal(err, "load order items")
	}
	o.Items = items
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, caller auth.Caller, id int64) (*Order, error) {
	if err := caller.Require(auth.ScopeOrdersRead); err != nil {
		return nil, err
	}
	o, err := s.Store.GetOrder(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "order %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "get order")
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, caller auth.Caller, f OrderFilter) ([]Order, error) {
	if err := caller.Require(auth.ScopeOrdersRead); err != nil {
		return nil, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown status %q", f.Status)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	out, err := s.Store.ListOrders(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err, "list orders")
	}
	return out, nil
}

func (s *Service) CreateProduct(ctx context.Context, caller auth.Caller, in ProductInput) (*Product, error) {
	if err := caller.Require(auth.ScopeProductsWrite); err != nil {
		return nil, err
	}
	in.SKU = strings.TrimSpace(in.SKU)
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.SKU == "" || len(in.SKU) > 100:
		return nil, apperr.InvalidInput("sku must be 1-100 characters")
	case in.Name == "" || len(in.Name) > 255:
		return nil, apperr.InvalidInput("name must be 1-255 characters")
	case in.PriceCents < 0:
		return nil, apperr.InvalidInput("price_cents must be non-negative")
	case in.Stock < 0:
		return nil, apperr.InvalidInput("stock must be non-negative")
	}

	p := &Product{SKU: in.SKU, Name: in.Name, PriceCents: in.PriceCents, Stock: in.Stock, CreatedAt: s.now()}
	err := s.Store.CreateProduct(ctx, p)
	if errors.Is(err, ErrDuplicate) {
		return nil, apperr.Newf(apperr.KindConflict, "sku %s already exists", in.SKU)
	}
	if err != nil {
		return nil, apperr.Internal(err, "create product")
	}
	return p, nil
}

func (s *Service) UpdateProduct(ctx context.Context, caller auth.Caller, id int64, u ProductUpdate) (*Product, error) {
	if err := caller.Require(auth.ScopeProductsWrite); err != nil {
		return nil, err
	}
	switch {
	case u.PriceCents == nil && u.Stock == nil:
		return nil, apperr.InvalidInput("nothing to update")
	case u.PriceCents != nil && *u.PriceCents < 0:
		return nil, apperr.InvalidInput("price_cents must be non-negative")
	case u.Stock != nil && *u.Stock < 0:
		return nil, apperr.InvalidInput("stock must be non-negative")
	}
	p, err := s.Store.UpdateProduct(ctx, id, u)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "product %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "update product")
	}
	return p, nil
}

func (s *Service) GetProduct(ctx context.Context, caller auth.Caller, id int64) (*Product, error) {
	if err := caller.Require(auth.ScopeProductsRead); err != nil {
		return nil, err
	}
	p, err := s.Store.GetProduct(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "product %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(err, "get product")
	}
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context, caller auth.Caller) ([]Product, error) {
	if err := caller.Require(auth.ScopeProductsRead); err != nil {
		return nil, err
	}
	out, err := s.Store.ListProducts(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "list products")
	}
	return out, nil
}

// Timestamps are kept at microsecond precision, the resolution of the
// relational store, so snapshots read back compare equal.
func (s *Service) now() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Truncate(time.Microsecond)
}

func (s *Service) cancelWindow() time.Duration {
	if s.CancelWindow > 0 {
		return s.CancelWindow
	}
	return DefaultCancelWindow
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, fmt.Sprint(apperr.KindOf(err)))
	return err
}
