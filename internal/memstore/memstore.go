// Package memstore is an in-memory orders.Store. A transaction holds one
// store-wide mutex and works on a copy of the state that is swapped in on
// commit, so row locks degrade to full serialization and a failed
// transaction leaves nothing behind.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
)

type idemKey struct {
	key        string
	targetType string
}

type state struct {
	products    map[int64]orders.Product
	orders      map[int64]orders.Order
	items       map[int64][]orders.OrderItem
	idempotency map[idemKey]orders.IdempotencyRecord

	nextProduct int64
	nextOrder   int64
	nextItem    int64
}

func (s *state) clone() *state {
	c := &state{
		products:    make(map[int64]orders.Product, len(s.products)),
		orders:      make(map[int64]orders.Order, len(s.orders)),
		items:       make(map[int64][]orders.OrderItem, len(s.items)),
		idempotency: make(map[idemKey]orders.IdempotencyRecord, len(s.idempotency)),
		nextProduct: s.nextProduct,
		nextOrder:   s.nextOrder,
		nextItem:    s.nextItem,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.items {
		c.items[k] = slices.Clone(v)
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	return c
}

type Store struct {
	mu  sync.Mutex
	st  *state
	Now func() time.Time
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: &state{
		products:    map[int64]orders.Product{},
		orders:      map[int64]orders.Order{},
		items:       map[int64][]orders.OrderItem{},
		idempotency: map[idemKey]orders.IdempotencyRecord{},
	}}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	o.Items = slices.Clone(s.st.items[id])
	return &o, nil
}

func (s *Store) ListOrders(_ context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0)
	for id, o := range s.st.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && o.CreatedAt.After(f.To) {
			continue
		}
		o.Items = slices.Clone(s.st.items[id])
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, p *orders.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.products {
		if existing.SKU == p.SKU {
			return orders.ErrDuplicate
		}
	}
	s.st.nextProduct++
	p.ID = s.st.nextProduct
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.UpdatedAt = p.CreatedAt
	s.st.products[p.ID] = *p
	return nil
}

func (s *Store) UpdateProduct(_ context.Context, id int64, u orders.ProductUpdate) (*orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	if u.PriceCents != nil {
		p.PriceCents = *u.PriceCents
	}
	if u.Stock != nil {
		p.Stock = *u.Stock
	}
	p.UpdatedAt = s.now()
	s.st.products[id] = p
	return &p, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteProduct removes a product outright. Tests use it to simulate a
// product that vanished after an order reserved it.
func (s *Store) DeleteProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.products, id)
}

// IdempotencyRecords returns a snapshot of every stored record.
func (s *Store) IdempotencyRecords() []orders.IdempotencyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.IdempotencyRecord, 0, len(s.st.idempotency))
	for _, r := range s.st.idempotency {
		r.Response = slices.Clone(r.Response)
		out = append(out, r)
	}
	return out
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) LockProduct(_ context.Context, id int64) (orders.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return orders.Product{}, orders.ErrNotFound
	}
	return p, nil
}

func (t *tx) AdjustStock(_ context.Context, id int64, delta int) error {
	p, ok := t.st.products[id]
	if !ok {
		return orders.ErrNotFound
	}
	p.Stock += delta
	p.UpdatedAt = t.now()
	t.st.products[id] = p
	return nil
}

func (t *tx) InsertOrder(_ context.Context, o *orders.Order) error {
	t.st.nextOrder++
	o.ID = t.st.nextOrder
	if o.CreatedAt.IsZero() {
		o.CreatedAt = t.now()
	}
	o.UpdatedAt = o.CreatedAt
	stored := *o
	stored.Items = nil
	t.st.orders[o.ID] = stored
	return nil
}

func (t *tx) InsertOrderItems(_ context.Context, orderID int64, items []orders.OrderItem) error {
	if _, ok := t.st.orders[orderID]; !ok {
		return orders.ErrNotFound
	}
	for i := range items {
		if _, ok := t.st.products[items[i].ProductID]; !ok {
			return orders.ErrNotFound
		}
		t.st.nextItem++
		items[i].ID = t.st.nextItem
		items[i].OrderID = orderID
	}
	t.st.items[orderID] = append(t.st.items[orderID], items...)
	return nil
}

func (t *tx) LockOrder(_ context.Context, id int64) (*orders.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &o, nil
}

func (t *tx) OrderItems(_ context.Context, orderID int64) ([]orders.OrderItem, error) {
	return slices.Clone(t.st.items[orderID]), nil
}

func (t *tx) SetOrderStatus(_ context.Context, id int64, status orders.Status) (time.Time, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return time.Time{}, orders.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = t.now().Truncate(time.Microsecond)
	t.st.orders[id] = o
	return o.UpdatedAt, nil
}

// The store mutex already serializes every transaction.
func (t *tx) LockIdempotencyKey(context.Context, string, string) error { return nil }

func (t *tx) FindIdempotency(_ context.Context, key, targetType string) (*orders.IdempotencyRecord, error) {
	r, ok := t.st.idempotency[idemKey{key, targetType}]
	if !ok {
		return nil, nil
	}
	r.Response = slices.Clone(r.Response)
	return &r, nil
}

func (t *tx) InsertIdempotency(_ context.Context, rec orders.IdempotencyRecord) error {
	k := idemKey{rec.Key, rec.TargetType}
	if _, ok := t.st.idempotency[k]; ok {
		return orders.ErrDuplicate
	}
	rec.Response = slices.Clone(rec.Response)
	t.st.idempotency[k] = rec
	return nil
}
