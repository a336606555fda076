package orders

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Store is the persistence port. Everything that mutates stock or order
// state runs inside InTx; the function's error rolls the transaction back.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id int64) (*Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)

	CreateProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, id int64, u ProductUpdate) (*Product, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// Tx is a single database transaction. Lock* methods hold an exclusive row
// lock until the transaction ends.
type Tx interface {
	LockProduct(ctx context.Context, id int64) (Product, error)
	AdjustStock(ctx context.Context, id int64, delta int) error

	InsertOrder(ctx context.Context, o *Order) error
	InsertOrderItems(ctx context.Context, orderID int64, items []OrderItem) error
	LockOrder(ctx context.Context, id int64) (*Order, error)
	OrderItems(ctx context.Context, orderID int64) ([]OrderItem, error)
	// SetOrderStatus returns the updated_at the store recorded.
	SetOrderStatus(ctx context.Context, id int64, s Status) (time.Time, error)

	// LockIdempotencyKey serializes transactions carrying the same
	// (key, targetType) even when no record exists yet.
	LockIdempotencyKey(ctx context.Context, key, targetType string) error
	FindIdempotency(ctx context.Context, key, targetType string) (*IdempotencyRecord, error)
	InsertIdempotency(ctx context.Context, rec IdempotencyRecord) error
}
