package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
	"github.com/ariefcatur/go-order-orchestrator/internal/auth"
	"github.com/ariefcatur/go-order-orchestrator/internal/customers"
	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
	"github.com/ariefcatur/go-order-orchestrator/internal/postgres"
)

// Run with TEST_POSTGRES_DSN pointing at a disposable database; the tables
// are truncated.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, postgres.Migrate(ctx, db))
	_, err = db.Exec(ctx, `TRUNCATE idempotency_keys, order_items, orders, products, customers RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return db
}

type registry struct{ repo *customers.Repo }

func (r registry) GetCustomer(ctx context.Context, id int64) (*customers.Customer, error) {
	return r.repo.Get(ctx, id)
}

func newService(t *testing.T, db *pgxpool.Pool) *orders.Service {
	t.Helper()
	_, err := db.Exec(context.Background(),
		`INSERT INTO customers (name, email, phone) VALUES ('Ana', 'ana@example.com', NULL)`)
	require.NoError(t, err)
	return &orders.Service{
		Store:     &postgres.Store{DB: db},
		Customers: registry{repo: &customers.Repo{DB: db}},
	}
}

func TestStore_OrderLifecycle(t *testing.T) {
	db := testPool(t)
	svc := newService(t, db)
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, auth.System, orders.ProductInput{SKU: "PG-1", Name: "Mug", PriceCents: 1200, Stock: 3})
	require.NoError(t, err)

	_, err = svc.CreateProduct(ctx, auth.System, orders.ProductInput{SKU: "PG-1", Name: "Mug", PriceCents: 1200})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	o, err := svc.CreateOrder(ctx, orders.CreateOrderInput{
		Caller: auth.System, CustomerID: 1, Items: []orders.ItemInput{{ProductID: p.ID, Qty: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2400), o.TotalCents)

	stored, err := svc.GetOrder(ctx, auth.System, o.ID)
	require.NoError(t, err)
	assert.True(t, o.CreatedAt.Equal(stored.CreatedAt))
	require.Len(t, stored.Items, 1)
	assert.Equal(t, int64(1200), stored.Items[0].UnitPriceCents)

	first, err := svc.ConfirmOrder(ctx, orders.ConfirmOrderInput{Caller: auth.System, OrderID: o.ID, IdempotencyKey: "pg-key"})
	require.NoError(t, err)
	confirmed, err := svc.GetOrder(ctx, auth.System, o.ID)
	require.NoError(t, err)
	assert.True(t, first.Order.UpdatedAt.Equal(confirmed.UpdatedAt), "payload carries the stored updated_at")
	again, err := svc.ConfirmOrder(ctx, orders.ConfirmOrderInput{Caller: auth.System, OrderID: o.ID, IdempotencyKey: "pg-key"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Payload, again.Payload)

	_, err = svc.CancelOrder(ctx, orders.CancelOrderInput{Caller: auth.System, OrderID: o.ID})
	require.NoError(t, err)
	got, err := svc.GetProduct(ctx, auth.System, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)

	_, err = svc.CreateOrder(ctx, orders.CreateOrderInput{
		Caller: auth.System, CustomerID: 99, Items: []orders.ItemInput{{ProductID: p.ID, Qty: 1}},
	})
	assert.Equal(t, apperr.KindInvalidReference, apperr.KindOf(err))
}

func TestStore_ConcurrentReservations(t *testing.T) {
	db := testPool(t)
	svc := newService(t, db)
	ctx := context.Background()

	a, err := svc.CreateProduct(ctx, auth.System, orders.ProductInput{SKU: "A", Name: "A", PriceCents: 100, Stock: 10})
	require.NoError(t, err)
	b, err := svc.CreateProduct(ctx, auth.System, orders.ProductInput{SKU: "B", Name: "B", PriceCents: 100, Stock: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			items := []orders.ItemInput{{ProductID: a.ID, Qty: 1}, {ProductID: b.ID, Qty: 1}}
			if i%2 == 0 {
				items[0], items[1] = items[1], items[0]
			}
			cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			_, err := svc.CreateOrder(cctx, orders.CreateOrderInput{Caller: auth.System, CustomerID: 1, Items: items})
			if err != nil {
				assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
			}
		}(i)
	}
	wg.Wait()

	pa, err := svc.GetProduct(ctx, auth.System, a.ID)
	require.NoError(t, err)
	pb, err := svc.GetProduct(ctx, auth.System, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pa.Stock)
	assert.Equal(t, 0, pb.Stock)

	list, err := svc.ListOrders(ctx, auth.System, orders.OrderFilter{Limit: 50})
	require.NoError(t, err)
	assert.Len(t, list, 10)
}
