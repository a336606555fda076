package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-orchestrator/internal/orders"
)

// Store implements orders.Store on Postgres. Row locks are SELECT ... FOR
// UPDATE; idempotency keys are serialized with a transaction-scoped
// advisory lock, which also covers keys that have no row yet.
type Store struct{ DB *pgxpool.Pool }

var _ orders.Store = (*Store)(nil)

const (
	productCols = `id, sku, name, price_cents, stock, created_at, updated_at`
	orderCols   = `id, customer_id, status, total_cents, created_at, updated_at`
	itemCols    = `id, order_id, product_id, sku, name, qty, unit_price_cents, subtotal_cents`
)

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.PriceCents, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return p, err
}

func scanOrder(row rowScanner) (orders.Order, error) {
	var o orders.Order
	var status string
	err := row.Scan(&o.ID, &o.CustomerID, &status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	o.Status = orders.Status(status)
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return o, err
}

func scanItem(row rowScanner) (orders.OrderItem, error) {
	var it orders.OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SKU, &it.Name, &it.Qty, &it.UnitPriceCents, &it.SubtotalCents)
	return it, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderIDs []int64) (map[int64][]orders.OrderItem, error) {
	rows, err := q.Query(ctx, `SELECT `+itemCols+` FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, product_id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]orders.OrderItem, len(orderIDs))
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	items, err := loadItems(ctx, s.DB, []int64{id})
	if err != nil {
		return nil, err
	}
	o.Items = items[id]
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	q := `SELECT ` + orderCols + ` FROM orders`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]orders.Order, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	items, err := loadItems(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *orders.Product) error {
	err := s.DB.QueryRow(ctx, `
		INSERT INTO products (sku, name, price_cents, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id, updated_at`,
		p.SKU, p.Name, p.PriceCents, p.Stock, p.CreatedAt,
	).Scan(&p.ID, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return orders.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, id int64, u orders.ProductUpdate) (*orders.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `
		UPDATE products
		   SET price_cents = COALESCE($2, price_cents),
		       stock       = COALESCE($3, stock),
		       updated_at  = now()
		 WHERE id = $1
		RETURNING `+productCols,
		id, u.PriceCents, u.Stock,
	))
	if isNoRows(err) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update product %d: %w", id, err)
	}
	return &p, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*orders.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productCols+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := make([]orders.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockProduct(ctx context.Context, id int64) (orders.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if isNoRows(err) {
		return orders.Product{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Product{}, fmt.Errorf("lock product %d: %w", id, err)
	}
	return p, nil
}

func (t *pgTx) AdjustStock(ctx context.Context, id int64, delta int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`, id, delta)
	if err != nil {
		return fmt.Errorf("adjust stock %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (customer_id, status, total_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id, updated_at`,
		o.CustomerID, string(o.Status), o.TotalCents, o.CreatedAt,
	).Scan(&o.ID, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) InsertOrderItems(ctx context.Context, orderID int64, items []orders.OrderItem) error {
	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(`
			INSERT INTO order_items (order_id, product_id, sku, name, qty, unit_price_cents, subtotal_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			orderID, it.ProductID, it.SKU, it.Name, it.Qty, it.UnitPriceCents, it.SubtotalCents)
	}
	br := t.tx.SendBatch(ctx, b)
	for i := range items {
		if err := br.QueryRow().Scan(&items[i].ID); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert order item %d: %w", items[i].ProductID, err)
		}
		items[i].OrderID = orderID
	}
	return br.Close()
}

func (t *pgTx) LockOrder(ctx context.Context, id int64) (*orders.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if isNoRows(err) {
		return nil, orders.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %d: %w", id, err)
	}
	return &o, nil
}

func (t *pgTx) OrderItems(ctx context.Context, orderID int64) ([]orders.OrderItem, error) {
	items, err := loadItems(ctx, t.tx, []int64{orderID})
	if err != nil {
		return nil, err
	}
	return items[orderID], nil
}

func (t *pgTx) SetOrderStatus(ctx context.Context, id int64, s orders.Status) (time.Time, error) {
	var at time.Time
	err := t.tx.QueryRow(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING updated_at`, id, string(s)).Scan(&at)
	if isNoRows(err) {
		return time.Time{}, orders.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("set order status %d: %w", id, err)
	}
	return at.UTC(), nil
}

func (t *pgTx) LockIdempotencyKey(ctx context.Context, key, targetType string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2::text, 0))`, key, targetType)
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (t *pgTx) FindIdempotency(ctx context.Context, key, targetType string) (*orders.IdempotencyRecord, error) {
	var r orders.IdempotencyRecord
	err := t.tx.QueryRow(ctx, `
		SELECT key, target_type, target_id, status, response, created_at, expires_at
		  FROM idempotency_keys
		 WHERE key = $1 AND target_type = $2`,
		key, targetType,
	).Scan(&r.Key, &r.TargetType, &r.TargetID, &r.Status, &r.Response, &r.CreatedAt, &r.ExpiresAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find idempotency key: %w", err)
	}
	return &r, nil
}

func (t *pgTx) InsertIdempotency(ctx context.Context, rec orders.IdempotencyRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO idempotency_keys (key, target_type, target_id, status, response, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.Key, rec.TargetType, rec.TargetID, rec.Status, rec.Response, rec.CreatedAt, rec.ExpiresAt)
	if isUniqueViolation(err) {
		return orders.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	return nil
}
