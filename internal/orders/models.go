package orders

import "time"

type Product struct {
	ID         int64     `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Order struct {
	ID         int64       `json:"id"`
	CustomerID int64       `json:"customer_id"`
	Status     Status      `json:"status"` // see status.go
	TotalCents int64       `json:"total_cents"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Items      []OrderItem `json:"items"`
}

// OrderItem carries the price snapshot taken at reservation time, never a
// live reference to the product price.
type OrderItem struct {
	ID             int64  `json:"id"`
	OrderID        int64  `json:"order_id"`
	ProductID      int64  `json:"product_id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type IdempotencyRecord struct {
	Key        string
	TargetType string
	TargetID   int64
	Status     string
	Response   []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

type ItemInput struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type ProductInput struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

// ProductUpdate patches price and/or stock; nil fields are left unchanged.
type ProductUpdate struct {
	PriceCents *int64 `json:"price_cents"`
	Stock      *int   `json:"stock"`
}

type OrderFilter struct {
	Status Status
	From   time.Time
	To     time.Time
	Limit  int
}
