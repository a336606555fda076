package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-orchestrator/internal/apperr"
	"github.com/ariefcatur/go-order-orchestrator/internal/logx"
)

// Reservation is what the ledger hands back for one reserved line: the
// quantity taken and the unit price in effect at that moment.
type Reservation struct {
	ProductID      int64
	SKU            string
	Name           string
	Qty            int
	UnitPriceCents int64
}

// Ledger owns stock movements. It never opens a transaction itself.
type Ledger struct{}

// Reserve locks the product row, checks availability and decrements stock.
func (Ledger) Reserve(ctx context.Context, tx Tx, productID int64, qty int) (Reservation, error) {
	p, err := tx.LockProduct(ctx, productID)
	if errors.Is(err, ErrNotFound) {
		return Reservation{}, apperr.Newf(apperr.KindNotFound, "product %d does not exist", productID)
	}
	if err != nil {
		return Reservation{}, apperr.Internal(err, "lock product")
	}
	if p.Stock < qty {
		e := apperr.Newf(apperr.KindInsufficientStock, "insufficient stock for product %d", productID)
		e.Details = map[string]any{"product_id": productID, "required": qty, "available": p.Stock}
		return Reservation{}, e
	}
	if err := tx.AdjustStock(ctx, productID, -qty); err != nil {
		return Reservation{}, apperr.Internal(err, "decrement stock")
	}
	return Reservation{
		ProductID:      p.ID,
		SKU:            p.SKU,
		Name:           p.Name,
		Qty:            qty,
		UnitPriceCents: p.PriceCents,
	}, nil
}

// Restore puts qty back. It only runs as compensation, so a product that
// vanished since the order was placed is logged and skipped.
func (Ledger) Restore(ctx context.Context, tx Tx, productID int64, qty int) error {
	err := tx.AdjustStock(ctx, productID, qty)
	if errors.Is(err, ErrNotFound) {
		logx.FromContext(ctx).Warn("restore skipped: product missing",
			zap.Int64("product_id", productID), zap.Int("qty", qty))
		return nil
	}
	if err != nil {
		return apperr.Internal(err, fmt.Sprintf("restore stock for product %d", productID))
	}
	return nil
}

// SortLines merges duplicate products and orders lines by ascending product
// id. Every reservation walks lines in this order so concurrent orders over
// overlapping products take row locks in the same sequence.
func SortLines(items []ItemInput) []ItemInput {
	byID := make(map[int64]int, len(items))
	out := make([]ItemInput, 0, len(items))
	for _, it := range items {
		if i, ok := byID[it.ProductID]; ok {
			out[i].Qty += it.Qty
			continue
		}
		byID[it.ProductID] = len(out)
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
