// Package stock guards product quantities during checkout.
package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"caixa/backend/internal/domain"
	"caixa/backend/internal/store"
)

// Aggregate merges lines for the same product and returns them sorted by
// product id, which is also the order rows get locked in.
func Aggregate(lines []domain.StockLine) []domain.StockLine {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		totals[line.ProductID] += line.Quantity
	}
	out := make([]domain.StockLine, 0, len(totals))
	for id, qty := range totals {
		out = append(out, domain.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// ReserveAndDecrement must run inside the checkout transaction. It re-reads
// every product and decrements it with a guarded update; the first product
// that cannot cover its quantity aborts the batch with
// *domain.InsufficientStockError and the caller's rollback undoes any
// decrement already applied. The returned products are the pre-decrement
// rows, keyed by id.
func ReserveAndDecrement(ctx context.Context, repo store.ProductRepository, lines []domain.StockLine) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(lines))
	for _, line := range Aggregate(lines) {
		if line.Quantity < 1 {
			return nil, &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("product %s quantity must be at least 1", line.ProductID)}
		}
		product, err := repo.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &domain.NotFoundError{Entity: "product", ID: line.ProductID}
			}
			return nil, fmt.Errorf("load product %s: %w", line.ProductID, err)
		}

		ok, err := repo.ConditionalDecrement(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return nil, fmt.Errorf("decrement product %s: %w", line.ProductID, err)
		}
		if !ok {
			return nil, &domain.InsufficientStockError{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: product.Quantity,
			}
		}
		products[line.ProductID] = *product
	}
	return products, nil
}
