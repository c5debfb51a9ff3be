package cache

import (
	"context"
	"time"

	"caixa/backend/internal/domain"
)

// ReceiptCache remembers checkout receipts by idempotency key so a retried
// checkout can be answered without touching the database.
type ReceiptCache interface {
	Get(ctx context.Context, idempotencyKey string) (*domain.SaleReceipt, bool, error)
	Set(ctx context.Context, idempotencyKey string, value *domain.SaleReceipt, ttl time.Duration) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ string) (*domain.SaleReceipt, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ string, _ *domain.SaleReceipt, _ time.Duration) error {
	return nil
}
