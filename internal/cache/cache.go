package cache

import (
	"context"
	"errors"
	"time"

	"kasirbilling/backend/internal/domain"
)

// ErrCorruptEntry marks a cached receipt that no longer decodes. Callers
// should drop the entry and read through.
var ErrCorruptEntry = errors.New("cache: corrupt entry")

// ReceiptCache holds committed purchases. Entries never go stale because a
// committed purchase is immutable; the TTL only bounds memory.
type ReceiptCache interface {
	Get(ctx context.Context, purchaseID int64) (*domain.Purchase, bool, error)
	Set(ctx context.Context, purchase *domain.Purchase, ttl time.Duration) error
	Delete(ctx context.Context, purchaseID int64) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ int64) (*domain.Purchase, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ *domain.Purchase, _ time.Duration) error {
	return nil
}

func (NoopReceiptCache) Delete(_ context.Context, _ int64) error {
	return nil
}
