package cache

import (
	"context"
	"time"

	"tokoku/backend/internal/domain"
)

const CatalogKey = "catalog:active"

// CatalogCache holds the public catalog listing. Misses are reported as
// (nil, false, nil).
type CatalogCache interface {
	Get(ctx context.Context, key string) ([]domain.CatalogProduct, bool, error)
	Set(ctx context.Context, key string, value []domain.CatalogProduct, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.CatalogProduct, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.CatalogProduct, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
