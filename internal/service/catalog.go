package service

import (
	"context"
	"fmt"
	"strings"

	"tokoku/backend/internal/cache"
	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/pricing"
	"tokoku/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeInactive)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// CreateProduct registers a product with zero stock and books the initial
// stock through the ledger in the same transaction.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Brand = strings.TrimSpace(req.Brand)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}

	var created *domain.Product
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.CreateProduct(ctx, domain.Product{
			SKU:                   req.SKU,
			Name:                  req.Name,
			Brand:                 req.Brand,
			Category:              req.Category,
			CostCents:             req.CostCents,
			PriceCents:            req.PriceCents,
			PromotionalPriceCents: req.PromotionalPriceCents,
			Active:                true,
		})
		if err != nil {
			return err
		}
		if req.InitialStock > 0 {
			if err := tx.IncrementStock(ctx, created.ID, req.InitialStock); err != nil {
				return err
			}
			created.Stock = req.InitialStock
		}
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%d,stock=%d", created.SKU, created.PriceCents, created.Stock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name is required", store.ErrInvalidTransaction)
		}
		updated.Name = name
	}
	if req.Brand != nil {
		updated.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.Category != nil {
		updated.Category = strings.ToLower(strings.TrimSpace(*req.Category))
	}
	if req.PriceCents != nil {
		updated.PriceCents = *req.PriceCents
	}
	if req.PromotionalPriceCents != nil {
		updated.PromotionalPriceCents = *req.PromotionalPriceCents
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("price=%d,promo=%d,active=%t", saved.PriceCents, saved.PromotionalPriceCents, saved.Active))
	return *saved, nil
}

// PublicCatalog lists active products with their effective price. The listing
// is served from the catalog cache when possible; cache failures fall through
// to the repository.
func (s *Service) PublicCatalog(ctx context.Context) ([]domain.CatalogProduct, error) {
	cached, hit, err := s.catalog.Get(ctx, cache.CatalogKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("catalog cache read failed")
	}
	if hit {
		return cached, nil
	}

	generation := s.catalogGen.Load()
	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return nil, err
	}

	catalog := make([]domain.CatalogProduct, 0, len(products))
	for _, product := range products {
		catalog = append(catalog, domain.CatalogProduct{
			ID:                  product.ID,
			Name:                product.Name,
			Brand:               product.Brand,
			Category:            product.Category,
			PriceCents:          product.PriceCents,
			EffectivePriceCents: pricing.ResolveUnitPrice(product, 1),
			OnPromotion:         pricing.PromotionActive(product),
			InStock:             product.Stock > 0,
		})
	}

	// An invalidation since the read means this listing may already be stale.
	if s.catalogGen.Load() != generation {
		return catalog, nil
	}
	if err := s.catalog.Set(ctx, cache.CatalogKey, catalog, s.catalogTTL); err != nil {
		s.log.Warn().Err(err).Msg("catalog cache write failed")
	}
	return catalog, nil
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	s.catalogGen.Add(1)
	if err := s.catalog.Invalidate(ctx, cache.CatalogKey); err != nil {
		s.log.Warn().Err(err).Msg("catalog cache invalidation failed")
	}
}
