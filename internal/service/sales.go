package service

import (
	"context"
	"fmt"
	"strings"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/lock"
	"tokoku/backend/internal/pricing"
	"tokoku/backend/internal/store"
)

// pricedSale is a sale whose lines have been resolved against the ledger but
// not yet persisted.
type pricedSale struct {
	lines    []domain.SaleLine
	subtotal int64
	discount pricing.Discount
	demand   map[string]int
	products map[string]domain.Product
}

// CreatePendingSale records a reservation-style sale. Stock is checked but
// not touched; ConfirmSale debits it later.
func (s *Service) CreatePendingSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" {
		return domain.SaleResponse{}, fmt.Errorf("%w: customer_id is required", store.ErrInvalidTransaction)
	}
	if err := s.prepareSaleRequest(&req); err != nil {
		return domain.SaleResponse{}, err
	}

	var created *domain.Sale
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		customer, err := tx.FindCustomer(ctx, req.CustomerID)
		if err != nil {
			return fmt.Errorf("customer %s: %w", req.CustomerID, err)
		}

		priced, err := s.priceSale(ctx, tx, req)
		if err != nil {
			return err
		}
		if err := checkAvailability(priced.demand, priced.products); err != nil {
			return err
		}

		sale := s.newSale(ctx, req, priced, domain.SaleStatusPending)
		sale.CustomerName = customer.Name
		sale.AmountPaidCents = 0
		created, err = tx.CreateSale(ctx, sale)
		return err
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, "sale_create_pending", "sale", created.ID, fmt.Sprintf("total=%d,lines=%d", created.TotalCents, len(created.Items)))
	return toSaleResponse(*created), nil
}

// CreatePaidSale records a point-of-sale sale and debits every line in the
// same transaction. A failing line leaves stock exactly as it was.
func (s *Service) CreatePaidSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if err := s.prepareSaleRequest(&req); err != nil {
		return domain.SaleResponse{}, err
	}

	var created *domain.Sale
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		customerName := ""
		if req.CustomerID != "" {
			customer, err := tx.FindCustomer(ctx, req.CustomerID)
			if err != nil {
				return fmt.Errorf("customer %s: %w", req.CustomerID, err)
			}
			customerName = customer.Name
		}

		priced, err := s.priceSale(ctx, tx, req)
		if err != nil {
			return err
		}
		if err := checkAvailability(priced.demand, priced.products); err != nil {
			return err
		}
		if err := debitLines(ctx, tx, priced.lines); err != nil {
			return err
		}

		sale := s.newSale(ctx, req, priced, domain.SaleStatusPaid)
		sale.CustomerName = customerName
		paidAt := s.now()
		sale.PaidAt = &paidAt
		if sale.PaymentMethod == domain.PaymentCash && sale.AmountPaidCents > sale.TotalCents {
			sale.ChangeCents = sale.AmountPaidCents - sale.TotalCents
		}
		created, err = tx.CreateSale(ctx, sale)
		return err
	})
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "sale_create_paid", "sale", created.ID, fmt.Sprintf("total=%d,payment=%s,change=%d", created.TotalCents, created.PaymentMethod, created.ChangeCents))
	return toSaleResponse(*created), nil
}

// PlaceCatalogOrder is the unauthenticated storefront checkout. It always
// produces a pending sale.
func (s *Service) PlaceCatalogOrder(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResponse, error) {
	req.AmountPaidCents = 0
	req.DiscountKind = ""
	req.DiscountValue = 0
	return s.CreatePendingSale(ctx, req)
}

// ConfirmSale moves a pending sale to paid. Current stock is re-checked for
// every line before anything is debited.
func (s *Service) ConfirmSale(ctx context.Context, id string, req domain.SaleConfirmRequest) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if err := s.validateRequest(req); err != nil {
		return domain.Sale{}, err
	}

	var confirmed *domain.Sale
	err := s.withDocumentLock(ctx, lock.SaleKey(id), func() error {
		return s.repo.InTx(ctx, func(tx store.Tx) error {
			sale, err := tx.LockSale(ctx, id)
			if err != nil {
				return fmt.Errorf("sale %s: %w", id, err)
			}
			if sale.Status != domain.SaleStatusPending {
				return fmt.Errorf("%w: sale %s is %s, only pending sales can be confirmed", store.ErrInvalidState, id, sale.Status)
			}

			if err := revalidateStock(ctx, tx, sale.Items); err != nil {
				return err
			}
			if err := debitLines(ctx, tx, sale.Items); err != nil {
				return err
			}

			paidAt := s.now()
			sale.Status = domain.SaleStatusPaid
			sale.PaidAt = &paidAt
			if req.ShippingCents != nil {
				sale.ShippingCents = *req.ShippingCents
			}
			confirmed, err = tx.UpdateSale(ctx, *sale)
			return err
		})
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "sale_confirm", "sale", confirmed.ID, fmt.Sprintf("total=%d,shipping=%d", confirmed.TotalCents, confirmed.ShippingCents))
	return *confirmed, nil
}

// UpdateSaleStatus sets a sale's status and keeps stock in step with it:
// entering paid debits the lines, leaving paid credits them back, and every
// other change only rewrites the status.
func (s *Service) UpdateSaleStatus(ctx context.Context, id string, status string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	status = strings.ToLower(strings.TrimSpace(status))
	if !isSaleStatus(status) {
		return domain.Sale{}, fmt.Errorf("%w: unknown sale status %q", store.ErrInvalidTransaction, status)
	}

	var (
		updated  *domain.Sale
		previous string
	)
	err := s.withDocumentLock(ctx, lock.SaleKey(id), func() error {
		return s.repo.InTx(ctx, func(tx store.Tx) error {
			sale, err := tx.LockSale(ctx, id)
			if err != nil {
				return fmt.Errorf("sale %s: %w", id, err)
			}
			previous = sale.Status
			if sale.Status == status {
				updated = sale
				return nil
			}

			switch {
			case status == domain.SaleStatusPaid:
				if err := debitLines(ctx, tx, sale.Items); err != nil {
					return err
				}
				paidAt := s.now()
				sale.PaidAt = &paidAt
			case sale.Status == domain.SaleStatusPaid:
				if err := creditLines(ctx, tx, sale.Items); err != nil {
					return err
				}
				sale.PaidAt = nil
			}

			sale.Status = status
			updated, err = tx.UpdateSale(ctx, *sale)
			return err
		})
	})
	if err != nil {
		return domain.Sale{}, err
	}
	if previous == status {
		return *updated, nil
	}

	if previous == domain.SaleStatusPaid || status == domain.SaleStatusPaid {
		s.invalidateCatalog(ctx)
	}
	s.logAudit(ctx, "sale_status_update", "sale", updated.ID, fmt.Sprintf("from=%s,to=%s", previous, status))
	return *updated, nil
}

func (s *Service) CancelSale(ctx context.Context, id string) (domain.Sale, error) {
	return s.UpdateSaleStatus(ctx, id, domain.SaleStatusCancelled)
}

// DeleteSale removes a sale. A paid sale's stock goes back on the shelf in
// the same transaction.
func (s *Service) DeleteSale(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)

	var deleted *domain.Sale
	err := s.withDocumentLock(ctx, lock.SaleKey(id), func() error {
		return s.repo.InTx(ctx, func(tx store.Tx) error {
			sale, err := tx.LockSale(ctx, id)
			if err != nil {
				return fmt.Errorf("sale %s: %w", id, err)
			}
			if sale.Status == domain.SaleStatusPaid {
				if err := creditLines(ctx, tx, sale.Items); err != nil {
					return err
				}
			}
			deleted = sale
			return tx.DeleteSale(ctx, id)
		})
	})
	if err != nil {
		return err
	}

	if deleted.Status == domain.SaleStatusPaid {
		s.invalidateCatalog(ctx)
	}
	s.logAudit(ctx, "sale_delete", "sale", deleted.ID, fmt.Sprintf("status=%s,total=%d", deleted.Status, deleted.TotalCents))
	return nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.FindSaleByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) (domain.SaleListResponse, error) {
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	filter.Status = strings.ToLower(strings.TrimSpace(filter.Status))
	if filter.Status != "" && !isSaleStatus(filter.Status) {
		return domain.SaleListResponse{}, fmt.Errorf("%w: unknown sale status %q", store.ErrInvalidTransaction, filter.Status)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return domain.SaleListResponse{}, fmt.Errorf("%w: to is before from", store.ErrInvalidTransaction)
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales}, nil
}

func (s *Service) prepareSaleRequest(req *domain.SaleCreateRequest) error {
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	req.Notes = strings.TrimSpace(req.Notes)
	if err := s.validateRequest(*req); err != nil {
		return err
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: a sale needs at least one line", store.ErrInvalidLine)
	}
	for i, item := range req.Items {
		if err := s.validateLine(i, item); err != nil {
			return err
		}
	}
	return nil
}

// priceSale resolves every requested line against active products and applies
// the discount. Nothing is written.
func (s *Service) priceSale(ctx context.Context, ledger store.Ledger, req domain.SaleCreateRequest) (pricedSale, error) {
	priced := pricedSale{
		lines:  make([]domain.SaleLine, 0, len(req.Items)),
		demand: make(map[string]int, len(req.Items)),
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, strings.TrimSpace(item.ProductID))
	}
	products, err := loadActiveProducts(ctx, ledger, ids)
	if err != nil {
		return pricedSale{}, err
	}
	priced.products = products

	for i, item := range req.Items {
		product := products[ids[i]]
		unit := pricing.ResolveUnitPrice(product, item.Qty)
		line := domain.SaleLine{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Qty:            item.Qty,
			UnitPriceCents: unit,
			SubtotalCents:  pricing.LineSubtotal(unit, item.Qty),
		}
		priced.lines = append(priced.lines, line)
		priced.demand[product.ID] += item.Qty
		priced.subtotal += line.SubtotalCents
	}

	discount, err := pricing.ApplyDiscount(priced.subtotal, req.DiscountKind, req.DiscountValue)
	if err != nil {
		return pricedSale{}, err
	}
	priced.discount = discount
	return priced, nil
}

func (s *Service) newSale(ctx context.Context, req domain.SaleCreateRequest, priced pricedSale, status string) domain.Sale {
	now := s.now()
	return domain.Sale{
		CustomerID:      req.CustomerID,
		Items:           priced.lines,
		SubtotalCents:   priced.subtotal,
		DiscountKind:    priced.discount.Kind,
		DiscountValue:   priced.discount.Value,
		DiscountCents:   priced.discount.DiscountCents,
		TotalCents:      priced.discount.TotalCents,
		AmountPaidCents: req.AmountPaidCents,
		ShippingCents:   req.ShippingCents,
		Status:          status,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		CreatedBy:       actorName(ctx),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// checkAvailability compares the total requested per product with the stock
// seen when the lines were priced.
func checkAvailability(demand map[string]int, products map[string]domain.Product) error {
	for productID, qty := range demand {
		product := products[productID]
		if product.Stock < qty {
			return fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, product.Name, product.Stock, qty)
		}
	}
	return nil
}

func toSaleResponse(sale domain.Sale) domain.SaleResponse {
	resp := domain.SaleResponse{
		ID:            sale.ID,
		SubtotalCents: sale.SubtotalCents,
		DiscountCents: sale.DiscountCents,
		TotalCents:    sale.TotalCents,
		Status:        sale.Status,
		Sale:          sale,
	}
	if sale.Status == domain.SaleStatusPaid && sale.PaymentMethod == domain.PaymentCash {
		change := sale.ChangeCents
		resp.ChangeCents = &change
	}
	return resp
}

func isSaleStatus(status string) bool {
	switch status {
	case domain.SaleStatusPending, domain.SaleStatusPaid, domain.SaleStatusCancelled:
		return true
	}
	return false
}
