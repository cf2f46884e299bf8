package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/lock"
	"tokoku/backend/internal/store"
)

// CreateGoodsReceipt books incoming stock from an active supplier. Each line
// credits stock and overwrites the product's last purchase cost; the whole
// receipt commits or none of it does.
func (s *Service) CreateGoodsReceipt(ctx context.Context, req domain.GoodsReceiptCreateRequest) (domain.GoodsReceiptResponse, error) {
	req.SupplierID = strings.TrimSpace(req.SupplierID)
	req.DocumentNumber = strings.TrimSpace(req.DocumentNumber)
	req.Notes = strings.TrimSpace(req.Notes)
	if req.SupplierID == "" {
		return domain.GoodsReceiptResponse{}, fmt.Errorf("%w: supplier_id is required", store.ErrInvalidTransaction)
	}
	if err := s.validateRequest(req); err != nil {
		return domain.GoodsReceiptResponse{}, err
	}
	if len(req.Items) == 0 {
		return domain.GoodsReceiptResponse{}, fmt.Errorf("%w: a goods receipt needs at least one line", store.ErrInvalidLine)
	}
	for i, item := range req.Items {
		if err := s.validateLine(i, item); err != nil {
			return domain.GoodsReceiptResponse{}, err
		}
	}
	receiptDate, err := s.parseReceiptDate(req.ReceiptDate)
	if err != nil {
		return domain.GoodsReceiptResponse{}, err
	}

	var created *domain.GoodsReceipt
	err = s.repo.InTx(ctx, func(tx store.Tx) error {
		supplier, err := tx.FindSupplier(ctx, req.SupplierID)
		if err != nil {
			return fmt.Errorf("supplier %s: %w", req.SupplierID, err)
		}
		if !supplier.Active {
			return fmt.Errorf("%w: supplier %s", store.ErrInactive, supplier.Name)
		}

		ids := make([]string, 0, len(req.Items))
		for _, item := range req.Items {
			ids = append(ids, strings.TrimSpace(item.ProductID))
		}
		products, err := loadActiveProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		lines := make([]domain.ReceiptLine, 0, len(req.Items))
		costTotal := int64(0)
		for i, item := range req.Items {
			product := products[ids[i]]
			line := domain.ReceiptLine{
				ProductID:     product.ID,
				ProductName:   product.Name,
				Qty:           item.Qty,
				UnitCostCents: item.UnitCostCents,
				LineCostCents: item.UnitCostCents * int64(item.Qty),
			}
			if err := tx.IncrementStock(ctx, product.ID, item.Qty); err != nil {
				return fmt.Errorf("product %s: %w", product.ID, err)
			}
			if err := tx.SetCost(ctx, product.ID, item.UnitCostCents); err != nil {
				return fmt.Errorf("product %s: %w", product.ID, err)
			}
			lines = append(lines, line)
			costTotal += line.LineCostCents
		}

		now := s.now()
		created, err = tx.CreateGoodsReceipt(ctx, domain.GoodsReceipt{
			DocumentNumber: req.DocumentNumber,
			SupplierID:     supplier.ID,
			SupplierName:   supplier.Name,
			ReceiptDate:    receiptDate,
			Items:          lines,
			CostTotalCents: costTotal,
			ReceivedBy:     actorName(ctx),
			Notes:          req.Notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		return err
	})
	if err != nil {
		return domain.GoodsReceiptResponse{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "goods_receipt_create", "goods_receipt", created.ID, fmt.Sprintf("supplier=%s,lines=%d,cost_total=%d", created.SupplierID, len(created.Items), created.CostTotalCents))
	return domain.GoodsReceiptResponse{GoodsReceipt: *created}, nil
}

// ReverseGoodsReceipt takes a receipt's quantities back out of stock and
// deletes it. Stock may go negative when goods were sold in the meantime.
func (s *Service) ReverseGoodsReceipt(ctx context.Context, id string) (domain.GoodsReceiptResponse, error) {
	id = strings.TrimSpace(id)

	var reversed *domain.GoodsReceipt
	err := s.withDocumentLock(ctx, lock.ReceiptKey(id), func() error {
		return s.repo.InTx(ctx, func(tx store.Tx) error {
			receipt, err := tx.LockGoodsReceipt(ctx, id)
			if err != nil {
				return fmt.Errorf("goods receipt %s: %w", id, err)
			}
			for _, move := range receiptMoves(receipt.Items) {
				if err := tx.IncrementStock(ctx, move.productID, -move.qty); err != nil {
					return fmt.Errorf("product %s: %w", move.productID, err)
				}
			}
			reversed = receipt
			return tx.DeleteGoodsReceipt(ctx, id)
		})
	})
	if err != nil {
		return domain.GoodsReceiptResponse{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "goods_receipt_reverse", "goods_receipt", reversed.ID, fmt.Sprintf("supplier=%s,lines=%d,cost_total=%d", reversed.SupplierID, len(reversed.Items), reversed.CostTotalCents))
	return domain.GoodsReceiptResponse{GoodsReceipt: *reversed}, nil
}

func (s *Service) GetGoodsReceipt(ctx context.Context, id string) (domain.GoodsReceipt, error) {
	receipt, err := s.repo.FindGoodsReceiptByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.GoodsReceipt{}, err
	}
	return *receipt, nil
}

func (s *Service) ListGoodsReceipts(ctx context.Context, filter domain.GoodsReceiptFilter) (domain.GoodsReceiptListResponse, error) {
	filter.SupplierID = strings.TrimSpace(filter.SupplierID)
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return domain.GoodsReceiptListResponse{}, fmt.Errorf("%w: to is before from", store.ErrInvalidTransaction)
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}

	receipts, err := s.repo.ListGoodsReceipts(ctx, filter)
	if err != nil {
		return domain.GoodsReceiptListResponse{}, err
	}
	return domain.GoodsReceiptListResponse{GoodsReceipts: receipts}, nil
}

// parseReceiptDate accepts YYYY-MM-DD or RFC 3339. Empty means now.
func (s *Service) parseReceiptDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.now(), nil
	}
	if parsed, err := time.Parse(time.DateOnly, raw); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: receipt_date must be YYYY-MM-DD or RFC 3339", store.ErrInvalidTransaction)
	}
	return parsed.UTC(), nil
}
