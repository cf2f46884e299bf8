package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/store"
	"tokoku/backend/internal/xid"
)

// pgTx is the store.Tx handed out by InTx.
type pgTx struct {
	ledger
}

const saleColumns = `id, customer_id, customer_name, items, subtotal_cents, discount_kind, discount_value, discount_cents,
	total_cents, amount_paid_cents, change_cents, shipping_cents, status, payment_method, notes, created_by,
	created_at, updated_at, paid_at`

const receiptColumns = `id, document_number, supplier_id, supplier_name, receipt_date, items, cost_total_cents,
	received_by, notes, created_at, updated_at`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var (
		sale   domain.Sale
		items  []byte
		paidAt sql.NullTime
	)
	err := row.Scan(&sale.ID, &sale.CustomerID, &sale.CustomerName, &items, &sale.SubtotalCents, &sale.DiscountKind,
		&sale.DiscountValue, &sale.DiscountCents, &sale.TotalCents, &sale.AmountPaidCents, &sale.ChangeCents,
		&sale.ShippingCents, &sale.Status, &sale.PaymentMethod, &sale.Notes, &sale.CreatedBy,
		&sale.CreatedAt, &sale.UpdatedAt, &paidAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return nil, fmt.Errorf("decode sale %s items: %w", sale.ID, err)
	}
	if paidAt.Valid {
		at := paidAt.Time.UTC()
		sale.PaidAt = &at
	}
	return &sale, nil
}

func scanReceipt(row rowScanner) (*domain.GoodsReceipt, error) {
	var (
		receipt domain.GoodsReceipt
		items   []byte
	)
	err := row.Scan(&receipt.ID, &receipt.DocumentNumber, &receipt.SupplierID, &receipt.SupplierName, &receipt.ReceiptDate,
		&items, &receipt.CostTotalCents, &receipt.ReceivedBy, &receipt.Notes, &receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &receipt.Items); err != nil {
		return nil, fmt.Errorf("decode goods receipt %s items: %w", receipt.ID, err)
	}
	return &receipt, nil
}

func (t *pgTx) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidLine
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = now

	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, sale.ID, sale.CustomerID, sale.CustomerName, string(items), sale.SubtotalCents, sale.DiscountKind,
		sale.DiscountValue, sale.DiscountCents, sale.TotalCents, sale.AmountPaidCents, sale.ChangeCents,
		sale.ShippingCents, sale.Status, sale.PaymentMethod, sale.Notes, sale.CreatedBy,
		sale.CreatedAt, sale.UpdatedAt, sale.PaidAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &sale, nil
}

func (t *pgTx) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	return scanSale(t.q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return nil, err
	}
	return scanSale(t.q.QueryRowContext(ctx, `
		UPDATE sales
		SET customer_id = $2, customer_name = $3, items = $4, subtotal_cents = $5, discount_kind = $6,
			discount_value = $7, discount_cents = $8, total_cents = $9, amount_paid_cents = $10,
			change_cents = $11, shipping_cents = $12, status = $13, payment_method = $14, notes = $15,
			paid_at = $16, updated_at = now()
		WHERE id = $1
		RETURNING `+saleColumns,
		sale.ID, sale.CustomerID, sale.CustomerName, string(items), sale.SubtotalCents, sale.DiscountKind,
		sale.DiscountValue, sale.DiscountCents, sale.TotalCents, sale.AmountPaidCents, sale.ChangeCents,
		sale.ShippingCents, sale.Status, sale.PaymentMethod, sale.Notes, sale.PaidAt))
}

func (t *pgTx) DeleteSale(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *pgTx) CreateGoodsReceipt(ctx context.Context, receipt domain.GoodsReceipt) (*domain.GoodsReceipt, error) {
	if len(receipt.Items) == 0 {
		return nil, store.ErrInvalidLine
	}
	if receipt.ID == "" {
		receipt.ID = xid.New("grn")
	}
	now := time.Now().UTC()
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = now
	}
	if receipt.ReceiptDate.IsZero() {
		receipt.ReceiptDate = now
	}
	receipt.UpdatedAt = now

	items, err := json.Marshal(receipt.Items)
	if err != nil {
		return nil, err
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO goods_receipts (`+receiptColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, receipt.ID, receipt.DocumentNumber, receipt.SupplierID, receipt.SupplierName, receipt.ReceiptDate,
		string(items), receipt.CostTotalCents, receipt.ReceivedBy, receipt.Notes, receipt.CreatedAt, receipt.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &receipt, nil
}

func (t *pgTx) LockGoodsReceipt(ctx context.Context, id string) (*domain.GoodsReceipt, error) {
	return scanReceipt(t.q.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM goods_receipts WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) DeleteGoodsReceipt(ctx context.Context, id string) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM goods_receipts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := newConditions()
	if filter.CustomerID != "" {
		where.add("customer_id = $%d", filter.CustomerID)
	}
	if filter.Status != "" {
		where.add("status = $%d", filter.Status)
	}
	if !filter.From.IsZero() {
		where.add("created_at >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where.add("created_at < $%d", filter.To.UTC())
	}

	query := `SELECT ` + saleColumns + ` FROM sales` + where.sql() + ` ORDER BY created_at DESC` + where.limit(filter.Limit)
	rows, err := s.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, rows.Err()
}

func (s *Store) FindGoodsReceiptByID(ctx context.Context, id string) (*domain.GoodsReceipt, error) {
	return scanReceipt(s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM goods_receipts WHERE id = $1`, id))
}

func (s *Store) ListGoodsReceipts(ctx context.Context, filter domain.GoodsReceiptFilter) ([]domain.GoodsReceipt, error) {
	where := newConditions()
	if filter.SupplierID != "" {
		where.add("supplier_id = $%d", filter.SupplierID)
	}
	if !filter.From.IsZero() {
		where.add("receipt_date >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where.add("receipt_date < $%d", filter.To.UTC())
	}

	query := `SELECT ` + receiptColumns + ` FROM goods_receipts` + where.sql() + ` ORDER BY receipt_date DESC` + where.limit(filter.Limit)
	rows, err := s.db.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]domain.GoodsReceipt, 0, 32)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *receipt)
	}
	return receipts, rows.Err()
}

// conditions collects WHERE clauses with positional arguments.
type conditions struct {
	clauses []string
	args    []any
}

func newConditions() *conditions {
	return &conditions{}
}

func (c *conditions) add(format string, arg any) {
	c.args = append(c.args, arg)
	c.clauses = append(c.clauses, fmt.Sprintf(format, len(c.args)))
}

func (c *conditions) sql() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

func (c *conditions) limit(limit int) string {
	if limit < 1 {
		limit = 100
	}
	c.args = append(c.args, limit)
	return fmt.Sprintf(" LIMIT $%d", len(c.args))
}
