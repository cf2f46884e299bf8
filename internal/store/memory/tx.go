package memory

import (
	"context"
	"time"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/store"
	"tokoku/backend/internal/xid"
)

var _ store.Tx = (*memTx)(nil)

// memTx runs with Store.mu held by InTx and records how to undo each write.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) restoreProduct(previous domain.Product) {
	t.undo = append(t.undo, func() { t.s.products[previous.ID] = previous })
}

func (t *memTx) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	return t.s.getProduct(id)
}

func (t *memTx) FindActiveProduct(_ context.Context, id string) (*domain.Product, error) {
	return t.s.findActiveProduct(id)
}

func (t *memTx) IncrementStock(_ context.Context, id string, delta int) error {
	previous, err := t.s.incrementStock(id, delta)
	if err != nil {
		return err
	}
	t.restoreProduct(previous)
	return nil
}

func (t *memTx) DebitStock(_ context.Context, id string, qty int) error {
	previous, err := t.s.debitStock(id, qty)
	if err != nil {
		return err
	}
	t.restoreProduct(previous)
	return nil
}

func (t *memTx) SetCost(_ context.Context, id string, costCents int64) error {
	previous, err := t.s.setCost(id, costCents)
	if err != nil {
		return err
	}
	t.restoreProduct(previous)
	return nil
}

func (t *memTx) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	created, err := t.s.createProduct(product)
	if err != nil {
		return nil, err
	}
	t.undo = append(t.undo, func() { delete(t.s.products, created.ID) })
	return created, nil
}

func (t *memTx) FindCustomer(_ context.Context, id string) (*domain.Customer, error) {
	return t.s.findCustomer(id)
}

func (t *memTx) FindSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	return t.s.findSupplier(id)
}

func (t *memTx) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidLine
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if _, exists := t.s.sales[sale.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = now

	id := sale.ID
	t.s.sales[id] = cloneSale(sale)
	t.undo = append(t.undo, func() { delete(t.s.sales, id) })

	created := cloneSale(sale)
	return &created, nil
}

func (t *memTx) LockSale(_ context.Context, id string) (*domain.Sale, error) {
	sale, exists := t.s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneSale(sale)
	return &copied, nil
}

func (t *memTx) UpdateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	previous, exists := t.s.sales[sale.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	sale.CreatedAt = previous.CreatedAt
	sale.UpdatedAt = time.Now().UTC()
	t.s.sales[sale.ID] = cloneSale(sale)
	t.undo = append(t.undo, func() { t.s.sales[previous.ID] = previous })

	updated := cloneSale(sale)
	return &updated, nil
}

func (t *memTx) DeleteSale(_ context.Context, id string) error {
	previous, exists := t.s.sales[id]
	if !exists {
		return store.ErrNotFound
	}
	delete(t.s.sales, id)
	t.undo = append(t.undo, func() { t.s.sales[id] = previous })
	return nil
}

func (t *memTx) CreateGoodsReceipt(_ context.Context, receipt domain.GoodsReceipt) (*domain.GoodsReceipt, error) {
	if len(receipt.Items) == 0 {
		return nil, store.ErrInvalidLine
	}
	if receipt.ID == "" {
		receipt.ID = xid.New("grn")
	}
	if _, exists := t.s.receipts[receipt.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = now
	}
	if receipt.ReceiptDate.IsZero() {
		receipt.ReceiptDate = now
	}
	receipt.UpdatedAt = now

	id := receipt.ID
	t.s.receipts[id] = cloneReceipt(receipt)
	t.undo = append(t.undo, func() { delete(t.s.receipts, id) })

	created := cloneReceipt(receipt)
	return &created, nil
}

func (t *memTx) LockGoodsReceipt(_ context.Context, id string) (*domain.GoodsReceipt, error) {
	receipt, exists := t.s.receipts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneReceipt(receipt)
	return &copied, nil
}

func (t *memTx) DeleteGoodsReceipt(_ context.Context, id string) error {
	previous, exists := t.s.receipts[id]
	if !exists {
		return store.ErrNotFound
	}
	delete(t.s.receipts, id)
	t.undo = append(t.undo, func() { t.s.receipts[id] = previous })
	return nil
}
