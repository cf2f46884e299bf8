package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/lock"
	"tokoku/backend/internal/store"
	"tokoku/backend/internal/store/memory"
)

func TestCreatePendingSaleDoesNotTouchStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := actorCtx("cashier", domain.RoleCashier)
	seedProduct(t, repo, "prd-p", 5000, 15)

	resp, err := svc.CreatePendingSale(ctx, domain.SaleCreateRequest{
		CustomerID: "cus-budi-01",
		Items:      []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPending, resp.Status)
	assert.Nil(t, resp.ChangeCents)
	assert.Equal(t, 15, stockOf(t, repo, "prd-p"))
	assert.Equal(t, "Budi Santoso", resp.Sale.CustomerName)
	assert.Equal(t, "cashier", resp.Sale.CreatedBy)
}

func TestCreatePendingSaleRequiresCustomer(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-p", 5000, 15)
	items := []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 1}}

	_, err := svc.CreatePendingSale(context.Background(), domain.SaleCreateRequest{Items: items})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.CreatePendingSale(context.Background(), domain.SaleCreateRequest{CustomerID: "cus-ghost", Items: items})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreatePendingSaleChecksAggregatedDemand(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-p", 5000, 4)

	_, err := svc.CreatePendingSale(context.Background(), domain.SaleCreateRequest{
		CustomerID: "cus-budi-01",
		Items: []domain.SaleItemRequest{
			{ProductID: "prd-p", Qty: 3},
			{ProductID: "prd-p", Qty: 3},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestConfirmSaleDebitsOnceAndRejectsSecondConfirm(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := actorCtx("cashier", domain.RoleCashier)
	seedProduct(t, repo, "prd-p", 5000, 15)

	resp, err := svc.CreatePendingSale(ctx, domain.SaleCreateRequest{
		CustomerID: "cus-budi-01",
		Items:      []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 3}},
	})
	require.NoError(t, err)

	shipping := int64(15000)
	confirmed, err := svc.ConfirmSale(ctx, resp.ID, domain.SaleConfirmRequest{ShippingCents: &shipping})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPaid, confirmed.Status)
	assert.Equal(t, shipping, confirmed.ShippingCents)
	require.NotNil(t, confirmed.PaidAt)
	assert.Equal(t, 12, stockOf(t, repo, "prd-p"))

	_, err = svc.ConfirmSale(ctx, resp.ID, domain.SaleConfirmRequest{})
	require.ErrorIs(t, err, store.ErrInvalidState)
	assert.Equal(t, 12, stockOf(t, repo, "prd-p"))

	_, err = svc.ConfirmSale(ctx, "sale-missing", domain.SaleConfirmRequest{})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConfirmSaleRevalidatesDriftedStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := actorCtx("cashier", domain.RoleCashier)
	seedProduct(t, repo, "prd-a", 1000, 10)
	seedProduct(t, repo, "prd-b", 1000, 5)

	pending, err := svc.CreatePendingSale(ctx, domain.SaleCreateRequest{
		CustomerID: "cus-siti-01",
		Items: []domain.SaleItemRequest{
			{ProductID: "prd-a", Qty: 2},
			{ProductID: "prd-b", Qty: 3},
		},
	})
	require.NoError(t, err)

	_, err = svc.CreatePaidSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-b", Qty: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, stockOf(t, repo, "prd-b"))

	_, err = svc.ConfirmSale(ctx, pending.ID, domain.SaleConfirmRequest{})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 10, stockOf(t, repo, "prd-a"))
	assert.Equal(t, 1, stockOf(t, repo, "prd-b"))

	sale, err := svc.GetSale(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPending, sale.Status)
}

func TestCreatePaidSaleInsufficientStockLeavesStockUnchanged(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-p", 5000, 2)

	_, err := svc.CreatePaidSale(context.Background(), domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 5}},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 2, stockOf(t, repo, "prd-p"))

	list, err := svc.ListSales(context.Background(), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, list.Sales)
}

func TestCreatePaidSaleRollsBackEarlierLines(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-a", 1000, 10)
	seedProduct(t, repo, "prd-b", 1000, 1)

	_, err := svc.CreatePaidSale(context.Background(), domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{
			{ProductID: "prd-a", Qty: 3},
			{ProductID: "prd-b", Qty: 2},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 10, stockOf(t, repo, "prd-a"))
	assert.Equal(t, 1, stockOf(t, repo, "prd-b"))
}

func TestCreatePaidSalePricingDiscountAndChange(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := actorCtx("cashier", domain.RoleCashier)
	_, err := repo.CreateProduct(context.Background(), domain.Product{
		ID: "prd-promo", SKU: "PROMO-1", Name: "Promo Item",
		PriceCents: 10000, PromotionalPriceCents: 8500, Stock: 10, Active: true,
	})
	require.NoError(t, err)

	resp, err := svc.CreatePaidSale(ctx, domain.SaleCreateRequest{
		Items:           []domain.SaleItemRequest{{ProductID: "prd-promo", Qty: 2}},
		DiscountKind:    "percentage",
		DiscountValue:   10,
		AmountPaidCents: 20000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(17000), resp.SubtotalCents)
	assert.Equal(t, int64(1700), resp.DiscountCents)
	assert.Equal(t, int64(15300), resp.TotalCents)
	require.NotNil(t, resp.ChangeCents)
	assert.Equal(t, int64(4700), *resp.ChangeCents)
	assert.Equal(t, domain.PaymentCash, resp.Sale.PaymentMethod)
	assert.Equal(t, int64(8500), resp.Sale.Items[0].UnitPriceCents)
	assert.Equal(t, "Promo Item", resp.Sale.Items[0].ProductName)
	assert.Equal(t, 8, stockOf(t, repo, "prd-promo"))

	stored, err := svc.GetSale(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.SubtotalCents, stored.SubtotalCents)
	assert.Equal(t, resp.DiscountCents, stored.DiscountCents)
	assert.Equal(t, resp.TotalCents, stored.TotalCents)
	assert.Equal(t, stored.SubtotalCents-stored.DiscountCents, stored.TotalCents)
}

func TestCreatePaidSaleNonCashHasNoChange(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-p", 5000, 5)

	resp, err := svc.CreatePaidSale(context.Background(), domain.SaleCreateRequest{
		Items:           []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 1}},
		PaymentMethod:   "QRIS",
		AmountPaidCents: 9000,
	})
	require.NoError(t, err)
	assert.Nil(t, resp.ChangeCents)
	assert.Equal(t, "qris", resp.Sale.PaymentMethod)
	assert.Equal(t, int64(0), resp.Sale.ChangeCents)
}

func TestCreatePaidSaleRejectsDiscountAboveSubtotal(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-p", 5000, 5)

	_, err := svc.CreatePaidSale(context.Background(), domain.SaleCreateRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 1}},
		DiscountKind:  "fixed",
		DiscountValue: 5001,
	})
	require.ErrorIs(t, err, store.ErrInvalidDiscount)
	assert.Equal(t, 5, stockOf(t, repo, "prd-p"))
}

func TestCreateSaleRejectsInvalidLines(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-p", 5000, 5)

	_, err := svc.CreatePaidSale(context.Background(), domain.SaleCreateRequest{})
	require.ErrorIs(t, err, store.ErrInvalidLine)

	_, err = svc.CreatePaidSale(context.Background(), domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 0}},
	})
	require.ErrorIs(t, err, store.ErrInvalidLine)

	_, err = svc.CreatePaidSale(context.Background(), domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "", Qty: 1}},
	})
	require.ErrorIs(t, err, store.ErrInvalidLine)
}

func TestCreateSaleTreatsInactiveProductAsMissing(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-p", 5000, 5)
	inactive := false
	_, err := svc.UpdateProduct(context.Background(), "prd-p", domain.ProductUpdateRequest{Active: &inactive})
	require.NoError(t, err)

	_, err = svc.CreatePaidSale(context.Background(), domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 1}},
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateSaleStatusKeepsStockInStep(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := actorCtx("manager", domain.RoleManager)
	seedProduct(t, repo, "prd-p", 1000, 10)

	resp, err := svc.CreatePaidSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, 6, stockOf(t, repo, "prd-p"))

	steps := []struct {
		status    string
		wantStock int
	}{
		{domain.SaleStatusCancelled, 10},
		{domain.SaleStatusCancelled, 10},
		{domain.SaleStatusPaid, 6},
		{domain.SaleStatusPending, 10},
		{domain.SaleStatusCancelled, 10},
		{domain.SaleStatusPending, 10},
		{domain.SaleStatusPaid, 6},
	}
	for _, step := range steps {
		sale, err := svc.UpdateSaleStatus(ctx, resp.ID, step.status)
		require.NoError(t, err, "to %s", step.status)
		assert.Equal(t, step.status, sale.Status)
		assert.Equal(t, step.wantStock, stockOf(t, repo, "prd-p"), "after moving to %s", step.status)
	}
}

func TestUpdateSaleStatusToPaidNeedsStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := actorCtx("manager", domain.RoleManager)
	seedProduct(t, repo, "prd-p", 1000, 5)

	resp, err := svc.CreatePaidSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 4}},
	})
	require.NoError(t, err)
	_, err = svc.CancelSale(ctx, resp.ID)
	require.NoError(t, err)

	_, err = svc.CreatePaidSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 3}},
	})
	require.NoError(t, err)

	_, err = svc.UpdateSaleStatus(ctx, resp.ID, domain.SaleStatusPaid)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 2, stockOf(t, repo, "prd-p"))

	sale, err := svc.GetSale(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, sale.Status)
}

func TestUpdateSaleStatusRejectsUnknownStatus(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.UpdateSaleStatus(context.Background(), "sale-x", "refunded")
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestDeleteSaleCreditsPaidStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := actorCtx("admin", domain.RoleAdmin)
	seedProduct(t, repo, "prd-p", 1000, 10)

	paid, err := svc.CreatePaidSale(ctx, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 4}},
	})
	require.NoError(t, err)
	pending, err := svc.CreatePendingSale(ctx, domain.SaleCreateRequest{
		CustomerID: "cus-budi-01",
		Items:      []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, 6, stockOf(t, repo, "prd-p"))

	require.NoError(t, svc.DeleteSale(ctx, pending.ID))
	assert.Equal(t, 6, stockOf(t, repo, "prd-p"))

	require.NoError(t, svc.DeleteSale(ctx, paid.ID))
	assert.Equal(t, 10, stockOf(t, repo, "prd-p"))

	require.ErrorIs(t, svc.DeleteSale(ctx, paid.ID), store.ErrNotFound)
}

func TestSaleOperationsRespectDocumentLock(t *testing.T) {
	repo := memory.NewSeeded()
	locker := lock.NewLocalLocker()
	svc := New(repo, Options{Locker: locker})
	seedProduct(t, repo, "prd-p", 1000, 10)

	pending, err := svc.CreatePendingSale(context.Background(), domain.SaleCreateRequest{
		CustomerID: "cus-budi-01",
		Items:      []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 1}},
	})
	require.NoError(t, err)

	release, err := locker.Obtain(context.Background(), lock.SaleKey(pending.ID), time.Minute)
	require.NoError(t, err)

	_, err = svc.ConfirmSale(context.Background(), pending.ID, domain.SaleConfirmRequest{})
	require.ErrorIs(t, err, store.ErrLocked)
	assert.Equal(t, "conflict", store.Kind(err))

	release()
	_, err = svc.ConfirmSale(context.Background(), pending.ID, domain.SaleConfirmRequest{})
	require.NoError(t, err)
}

func TestConcurrentPaidSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-hot", 1000, 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreatePaidSale(context.Background(), domain.SaleCreateRequest{
				Items: []domain.SaleItemRequest{{ProductID: "prd-hot", Qty: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			assert.ErrorIs(t, err, store.ErrInsufficientStock)
			rejected++
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 7, rejected)
	assert.Equal(t, 0, stockOf(t, repo, "prd-hot"))
}

func TestListSalesFiltersByStatus(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-p", 1000, 10)

	_, err := svc.CreatePaidSale(context.Background(), domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 1}},
	})
	require.NoError(t, err)
	_, err = svc.CreatePendingSale(context.Background(), domain.SaleCreateRequest{
		CustomerID: "cus-siti-01",
		Items:      []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 1}},
	})
	require.NoError(t, err)

	pending, err := svc.ListSales(context.Background(), domain.SaleFilter{Status: "PENDING"})
	require.NoError(t, err)
	require.Len(t, pending.Sales, 1)
	assert.Equal(t, "cus-siti-01", pending.Sales[0].CustomerID)

	_, err = svc.ListSales(context.Background(), domain.SaleFilter{Status: "open"})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestPlaceCatalogOrderIgnoresDiscounts(t *testing.T) {
	svc, repo := newTestService(t)
	seedProduct(t, repo, "prd-p", 1000, 10)

	resp, err := svc.PlaceCatalogOrder(context.Background(), domain.SaleCreateRequest{
		CustomerID:    "cus-siti-01",
		Items:         []domain.SaleItemRequest{{ProductID: "prd-p", Qty: 2}},
		DiscountKind:  "fixed",
		DiscountValue: 1500,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPending, resp.Status)
	assert.Equal(t, int64(0), resp.DiscountCents)
	assert.Equal(t, int64(2000), resp.TotalCents)
	assert.Equal(t, "system", resp.Sale.CreatedBy)
}
