package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/service"
	"tokoku/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_MANAGER_PASSWORD", "")
	t.Setenv("SEED_CASHIER_PASSWORD", "")

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{})
	auth := mustAuthManager(t, testSecret, repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
const testSecret = "test-secret-key-with-enough-length"

func mustAuthManager(t *testing.T, secret string, userStore UserStore) *AuthManager {
	t.Helper()
	manager, err := NewAuthManager(secret, time.Hour, userStore)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	return manager
}

func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func productStock(t *testing.T, handler http.Handler, token, id string) int {
	t.Helper()
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[struct {
		Product domain.Product `json:"product"`
	}](t, rec)
	return body.Product.Stock
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrongpassword",
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "unauthorized", body["kind"])
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody[map[string][]domain.Product](t, rec)
	assert.NotEmpty(t, body["products"])
}

func TestCashierCannotManageSuppliersOrReceipts(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/suppliers", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "forbidden", body["kind"])

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/goods-receipts", token, domain.GoodsReceiptCreateRequest{
		SupplierID: "sup-sumber-01",
		Items:      []domain.ReceiptItemRequest{{ProductID: "prd-gula-01", Qty: 1, UnitCostCents: 100}},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPaidSaleDebitsStock(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{
		Items:           []domain.SaleItemRequest{{ProductID: "prd-gula-01", Qty: 2}},
		PaymentMethod:   "cash",
		AmountPaidCents: 10000000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[domain.SaleResponse](t, rec)
	assert.Equal(t, domain.SaleStatusPaid, resp.Status)
	require.NotNil(t, resp.ChangeCents)
	assert.Equal(t, int64(10000000)-resp.TotalCents, *resp.ChangeCents)
	assert.Equal(t, 23, productStock(t, handler, token, "prd-gula-01"))
}

func TestSaleErrorsCarryKind(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	cases := []struct {
		name   string
		req    domain.SaleCreateRequest
		status int
		kind   string
	}{
		{
			name:   "insufficient stock",
			req:    domain.SaleCreateRequest{Items: []domain.SaleItemRequest{{ProductID: "prd-beras-01", Qty: 13}}},
			status: http.StatusConflict,
			kind:   "insufficient_stock",
		},
		{
			name:   "unknown product",
			req:    domain.SaleCreateRequest{Items: []domain.SaleItemRequest{{ProductID: "prd-ghost", Qty: 1}}},
			status: http.StatusNotFound,
			kind:   "not_found",
		},
		{
			name:   "zero quantity",
			req:    domain.SaleCreateRequest{Items: []domain.SaleItemRequest{{ProductID: "prd-beras-01", Qty: 0}}},
			status: http.StatusUnprocessableEntity,
			kind:   "invalid_line",
		},
		{
			name: "discount above subtotal",
			req: domain.SaleCreateRequest{
				Items:         []domain.SaleItemRequest{{ProductID: "prd-beras-01", Qty: 1}},
				DiscountKind:  "percentage",
				DiscountValue: 150,
			},
			status: http.StatusUnprocessableEntity,
			kind:   "invalid_discount",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", token, tc.req)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			body := decodeBody[map[string]string](t, rec)
			assert.Equal(t, tc.kind, body["kind"])
		})
	}
	assert.Equal(t, 12, productStock(t, handler, token, "prd-beras-01"))
}

func TestPendingSaleConfirmDebitsOnce(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales/pending", token, domain.SaleCreateRequest{
		CustomerID: "cus-budi-01",
		Items:      []domain.SaleItemRequest{{ProductID: "prd-kopi-01", Qty: 3}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[domain.SaleResponse](t, rec)
	assert.Equal(t, domain.SaleStatusPending, created.Status)
	assert.Equal(t, 40, productStock(t, handler, token, "prd-kopi-01"))

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+created.ID+"/confirm", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decodeBody[map[string]domain.Sale](t, rec)
	assert.Equal(t, domain.SaleStatusPaid, confirmed["sale"].Status)
	assert.Equal(t, 37, productStock(t, handler, token, "prd-kopi-01"))

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sales/"+created.ID+"/confirm", token, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "invalid_state", body["kind"])
	assert.Equal(t, 37, productStock(t, handler, token, "prd-kopi-01"))
}

func TestSaleStatusAndDeleteAreGatedByRole(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashier := login(t, handler, "cashier", "cashier123")
	manager := login(t, handler, "manager", "manager123")
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sales", cashier, domain.SaleCreateRequest{
		Items: []domain.SaleItemRequest{{ProductID: "prd-sabun-01", Qty: 10}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decodeBody[domain.SaleResponse](t, rec)

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/sales/"+sale.ID+"/status", cashier, domain.SaleStatusRequest{Status: "cancelled"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/sales/"+sale.ID+"/status", manager, domain.SaleStatusRequest{Status: "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 100, productStock(t, handler, manager, "prd-sabun-01"))

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/sales/"+sale.ID, manager, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/sales/"+sale.ID, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/"+sale.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicCatalogAndOrder(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/catalog/products", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	catalog := decodeBody[map[string][]domain.CatalogProduct](t, rec)
	require.NotEmpty(t, catalog["products"])
	for _, p := range catalog["products"] {
		if p.ID == "prd-payung-01" {
			assert.False(t, p.InStock)
		}
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/catalog/orders", "", domain.SaleCreateRequest{
		CustomerID:      "cus-siti-01",
		Items:           []domain.SaleItemRequest{{ProductID: "prd-teh-01", Qty: 2}},
		DiscountKind:    "fixed",
		DiscountValue:   1000,
		AmountPaidCents: 5000000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[domain.SaleResponse](t, rec)
	assert.Equal(t, domain.SaleStatusPending, order.Status)
	assert.Equal(t, int64(0), order.DiscountCents)
	assert.Equal(t, int64(0), order.Sale.AmountPaidCents)

	raw := []byte(`{"customer_id":"cus-siti-01","items":[],"admin":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/catalog/orders", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestGoodsReceiptReverseRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	manager := login(t, handler, "manager", "manager123")
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/goods-receipts", manager, domain.GoodsReceiptCreateRequest{
		SupplierID:  "sup-sumber-01",
		ReceiptDate: "2026-10-01",
		Items:       []domain.ReceiptItemRequest{{ProductID: "prd-beras-01", Qty: 8, UnitCostCents: 6000000}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[domain.GoodsReceiptResponse](t, rec)
	assert.Equal(t, int64(48000000), created.GoodsReceipt.CostTotalCents)
	assert.Equal(t, 20, productStock(t, handler, manager, "prd-beras-01"))

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/goods-receipts?from=2026-10-01&to=2026-10-01", manager, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decodeBody[domain.GoodsReceiptListResponse](t, rec)
	assert.Len(t, list.GoodsReceipts, 1)

	path := "/api/v1/goods-receipts/" + created.GoodsReceipt.ID
	rec = doJSON(t, handler, http.MethodDelete, path, manager, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodDelete, path, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 12, productStock(t, handler, admin, "prd-beras-01"))

	rec = doJSON(t, handler, http.MethodDelete, path, admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 12, productStock(t, handler, admin, "prd-beras-01"))
}

func TestGoodsReceiptFromInactiveSupplierIsUnprocessable(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	manager := login(t, handler, "manager", "manager123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/goods-receipts", manager, domain.GoodsReceiptCreateRequest{
		SupplierID: "sup-lama-01",
		Items:      []domain.ReceiptItemRequest{{ProductID: "prd-beras-01", Qty: 1, UnitCostCents: 100}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "inactive_entity", body["kind"])
}

func TestListSalesRejectsBadDate(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/sales?from=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminDeactivatesUser(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := login(t, handler, "admin", "admin123")
	cashier := login(t, handler, "cashier", "cashier123")

	inactive := false
	rec := doJSON(t, handler, http.MethodPatch, "/api/v1/users/cashier", admin, domain.UserUpdateRequest{Active: &inactive})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products", cashier, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/users/admin", admin, domain.UserUpdateRequest{Active: &inactive})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/users/ghost", admin, domain.UserUpdateRequest{Active: &inactive})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditLogsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	manager := login(t, handler, "manager", "manager123")
	admin := login(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", manager, domain.ProductCreateRequest{
		SKU:          "MIE-01",
		Name:         "Mie Instan",
		PriceCents:   350000,
		InitialStock: 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", manager, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs?limit=5", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string][]domain.AuditLog](t, rec)
	require.NotEmpty(t, body["logs"])
	assert.Equal(t, "manager", body["logs"][0].ActorUsername)
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
