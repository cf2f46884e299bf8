package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/logger"
	"tokoku/backend/internal/store"
	"tokoku/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	customers       map[string]domain.Customer
	suppliers       map[string]domain.Supplier
	sales           map[string]domain.Sale
	receipts        map[string]domain.GoodsReceipt
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store with no users.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		customers:       make(map[string]domain.Customer),
		suppliers:       make(map[string]domain.Supplier),
		sales:           make(map[string]domain.Sale),
		receipts:        make(map[string]domain.GoodsReceipt),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Passwords come from SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD; unset values fall back to dev defaults with a warning.
// The postgres store never uses these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	log := logger.WithComponent("memory-store")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Msg("using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users, products, customers and suppliers.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prd-kopi-01", SKU: "KOPI-250", Name: "Kopi Bubuk 250g", Brand: "Kapal Api", Category: "beverage", CostCents: 1800000, PriceCents: 2450000, Stock: 40},
		{ID: "prd-teh-01", SKU: "TEH-25", Name: "Teh Celup 25s", Brand: "Sariwangi", Category: "beverage", CostCents: 650000, PriceCents: 980000, PromotionalPriceCents: 890000, Stock: 60},
		{ID: "prd-gula-01", SKU: "GULA-1KG", Name: "Gula Pasir 1kg", Brand: "Gulaku", Category: "grocery", CostCents: 1450000, PriceCents: 1740000, Stock: 25},
		{ID: "prd-beras-01", SKU: "BERAS-5KG", Name: "Beras Premium 5kg", Brand: "Topi Koki", Category: "grocery", CostCents: 6200000, PriceCents: 7450000, Stock: 12},
		{ID: "prd-sabun-01", SKU: "SABUN-85", Name: "Sabun Mandi 85g", Brand: "Lifebuoy", Category: "household", CostCents: 280000, PriceCents: 420000, Stock: 100},
		{ID: "prd-payung-01", SKU: "PAYUNG-L", Name: "Payung Lipat", Brand: "", Category: "household", CostCents: 2500000, PriceCents: 4500000, Stock: 0},
	}
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	for _, c := range []domain.Customer{
		{ID: "cus-budi-01", Name: "Budi Santoso", Phone: "+6281234567890", Email: "budi@example.com"},
		{ID: "cus-siti-01", Name: "Siti Rahma", Phone: "+6281298765432"},
	} {
		c.CreatedAt = now
		c.UpdatedAt = now
		s.customers[c.ID] = c
	}

	for _, sup := range []domain.Supplier{
		{ID: "sup-sumber-01", Name: "CV Sumber Rejeki", Phone: "+62215550101", Active: true},
		{ID: "sup-lama-01", Name: "PT Grosir Lama", Phone: "+62215550102", Active: false},
	} {
		sup.CreatedAt = now
		sup.UpdatedAt = now
		s.suppliers[sup.ID] = sup
	}

	return s
}

// InTx runs fn with exclusive access to the store. When fn fails or panics,
// every mutation it made through tx is undone in reverse order.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProduct(id)
}

func (s *Store) FindActiveProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findActiveProduct(id)
}

func (s *Store) IncrementStock(_ context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.incrementStock(id, delta)
	return err
}

func (s *Store) DebitStock(_ context.Context, id string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.debitStock(id, qty)
	return err
}

func (s *Store) SetCost(_ context.Context, id string, costCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.setCost(id, costCents)
	return err
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !includeInactive && !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createProduct(product)
}

func (s *Store) createProduct(product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 0 || product.Stock < 0 {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return nil, store.ErrInvalidTransaction
		}
	}

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.products[product.ID] = product
	created := product
	return &created, nil
}

// UpdateProduct saves catalog fields. Stock and cost stay under ledger control
// and are never overwritten here.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidTransaction
	}
	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	existing.Name = product.Name
	existing.Brand = product.Brand
	existing.Category = product.Category
	existing.PriceCents = product.PriceCents
	existing.PromotionalPriceCents = product.PromotionalPriceCents
	existing.Active = product.Active
	existing.UpdatedAt = time.Now().UTC()
	s.products[existing.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customers[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	customer.CreatedAt = existing.CreatedAt
	customer.UpdatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) FindCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findCustomer(id)
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(customers) > limit {
		customers = customers[:limit]
	}
	return customers, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.Name == "" {
		return nil, store.ErrInvalidTransaction
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if _, exists := s.suppliers[supplier.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	now := time.Now().UTC()
	supplier.CreatedAt = now
	supplier.UpdatedAt = now
	s.suppliers[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) UpdateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.suppliers[supplier.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	supplier.CreatedAt = existing.CreatedAt
	supplier.UpdatedAt = time.Now().UTC()
	s.suppliers[supplier.ID] = supplier
	updated := supplier
	return &updated, nil
}

func (s *Store) FindSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findSupplier(id)
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliers))
	for _, sup := range s.suppliers {
		suppliers = append(suppliers, sup)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return strings.Compare(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneSale(sale)
	return &copied, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.sales {
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if !withinRange(sale.CreatedAt, filter.From, filter.To) {
			continue
		}
		sales = append(sales, cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return applyLimit(sales, filter.Limit), nil
}

func (s *Store) FindGoodsReceiptByID(_ context.Context, id string) (*domain.GoodsReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, exists := s.receipts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneReceipt(receipt)
	return &copied, nil
}

func (s *Store) ListGoodsReceipts(_ context.Context, filter domain.GoodsReceiptFilter) ([]domain.GoodsReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipts := make([]domain.GoodsReceipt, 0, 32)
	for _, receipt := range s.receipts {
		if filter.SupplierID != "" && receipt.SupplierID != filter.SupplierID {
			continue
		}
		if !withinRange(receipt.ReceiptDate, filter.From, filter.To) {
			continue
		}
		receipts = append(receipts, cloneReceipt(receipt))
	}
	slices.SortFunc(receipts, func(a, b domain.GoodsReceipt) int {
		return b.ReceiptDate.Compare(a.ReceiptDate)
	})
	return applyLimit(receipts, filter.Limit), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, len(s.auditLogs))
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if !withinRange(entry.CreatedAt, from, to) {
			continue
		}
		logs = append(logs, entry)
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidTransaction
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) SetUserActive(_ context.Context, username string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Active = active
	s.usersByUsername[username] = user
	return nil
}

// Unlocked helpers shared by the store methods above and by memTx. Callers hold s.mu.

func (s *Store) getProduct(id string) (*domain.Product, error) {
	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) findActiveProduct(id string) (*domain.Product, error) {
	product, err := s.getProduct(id)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, store.ErrNotFound
	}
	return product, nil
}

func (s *Store) incrementStock(id string, delta int) (domain.Product, error) {
	product, exists := s.products[id]
	if !exists {
		return domain.Product{}, store.ErrNotFound
	}
	previous := product
	product.Stock += delta
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return previous, nil
}

func (s *Store) debitStock(id string, qty int) (domain.Product, error) {
	if qty < 1 {
		return domain.Product{}, store.ErrInvalidLine
	}
	product, exists := s.products[id]
	if !exists {
		return domain.Product{}, store.ErrNotFound
	}
	if product.Stock < qty {
		return domain.Product{}, store.ErrInsufficientStock
	}
	return s.incrementStock(id, -qty)
}

func (s *Store) setCost(id string, costCents int64) (domain.Product, error) {
	if costCents < 0 {
		return domain.Product{}, store.ErrInvalidLine
	}
	product, exists := s.products[id]
	if !exists {
		return domain.Product{}, store.ErrNotFound
	}
	previous := product
	product.CostCents = costCents
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return previous, nil
}

func (s *Store) findCustomer(id string) (*domain.Customer, error) {
	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := customer
	return &copied, nil
}

func (s *Store) findSupplier(id string) (*domain.Supplier, error) {
	supplier, exists := s.suppliers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := supplier
	return &copied, nil
}

func cloneSale(sale domain.Sale) domain.Sale {
	sale.Items = slices.Clone(sale.Items)
	if sale.PaidAt != nil {
		paidAt := *sale.PaidAt
		sale.PaidAt = &paidAt
	}
	return sale
}

func cloneReceipt(receipt domain.GoodsReceipt) domain.GoodsReceipt {
	receipt.Items = slices.Clone(receipt.Items)
	return receipt
}

func withinRange(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func applyLimit[T any](items []T, limit int) []T {
	if limit < 1 {
		limit = 100
	}
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
