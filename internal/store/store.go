package store

import (
	"context"
	"errors"
	"time"

	"tokoku/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInactive           = errors.New("inactive entity")
	ErrInvalidLine        = errors.New("invalid line")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidDiscount    = errors.New("invalid discount")
	ErrInvalidState       = errors.New("invalid state")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrLocked             = errors.New("resource busy")
)

// Kind maps an error to the machine-readable kind reported to API callers.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInactive):
		return "inactive_entity"
	case errors.Is(err, ErrInvalidLine):
		return "invalid_line"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrInvalidDiscount):
		return "invalid_discount"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidTransaction):
		return "invalid_request"
	case errors.Is(err, ErrLocked):
		return "conflict"
	default:
		return "internal"
	}
}

// Ledger is the only path that reads or mutates product stock and cost.
type Ledger interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// FindActiveProduct treats inactive products as missing.
	FindActiveProduct(ctx context.Context, id string) (*domain.Product, error)
	IncrementStock(ctx context.Context, id string, delta int) error
	// DebitStock decrements stock by qty only if the current stock covers it.
	DebitStock(ctx context.Context, id string, qty int) error
	SetCost(ctx context.Context, id string, costCents int64) error
}

// Tx is the unit of work handed to Repository.InTx. Everything done through it
// commits together or not at all.
type Tx interface {
	Ledger
	FindCustomer(ctx context.Context, id string) (*domain.Customer, error)
	FindSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	// LockSale loads a sale and holds it for the rest of the transaction.
	LockSale(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id string) error
	CreateGoodsReceipt(ctx context.Context, receipt domain.GoodsReceipt) (*domain.GoodsReceipt, error)
	LockGoodsReceipt(ctx context.Context, id string) (*domain.GoodsReceipt, error)
	DeleteGoodsReceipt(ctx context.Context, id string) error
}

type Repository interface {
	Ledger
	InTx(ctx context.Context, fn func(tx Tx) error) error

	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	FindCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	UpdateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	FindSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	FindGoodsReceiptByID(ctx context.Context, id string) (*domain.GoodsReceipt, error)
	ListGoodsReceipts(ctx context.Context, filter domain.GoodsReceiptFilter) ([]domain.GoodsReceipt, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	SetUserActive(ctx context.Context, username string, active bool) error
}
