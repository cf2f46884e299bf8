package domain

import "time"

type Product struct {
	ID                    string    `json:"id"`
	SKU                   string    `json:"sku"`
	Name                  string    `json:"name"`
	Brand                 string    `json:"brand"`
	Category              string    `json:"category"`
	CostCents             int64     `json:"cost_cents"`
	PriceCents            int64     `json:"price_cents"`
	PromotionalPriceCents int64     `json:"promotional_price_cents"`
	Stock                 int       `json:"stock"`
	Active                bool      `json:"active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	SKU                   string `json:"sku" validate:"required,max=64"`
	Name                  string `json:"name" validate:"required,max=200"`
	Brand                 string `json:"brand" validate:"max=120"`
	Category              string `json:"category" validate:"max=120"`
	CostCents             int64  `json:"cost_cents" validate:"gte=0"`
	PriceCents            int64  `json:"price_cents" validate:"gte=0"`
	PromotionalPriceCents int64  `json:"promotional_price_cents" validate:"gte=0"`
	InitialStock          int    `json:"initial_stock" validate:"gte=0"`
}

type ProductUpdateRequest struct {
	Name                  *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Brand                 *string `json:"brand,omitempty" validate:"omitempty,max=120"`
	Category              *string `json:"category,omitempty" validate:"omitempty,max=120"`
	PriceCents            *int64  `json:"price_cents,omitempty" validate:"omitempty,gte=0"`
	PromotionalPriceCents *int64  `json:"promotional_price_cents,omitempty" validate:"omitempty,gte=0"`
	Active                *bool   `json:"active,omitempty"`
}

// CatalogProduct is the public view of a product: no cost, effective price resolved.
type CatalogProduct struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Brand               string `json:"brand"`
	Category            string `json:"category"`
	PriceCents          int64  `json:"price_cents"`
	EffectivePriceCents int64  `json:"effective_price_cents"`
	OnPromotion         bool   `json:"on_promotion"`
	InStock             bool   `json:"in_stock"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CustomerRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"max=32"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address" validate:"max=500"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name" validate:"required,max=200"`
	Phone string `json:"phone" validate:"max=32"`
	Email string `json:"email" validate:"omitempty,email"`
}

type SupplierUpdateRequest struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Phone  *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Email  *string `json:"email,omitempty" validate:"omitempty,email"`
	Active *bool   `json:"active,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserUpdateRequest struct {
	Active *bool `json:"active,omitempty"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

// RoleRank orders roles so that a gate can require "at least" a role.
func RoleRank(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleManager:
		return 2
	case RoleCashier:
		return 1
	default:
		return 0
	}
}

type SaleItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Qty       int    `json:"qty" validate:"gt=0"`
}

type SaleCreateRequest struct {
	CustomerID      string            `json:"customer_id,omitempty"`
	Items           []SaleItemRequest `json:"items"`
	DiscountKind    string            `json:"discount_kind,omitempty"`
	DiscountValue   float64           `json:"discount_value,omitempty"`
	PaymentMethod   string            `json:"payment_method,omitempty"`
	AmountPaidCents int64             `json:"amount_paid_cents,omitempty" validate:"gte=0"`
	ShippingCents   int64             `json:"shipping_cents,omitempty" validate:"gte=0"`
	Notes           string            `json:"notes,omitempty" validate:"max=1000"`
}

type SaleConfirmRequest struct {
	ShippingCents *int64 `json:"shipping_cents,omitempty" validate:"omitempty,gte=0"`
}

type SaleStatusRequest struct {
	Status string `json:"status"`
}

type SaleLine struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type Sale struct {
	ID              string     `json:"id"`
	CustomerID      string     `json:"customer_id,omitempty"`
	CustomerName    string     `json:"customer_name,omitempty"`
	Items           []SaleLine `json:"items"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	DiscountKind    string     `json:"discount_kind,omitempty"`
	DiscountValue   float64    `json:"discount_value,omitempty"`
	DiscountCents   int64      `json:"discount_cents"`
	TotalCents      int64      `json:"total_cents"`
	AmountPaidCents int64      `json:"amount_paid_cents"`
	ChangeCents     int64      `json:"change_cents"`
	ShippingCents   int64      `json:"shipping_cents"`
	Status          string     `json:"status"`
	PaymentMethod   string     `json:"payment_method"`
	Notes           string     `json:"notes,omitempty"`
	CreatedBy       string     `json:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
}

type SaleResponse struct {
	ID            string `json:"id"`
	SubtotalCents int64  `json:"subtotal_cents"`
	DiscountCents int64  `json:"discount_cents"`
	TotalCents    int64  `json:"total_cents"`
	ChangeCents   *int64 `json:"change_cents,omitempty"`
	Status        string `json:"status"`
	Sale          Sale   `json:"sale"`
}

type SaleFilter struct {
	CustomerID string
	Status     string
	From       time.Time
	To         time.Time
	Limit      int
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

const (
	SaleStatusPending   = "pending"
	SaleStatusPaid      = "paid"
	SaleStatusCancelled = "cancelled"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

const PaymentCash = "cash"

type ReceiptItemRequest struct {
	ProductID     string `json:"product_id" validate:"required"`
	Qty           int    `json:"qty" validate:"gt=0"`
	UnitCostCents int64  `json:"unit_cost_cents" validate:"gte=0"`
}

type GoodsReceiptCreateRequest struct {
	SupplierID     string               `json:"supplier_id"`
	DocumentNumber string               `json:"document_number,omitempty" validate:"max=64"`
	ReceiptDate    string               `json:"receipt_date,omitempty"`
	Notes          string               `json:"notes,omitempty" validate:"max=1000"`
	Items          []ReceiptItemRequest `json:"items"`
}

type ReceiptLine struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Qty           int    `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
	LineCostCents int64  `json:"line_cost_cents"`
}

type GoodsReceipt struct {
	ID             string        `json:"id"`
	DocumentNumber string        `json:"document_number,omitempty"`
	SupplierID     string        `json:"supplier_id"`
	SupplierName   string        `json:"supplier_name"`
	ReceiptDate    time.Time     `json:"receipt_date"`
	Items          []ReceiptLine `json:"items"`
	CostTotalCents int64         `json:"cost_total_cents"`
	ReceivedBy     string        `json:"received_by"`
	Notes          string        `json:"notes,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

type GoodsReceiptFilter struct {
	SupplierID string
	From       time.Time
	To         time.Time
	Limit      int
}

type GoodsReceiptResponse struct {
	GoodsReceipt GoodsReceipt `json:"goods_receipt"`
}

type GoodsReceiptListResponse struct {
	GoodsReceipts []GoodsReceipt `json:"goods_receipts"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
