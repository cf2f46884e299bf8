// Package pricing resolves unit prices and applies sale discounts. Everything
// here is pure: callers load products and persist results.
package pricing

import (
	"github.com/shopspring/decimal"

	"tokoku/backend/internal/domain"
)

// ResolveUnitPrice returns the promotional price when it is positive and below
// the list price, otherwise the list price. The quantity does not affect the
// price today but is part of the contract so tiered pricing can slot in.
func ResolveUnitPrice(product domain.Product, _ int) int64 {
	if PromotionActive(product) {
		return product.PromotionalPriceCents
	}
	return product.PriceCents
}

func PromotionActive(product domain.Product) bool {
	return product.PromotionalPriceCents > 0 && product.PromotionalPriceCents < product.PriceCents
}

func LineSubtotal(unitPriceCents int64, qty int) int64 {
	return unitPriceCents * int64(qty)
}

// FormatCents renders minor units as a fixed two-decimal amount, e.g. 2050 -> "20.50".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
