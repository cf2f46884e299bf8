package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/store"
)

type Discount struct {
	Kind          string
	Value         float64
	DiscountCents int64
	TotalCents    int64
}

var hundred = decimal.NewFromInt(100)

// ApplyDiscount computes the discount for subtotalCents. A percentage value is a
// percent of the subtotal, a fixed value is an amount in cents. An empty kind or
// a non-positive value yields no discount.
func ApplyDiscount(subtotalCents int64, kind string, value float64) (Discount, error) {
	kind = NormalizeDiscountKind(kind)
	result := Discount{Kind: kind, Value: value, TotalCents: subtotalCents}
	if kind == "" || value <= 0 {
		result.Kind = ""
		result.Value = 0
		return result, nil
	}

	var discount decimal.Decimal
	switch kind {
	case domain.DiscountPercentage:
		discount = decimal.NewFromInt(subtotalCents).Mul(decimal.NewFromFloat(value)).Div(hundred)
	case domain.DiscountFixed:
		discount = decimal.NewFromFloat(value)
	default:
		return Discount{}, fmt.Errorf("%w: unknown discount kind %q", store.ErrInvalidDiscount, kind)
	}

	rounded := discount.Round(0)
	if rounded.GreaterThan(decimal.NewFromInt(subtotalCents)) {
		return Discount{}, fmt.Errorf("%w: discount %s exceeds subtotal %s", store.ErrInvalidDiscount, rounded.Shift(-2).StringFixed(2), FormatCents(subtotalCents))
	}
	cents := rounded.IntPart()

	result.DiscountCents = cents
	result.TotalCents = subtotalCents - cents
	return result, nil
}

func NormalizeDiscountKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "":
		return ""
	case "percentage", "percent", "%":
		return domain.DiscountPercentage
	case "fixed", "amount":
		return domain.DiscountFixed
	default:
		return strings.ToLower(strings.TrimSpace(kind))
	}
}
