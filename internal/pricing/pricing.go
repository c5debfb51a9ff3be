// Package pricing computes cart totals in integer cents.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"caixa/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

func Subtotal(lines []domain.CartLine) int64 {
	var subtotal int64
	for _, line := range lines {
		subtotal += line.SubtotalCents()
	}
	return subtotal
}

// Calculate never fails: out-of-range discounts are clamped. Use
// ValidateDiscount first when bad input should be rejected instead.
func Calculate(lines []domain.CartLine, discount domain.DiscountSpec) domain.Totals {
	subtotal := Subtotal(lines)
	discountCents := DiscountAmount(subtotal, discount)
	total := subtotal - discountCents
	if total < 0 {
		total = 0
	}
	return domain.Totals{
		SubtotalCents: subtotal,
		DiscountCents: discountCents,
		TotalCents:    total,
	}
}

func DiscountAmount(subtotal int64, discount domain.DiscountSpec) int64 {
	if subtotal <= 0 {
		return 0
	}
	switch normalizeKind(discount.Kind) {
	case domain.DiscountFlat:
		return clamp(discount.Value.Round(0).IntPart(), 0, subtotal)
	case domain.DiscountPercent:
		pct := discount.Value
		if pct.LessThan(decimal.Zero) {
			pct = decimal.Zero
		}
		if pct.GreaterThan(hundred) {
			pct = hundred
		}
		amount := decimal.NewFromInt(subtotal).Mul(pct).Div(hundred).Round(0).IntPart()
		return clamp(amount, 0, subtotal)
	default:
		return 0
	}
}

func ValidateDiscount(discount domain.DiscountSpec, subtotal int64) error {
	kind := normalizeKind(discount.Kind)
	if kind == "" {
		if !discount.Value.IsZero() {
			return &domain.InvalidDiscountError{Reason: "discount kind is required"}
		}
		return nil
	}
	if discount.Value.IsNegative() {
		return &domain.InvalidDiscountError{Reason: "value must not be negative"}
	}
	switch kind {
	case domain.DiscountFlat:
		if !discount.Value.Equal(discount.Value.Truncate(0)) {
			return &domain.InvalidDiscountError{Reason: "flat value must be whole cents"}
		}
		if discount.Value.GreaterThan(decimal.NewFromInt(subtotal)) {
			return &domain.InvalidDiscountError{Reason: "flat value exceeds subtotal"}
		}
	case domain.DiscountPercent:
		if discount.Value.GreaterThan(hundred) {
			return &domain.InvalidDiscountError{Reason: "percent must be between 0 and 100"}
		}
	default:
		return &domain.InvalidDiscountError{Reason: "unknown kind " + discount.Kind}
	}
	return nil
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
