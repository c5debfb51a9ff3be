package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// All amounts inside the system are int64 cents. The helpers below are the
// only place decimal values appear.

func CentsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// DecimalToCents rounds half away from zero to the nearest cent.
func DecimalToCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func FormatCents(cents int64) string {
	return CentsToDecimal(cents).StringFixed(2)
}

// FormatBRL renders cents as "R$ 1.234,56".
func FormatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	fixed := CentsToDecimal(cents).StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}
	return sign + "R$ " + grouped.String() + "," + frac
}

// ParseAmount converts operator input such as "R$ 1.200,50", "1200,5",
// "1200.50" or "35" into cents. A comma is always the decimal separator; a
// lone dot followed by one or two digits is read as one too, otherwise dots
// are thousands separators.
func ParseAmount(raw string) (int64, error) {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "R$")
	value = strings.ReplaceAll(value, " ", "")
	value = strings.ReplaceAll(value, "\u00a0", "")
	if value == "" {
		return 0, &ValidationError{Field: "amount", Reason: "amount is required"}
	}

	switch {
	case strings.Contains(value, ","):
		value = strings.ReplaceAll(value, ".", "")
		value = strings.Replace(value, ",", ".", 1)
	case strings.Count(value, ".") == 1:
		idx := strings.Index(value, ".")
		if digits := len(value) - idx - 1; digits != 1 && digits != 2 {
			value = strings.ReplaceAll(value, ".", "")
		}
	default:
		value = strings.ReplaceAll(value, ".", "")
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return 0, &ValidationError{Field: "amount", Reason: "amount is not a number"}
	}
	if amount.IsNegative() {
		return 0, &ValidationError{Field: "amount", Reason: "amount must not be negative"}
	}
	return DecimalToCents(amount), nil
}
