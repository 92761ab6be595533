package payments

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

// MinorUnits converts a major-unit amount into the currency's smallest unit, e.g. 30 INR becomes 3000 paise.
func MinorUnits(amount float64, code string) (int64, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("payments: unknown currency %q: %w", code, err)
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("payments: invalid amount %v", amount)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int64(math.Round(amount * math.Pow10(scale))), nil
}
