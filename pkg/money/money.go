// Package money formats and aggregates rupiah amounts. Amounts are whole
// rupiah held in int64; decimal is used where division or grouping happens.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatRupiah renders an amount the way buyers read it, e.g. Rp135.000.
func FormatRupiah(amount int64) string {
	d := decimal.NewFromInt(amount)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	digits := d.StringFixed(0)

	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return sign + "Rp" + b.String()
}

// Sum adds amounts without overflowing intermediate values.
func Sum(amounts ...int64) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromInt(a))
	}
	return total
}

// Average returns total/count rounded to whole rupiah, or zero when count is zero.
func Average(total decimal.Decimal, count int64) decimal.Decimal {
	if count <= 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(count)).Round(0)
}

// Multiply returns unit*qty, reporting false when the result does not fit in int64.
func Multiply(unit int64, qty int) (int64, bool) {
	product := decimal.NewFromInt(unit).Mul(decimal.NewFromInt(int64(qty)))
	if !product.IsInteger() || product.GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, false
	}
	return product.IntPart(), true
}
