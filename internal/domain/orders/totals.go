package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Amounts are the price components of one order line.
type Amounts struct {
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Shipping  decimal.Decimal
	Discount  decimal.Decimal
	Total     decimal.Decimal
}

// ComputeAmounts prices a line: total = subtotal + tax + shipping - discount.
// Tax is subtotal * taxRate rounded to cents.
func ComputeAmounts(unitPrice decimal.Decimal, quantity int, taxRate, shipping, discount decimal.Decimal) (Amounts, error) {
	if quantity < 1 {
		return Amounts{}, fmt.Errorf("quantity must be at least 1, got %d", quantity)
	}
	if unitPrice.IsNegative() || taxRate.IsNegative() || shipping.IsNegative() || discount.IsNegative() {
		return Amounts{}, fmt.Errorf("price components cannot be negative")
	}

	subtotal := unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
	tax := subtotal.Mul(taxRate).Round(2)
	shipping = shipping.Round(2)
	discount = discount.Round(2)
	total := subtotal.Add(tax).Add(shipping).Sub(discount)
	if total.IsNegative() {
		return Amounts{}, fmt.Errorf("discount %s exceeds order value %s", discount.StringFixed(2), subtotal.Add(tax).Add(shipping).StringFixed(2))
	}

	return Amounts{
		UnitPrice: unitPrice.Round(2),
		Subtotal:  subtotal,
		Tax:       tax,
		Shipping:  shipping,
		Discount:  discount,
		Total:     total,
	}, nil
}

// NewOrderNumber builds a human-readable code, e.g. ORD-20261015-3F9A1C2B.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
