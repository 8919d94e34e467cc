package inventory

import "github.com/shopspring/decimal"

// Line is one requested (product or variant, quantity) pair.
type Line struct {
	ProductID uint
	VariantID *uint
	Quantity  int
}

// ReservedLine carries the catalog data read under the row lock. UnitPrice is
// the price frozen onto the order item.
type ReservedLine struct {
	ProductID  uint
	VariantID  *uint
	CategoryID *uint
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
}

func (l ReservedLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Reservation struct {
	Lines []ReservedLine
}

func (r *Reservation) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range r.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}
