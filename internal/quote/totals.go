package quote

import (
	"errors"
	"math"
	"strings"
)

var (
	ErrItemsRequired       = errors.New("at least one line item is required")
	ErrDescriptionRequired = errors.New("line item description is required")
	ErrQuantityInvalid     = errors.New("line item quantity must be positive")
	ErrUnitPriceInvalid    = errors.New("line item unit_price must not be negative")
	ErrDiscountInvalid     = errors.New("discount must be between 0 and the subtotal")
	ErrTaxRateInvalid      = errors.New("tax rate must be between 0 and 100")
	ErrAmountOutOfRange    = errors.New("quote amounts are out of range")
)

// Totals are the monetary fields of a quote. All are non-negative and
// Total == Subtotal - Discount + Tax.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total_amount"`
}

// ComputeTotals prices the line items and derives the quote totals. Tax is
// taxRate percent of the discounted subtotal. Amounts are rounded to cents.
func ComputeTotals(items []LineItemInput, discount, taxRate float64) (Totals, []LineItem, error) {
	if len(items) == 0 {
		return Totals{}, nil, ErrItemsRequired
	}
	if !finite(taxRate) || taxRate < 0 || taxRate > 100 {
		return Totals{}, nil, ErrTaxRateInvalid
	}

	priced := make([]LineItem, 0, len(items))
	var subtotal float64
	for i, in := range items {
		if strings.TrimSpace(in.Description) == "" {
			return Totals{}, nil, ErrDescriptionRequired
		}
		if !finite(in.Quantity) || in.Quantity <= 0 {
			return Totals{}, nil, ErrQuantityInvalid
		}
		if !finite(in.UnitPrice) || in.UnitPrice < 0 {
			return Totals{}, nil, ErrUnitPriceInvalid
		}
		lineTotal := roundCents(in.Quantity * in.UnitPrice)
		subtotal += lineTotal
		priced = append(priced, LineItem{
			Position:    i + 1,
			ProductID:   in.ProductID,
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			Total:       lineTotal,
		})
	}
	subtotal = roundCents(subtotal)
	if !finite(subtotal) {
		return Totals{}, nil, ErrAmountOutOfRange
	}

	if !finite(discount) {
		return Totals{}, nil, ErrDiscountInvalid
	}
	discount = roundCents(discount)
	if discount < 0 || discount > subtotal {
		return Totals{}, nil, ErrDiscountInvalid
	}

	tax := roundCents((subtotal - discount) * taxRate / 100)
	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Total:    roundCents(subtotal - discount + tax),
	}, priced, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
