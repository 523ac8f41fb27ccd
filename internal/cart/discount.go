package cart

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tillpoint/backend/internal/money"
)

var ErrInvalidDiscount = errors.New("invalid discount")

type DiscountMode string

const (
	DiscountAmount  DiscountMode = "amount"
	DiscountPercent DiscountMode = "percent"
	DiscountSet     DiscountMode = "set"
)

type DiscountRow struct {
	Index     int    `json:"index"`
	ItemCode  string `json:"item_code"`
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
	Refund    bool   `json:"refund"`
	BaseCents int64  `json:"base_cents"`
	CurrCents int64  `json:"curr_cents"`
}

type DiscountPreview struct {
	Rows       []DiscountRow `json:"rows"`
	TotalCents int64         `json:"total_cents"`
	SavedCents int64         `json:"saved_cents"`
}

// Discount is a working copy of the cart rates. Nothing touches the cart until Commit.
type Discount struct {
	cart *Cart
	rows []DiscountRow
}

func NewDiscount(c *Cart) *Discount {
	rows := make([]DiscountRow, 0, len(c.lines))
	for i, line := range c.lines {
		base := line.RateCents
		if line.OriginalRateCents != nil {
			base = *line.OriginalRateCents
		}
		rows = append(rows, DiscountRow{
			Index:     i,
			ItemCode:  line.ItemCode,
			Name:      line.Name,
			Qty:       line.Qty,
			Refund:    line.Refund,
			BaseCents: base,
			CurrCents: line.RateCents,
		})
	}
	return &Discount{cart: c, rows: rows}
}

// ApplyBatch rewrites the working rate of every selected row. An empty selection means all rows.
func (d *Discount) ApplyBatch(codes []string, mode DiscountMode, value decimal.Decimal) error {
	if value.IsNegative() {
		return fmt.Errorf("%w: value must not be negative", ErrInvalidDiscount)
	}
	switch mode {
	case DiscountAmount, DiscountPercent, DiscountSet:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidDiscount, mode)
	}

	selected := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		selected[code] = struct{}{}
	}

	for i := range d.rows {
		row := &d.rows[i]
		if len(selected) > 0 {
			if _, ok := selected[row.ItemCode]; !ok {
				continue
			}
		}
		row.CurrCents = money.Max(0, nextRate(row.CurrCents, mode, value))
	}
	return nil
}

func nextRate(curr int64, mode DiscountMode, value decimal.Decimal) int64 {
	switch mode {
	case DiscountAmount:
		return curr - money.FromDecimal(value)
	case DiscountPercent:
		factor := decimal.NewFromInt(1).Sub(value.Div(decimal.NewFromInt(100)))
		return money.FromDecimal(money.ToDecimal(curr).Mul(factor))
	default:
		return money.FromDecimal(value)
	}
}

// Preview reports the working rows and the cart total they would produce.
func (d *Discount) Preview() DiscountPreview {
	rows := make([]DiscountRow, len(d.rows))
	copy(rows, d.rows)

	var total, current int64
	for _, row := range d.rows {
		line := d.cart.lines[row.Index]
		line.RateCents = row.CurrCents
		total += line.AmountCents()
		current += d.cart.lines[row.Index].AmountCents()
	}
	return DiscountPreview{Rows: rows, TotalCents: total, SavedCents: money.Abs(current) - money.Abs(total)}
}

// Commit writes the working rates back to the cart. The cart must not have changed shape since
// NewDiscount.
func (d *Discount) Commit() error {
	if len(d.rows) != len(d.cart.lines) {
		return fmt.Errorf("%w: cart changed since discount started", ErrInvalidDiscount)
	}
	for _, row := range d.rows {
		if d.cart.lines[row.Index].ItemCode != row.ItemCode {
			return fmt.Errorf("%w: cart changed since discount started", ErrInvalidDiscount)
		}
	}
	for _, row := range d.rows {
		if d.cart.lines[row.Index].RateCents == row.CurrCents {
			continue
		}
		d.cart.setRate(row.Index, row.CurrCents)
	}
	return nil
}
