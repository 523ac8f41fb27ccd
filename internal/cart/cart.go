// Package cart holds the mutable line list of the transaction in progress and the
// discount working copy that rewrites line rates.
package cart

import (
	"errors"
	"fmt"
	"strings"

	"tillpoint/backend/internal/domain"
)

var (
	ErrInvalidLine  = errors.New("invalid cart line")
	ErrLineNotFound = errors.New("cart line not found")
)

// Cart is not safe for concurrent use; the owning transaction context serialises access.
type Cart struct {
	lines []domain.CartLine
}

func New() *Cart {
	return &Cart{}
}

// FromLines rebuilds a cart, e.g. when a held sale is resumed.
func FromLines(lines []domain.CartLine) (*Cart, error) {
	c := New()
	for _, line := range lines {
		if err := c.AddLine(line); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddLine appends a line, merging quantity into an existing line with the same
// item code, refund flag and rate.
func (c *Cart) AddLine(line domain.CartLine) error {
	line.ItemCode = strings.TrimSpace(line.ItemCode)
	line.Name = strings.TrimSpace(line.Name)
	if line.ItemCode == "" {
		return fmt.Errorf("%w: item_code is required", ErrInvalidLine)
	}
	if line.Qty < 1 {
		return fmt.Errorf("%w: qty must be positive", ErrInvalidLine)
	}
	if line.RateCents < 0 {
		return fmt.Errorf("%w: rate must not be negative", ErrInvalidLine)
	}
	if line.Name == "" {
		line.Name = line.ItemCode
	}

	for i := range c.lines {
		existing := &c.lines[i]
		if existing.ItemCode == line.ItemCode && existing.Refund == line.Refund && existing.RateCents == line.RateCents {
			existing.Qty += line.Qty
			return nil
		}
	}
	c.lines = append(c.lines, cloneLine(line))
	return nil
}

// SetQty sets the quantity of a line; zero removes it.
func (c *Cart) SetQty(index int, qty int) error {
	if index < 0 || index >= len(c.lines) {
		return ErrLineNotFound
	}
	if qty < 0 {
		return fmt.Errorf("%w: qty must not be negative", ErrInvalidLine)
	}
	if qty == 0 {
		return c.RemoveLine(index)
	}
	c.lines[index].Qty = qty
	return nil
}

func (c *Cart) AdjustQty(index int, delta int) error {
	if index < 0 || index >= len(c.lines) {
		return ErrLineNotFound
	}
	next := c.lines[index].Qty + delta
	if next < 0 {
		next = 0
	}
	return c.SetQty(index, next)
}

func (c *Cart) RemoveLine(index int) error {
	if index < 0 || index >= len(c.lines) {
		return ErrLineNotFound
	}
	c.lines = append(c.lines[:index], c.lines[index+1:]...)
	return nil
}

func (c *Cart) Clear() {
	c.lines = nil
}

// Replace swaps every line for the given set, used by voucher sales.
func (c *Cart) Replace(lines []domain.CartLine) {
	c.lines = make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		c.lines = append(c.lines, cloneLine(line))
	}
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, 0, len(c.lines))
	for _, line := range c.lines {
		out = append(out, cloneLine(line))
	}
	return out
}

// Total is the algebraic sum of line contributions; refund lines count negative.
func (c *Cart) Total() int64 {
	var total int64
	for _, line := range c.lines {
		total += line.AmountCents()
	}
	return total
}

func (c *Cart) IsRefund() bool {
	return c.Total() < 0
}

func (c *Cart) ItemsQty() int {
	qty := 0
	for _, line := range c.lines {
		qty += line.Qty
	}
	return qty
}

func (c *Cart) setRate(index int, rate int64) {
	line := &c.lines[index]
	if line.OriginalRateCents == nil {
		original := line.RateCents
		line.OriginalRateCents = &original
	}
	line.RateCents = rate
}

func cloneLine(line domain.CartLine) domain.CartLine {
	out := line
	if line.OriginalRateCents != nil {
		v := *line.OriginalRateCents
		out.OriginalRateCents = &v
	}
	if line.VATRate != nil {
		v := *line.VATRate
		out.VATRate = &v
	}
	return out
}
