// Package cart holds the per-terminal line accumulator used to build an order
// before it is submitted. Carts live in process memory only.
package cart

import (
	"sync"

	"github.com/shopspring/decimal"

	"barpos/backend/internal/domain"
)

type Cart struct {
	lines  []domain.OrderLine
	totals domain.Totals
}

type View struct {
	Lines []domain.OrderLine `json:"lines"`
	domain.Totals
}

func New() *Cart {
	c := &Cart{}
	c.recompute()
	return c
}

// AddLine increments the line for product, or appends a new line with
// quantity 1 carrying a snapshot of the product and its tax rate.
func (c *Cart) AddLine(product domain.Product, taxRate decimal.Decimal) {
	for i := range c.lines {
		if c.lines[i].ProductID == product.ID {
			c.lines[i].Quantity++
			c.recompute()
			return
		}
	}
	c.lines = append(c.lines, domain.OrderLine{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.Price,
		Quantity:  1,
		TaxRate:   taxRate,
	})
	c.recompute()
}

// SetQuantity shifts a line's quantity by delta, never below 1. Unknown ids are ignored.
func (c *Cart) SetQuantity(productID string, delta int) {
	for i := range c.lines {
		if c.lines[i].ProductID != productID {
			continue
		}
		qty := c.lines[i].Quantity + delta
		if qty < 1 {
			qty = 1
		}
		c.lines[i].Quantity = qty
		c.recompute()
		return
	}
}

func (c *Cart) RemoveLine(productID string) {
	kept := c.lines[:0]
	for _, l := range c.lines {
		if l.ProductID != productID {
			kept = append(kept, l)
		}
	}
	c.lines = kept
	c.recompute()
}

func (c *Cart) Clear() {
	c.lines = nil
	c.recompute()
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) Lines() []domain.OrderLine {
	return append([]domain.OrderLine(nil), c.lines...)
}

func (c *Cart) Totals() domain.Totals {
	return c.totals
}

func (c *Cart) View() View {
	lines := c.Lines()
	if lines == nil {
		lines = []domain.OrderLine{}
	}
	return View{Lines: lines, Totals: c.totals}
}

func (c *Cart) recompute() {
	c.totals = domain.ComputeTotals(c.lines)
}

// Registry keeps one cart per logged-in staff member.
type Registry struct {
	mu    sync.Mutex
	carts map[string]*Cart
}

func NewRegistry() *Registry {
	return &Registry{carts: make(map[string]*Cart)}
}

// Update runs fn against the owner's cart under the registry lock and
// returns the resulting view.
func (r *Registry) Update(owner string, fn func(c *Cart)) View {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[owner]
	if !ok {
		c = New()
		r.carts[owner] = c
	}
	fn(c)
	return c.View()
}

func (r *Registry) View(owner string) View {
	return r.Update(owner, func(*Cart) {})
}

// ClearIfLines empties the owner's cart only when it still holds exactly
// lines, so items added after a checkout started are kept.
func (r *Registry) ClearIfLines(owner string, lines []domain.OrderLine) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[owner]
	if !ok {
		return false
	}
	if !sameLines(c.lines, lines) {
		return false
	}
	delete(r.carts, owner)
	return true
}

func sameLines(a, b []domain.OrderLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ProductID != b[i].ProductID || a[i].Quantity != b[i].Quantity ||
			!a[i].UnitPrice.Equal(b[i].UnitPrice) || !a[i].TaxRate.Equal(b[i].TaxRate) {
			return false
		}
	}
	return true
}

func (r *Registry) Clear(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, owner)
}
