package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"barpos/backend/internal/cart"
	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
)

// Carts are keyed by staff id, so two terminals logged in as the same staff
// member share one cart.

func (s *Service) CartView(ctx context.Context) (cart.View, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return cart.View{}, err
	}
	return s.carts.View(actor.StaffID), nil
}

// CartAdd snapshots the product at its current price and the tax rate of its
// category. Later catalog edits do not change lines already in the cart.
func (s *Service) CartAdd(ctx context.Context, productID string) (cart.View, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return cart.View{}, err
	}
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return cart.View{}, err
	}
	rate := s.settings.TaxRateFor(product.Category)
	return s.carts.Update(actor.StaffID, func(c *cart.Cart) {
		c.AddLine(*product, rate)
	}), nil
}

func (s *Service) CartChangeQuantity(ctx context.Context, productID string, delta int) (cart.View, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return cart.View{}, err
	}
	id := strings.ToUpper(strings.TrimSpace(productID))
	return s.carts.Update(actor.StaffID, func(c *cart.Cart) {
		c.SetQuantity(id, delta)
	}), nil
}

func (s *Service) CartRemove(ctx context.Context, productID string) (cart.View, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return cart.View{}, err
	}
	id := strings.ToUpper(strings.TrimSpace(productID))
	return s.carts.Update(actor.StaffID, func(c *cart.Cart) {
		c.RemoveLine(id)
	}), nil
}

func (s *Service) CartClear(ctx context.Context) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	s.carts.Clear(actor.StaffID)
	return nil
}

func (s *Service) cartLines(actor domain.Actor) ([]domain.OrderLine, error) {
	lines := s.carts.View(actor.StaffID).Lines
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrInvalidOrder)
	}
	return lines, nil
}

// SubmitCart turns the caller's cart into a PENDING order. The cart is kept;
// terminals clear it explicitly once the order is on screen.
func (s *Service) SubmitCart(ctx context.Context) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	lines, err := s.cartLines(actor)
	if err != nil {
		return domain.Order{}, err
	}
	return s.CreateOrder(ctx, lines)
}

// CheckoutResult is either a committed sale or, for mobile money, the intent
// still waiting for the customer to confirm on their phone.
type CheckoutResult struct {
	Order  *domain.Order         `json:"order,omitempty"`
	Intent *domain.PaymentIntent `json:"intent,omitempty"`
}

// CheckoutCart rings up the caller's cart as a direct sale. Cash and card
// commit immediately and clear the cart. Mobile money starts a push and keeps
// the cart until the payment is confirmed.
// A non-zero expectedTotal must match the cart total.
func (s *Service) CheckoutCart(ctx context.Context, method domain.PaymentMethod, phone string, expectedTotal decimal.Decimal) (CheckoutResult, error) {
	actor, err := requireSettler(ctx)
	if err != nil {
		return CheckoutResult{}, err
	}
	lines, err := s.cartLines(actor)
	if err != nil {
		return CheckoutResult{}, err
	}
	req := domain.DirectSaleRequest{Lines: lines, Total: expectedTotal, PaymentMethod: method, Phone: phone}

	if method == domain.PaymentMpesa {
		intent, err := s.InitiateMobileDirectSale(ctx, req)
		if err != nil {
			return CheckoutResult{}, err
		}
		return CheckoutResult{Intent: &intent}, nil
	}

	sale, err := s.RecordDirectSale(ctx, req)
	if err != nil {
		return CheckoutResult{}, err
	}
	s.carts.Clear(actor.StaffID)
	return CheckoutResult{Order: &sale}, nil
}
