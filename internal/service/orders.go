package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/feed"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

func validateLines(lines []domain.OrderLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: no lines", store.ErrInvalidOrder)
	}
	for _, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return fmt.Errorf("%w: line without product", store.ErrInvalidOrder)
		}
		if l.Quantity < 1 {
			return fmt.Errorf("%w: quantity for %s must be at least 1", store.ErrInvalidOrder, l.ProductID)
		}
		if l.UnitPrice.IsNegative() || l.TaxRate.IsNegative() {
			return fmt.Errorf("%w: negative price or tax on %s", store.ErrInvalidOrder, l.ProductID)
		}
	}
	return nil
}

func countUnits(lines []domain.OrderLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// CreateOrder records a PENDING order for the calling staff member. Stock is
// untouched until the order is dispatched or settled.
func (s *Service) CreateOrder(ctx context.Context, lines []domain.OrderLine) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if err := validateLines(lines); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	totals := domain.ComputeTotals(lines)
	order := domain.Order{
		ID:        xid.New("ORD"),
		StaffID:   actor.StaffID,
		StaffName: actor.Name,
		Items:     append([]domain.OrderLine(nil), lines...),
		Subtotal:  totals.Subtotal,
		TaxTotal:  totals.TaxTotal,
		Total:     totals.Total,
		Status:    domain.OrderPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.logAudit(ctx, "CREATE_ORDER", fmt.Sprintf("Order %s for %s %s (%d units)",
		created.ID, s.settings.Currency, created.Total.StringFixed(2), countUnits(created.Items)))
	s.publish(ctx, feed.OrderChanged, created.ID)
	return *created, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.repo.GetOrder(ctx, strings.TrimSpace(id))
}

func (s *Service) ListActiveOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.ListActiveOrders(ctx)
}

func (s *Service) ListCompletedOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.ListCompletedOrders(ctx)
}

// Dispatch hands a PENDING order to the floor and deducts its stock.
func (s *Service) Dispatch(ctx context.Context, orderID string) (domain.Order, error) {
	if _, err := requireSettler(ctx); err != nil {
		return domain.Order{}, err
	}
	return s.transition(ctx, orderID, domain.OrderDispatched, "")
}

// Settle marks an order PAID. Mobile-money settlement goes through
// InitiateMobileSettlement and lands here only once the payment is confirmed.
func (s *Service) Settle(ctx context.Context, orderID string, method domain.PaymentMethod) (domain.Order, error) {
	actor, err := requireSettler(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if !method.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, method)
	}
	if method == domain.PaymentMpesa && actor.Role != domain.RoleSystem {
		return domain.Order{}, fmt.Errorf("%w: mpesa settlement requires a confirmed payment", ErrInvalidInput)
	}
	return s.transition(ctx, orderID, domain.OrderPaid, method)
}

// Void cancels an order. A DISPATCHED order gets its stock back; a PENDING
// one never took any and is simply dropped.
func (s *Service) Void(ctx context.Context, orderID string) (domain.Order, error) {
	if _, err := requireSettler(ctx); err != nil {
		return domain.Order{}, err
	}
	return s.transition(ctx, orderID, domain.OrderVoid, "")
}

var transitionAudit = map[domain.OrderStatus]string{
	domain.OrderDispatched: "DISPATCH_ORDER",
	domain.OrderPaid:       "ORDER_PAID",
	domain.OrderVoid:       "VOID_ORDER",
}

func (s *Service) transition(ctx context.Context, orderID string, to domain.OrderStatus, method domain.PaymentMethod) (domain.Order, error) {
	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	plan, err := domain.PlanTransition(*current, to)
	if err != nil {
		return domain.Order{}, err
	}
	now := s.now()
	plan.Order.UpdatedAt = now
	if to == domain.OrderPaid {
		plan.Order.PaymentMethod = method
		plan.Order.SettledAt = &now
	}

	committed, touched, err := s.repo.CommitTransition(ctx, plan, s.settings.StockPolicy)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.logger.Info("order transition lost race",
				zap.String("order_id", current.ID),
				zap.String("to", string(to)))
		}
		return domain.Order{}, fmt.Errorf("%s order %s: %w", strings.ToLower(string(to)), current.ID, err)
	}

	s.metrics.OrderTransition(string(to))
	detail := fmt.Sprintf("Order %s %s -> %s, %s %s", committed.ID, plan.ExpectedStatus, to,
		s.settings.Currency, committed.Total.StringFixed(2))
	if method != "" {
		detail += " via " + string(method)
	}
	if plan.Transition.Stock != domain.StockEffectNone {
		detail += fmt.Sprintf(", stock %s %d units", plan.Transition.Stock, countUnits(committed.Items))
	}
	s.logAudit(ctx, transitionAudit[to], detail)

	s.afterStockChange(ctx, plan.StockChanges, touched)
	if plan.Transition.Ledger != domain.LedgerActive {
		s.invalidateReports(ctx)
	}
	if plan.Transition.Ledger == domain.LedgerRemoved {
		s.publish(ctx, feed.OrderRemoved, committed.ID)
	} else {
		s.publish(ctx, feed.OrderChanged, committed.ID)
	}
	return *committed, nil
}

// RecordDirectSale rings up a counter sale: stock is deducted and the sale
// lands in the completed ledger in one step, never passing through active.
// A non-zero req.Total must match the computed total.
func (s *Service) RecordDirectSale(ctx context.Context, req domain.DirectSaleRequest) (domain.Order, error) {
	actor, err := requireSettler(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if !req.PaymentMethod.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, req.PaymentMethod)
	}
	if req.PaymentMethod == domain.PaymentMpesa && actor.Role != domain.RoleSystem {
		return domain.Order{}, fmt.Errorf("%w: mpesa sales require a confirmed payment", ErrInvalidInput)
	}
	if err := validateLines(req.Lines); err != nil {
		return domain.Order{}, err
	}
	totals := domain.ComputeTotals(req.Lines)
	if !req.Total.IsZero() && !req.Total.Equal(totals.Total) {
		return domain.Order{}, fmt.Errorf("%w: total %s does not match lines (%s)", store.ErrInvalidOrder, req.Total, totals.Total)
	}

	return s.commitDirectSale(ctx, xid.New("INV"), actor.StaffID, actor.Name, req.Lines, req.PaymentMethod)
}

func (s *Service) commitDirectSale(ctx context.Context, id string, staffID string, staffName string, lines []domain.OrderLine, method domain.PaymentMethod) (domain.Order, error) {
	now := s.now()
	totals := domain.ComputeTotals(lines)
	sale := domain.Order{
		ID:            id,
		StaffID:       staffID,
		StaffName:     staffName,
		Items:         append([]domain.OrderLine(nil), lines...),
		Subtotal:      totals.Subtotal,
		TaxTotal:      totals.TaxTotal,
		Total:         totals.Total,
		Status:        domain.OrderPaid,
		PaymentMethod: method,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
		SettledAt:     &now,
	}
	changes := domain.StockChangesFor(lines, domain.StockEffectDeduct)

	committed, touched, err := s.repo.CreateCompletedOrder(ctx, sale, changes, s.settings.StockPolicy)
	if err != nil {
		return domain.Order{}, fmt.Errorf("record sale %s: %w", id, err)
	}

	s.metrics.DirectSale(string(method))
	s.logAudit(ctx, "DIRECT_SALE", fmt.Sprintf("Sale %s %s %s via %s (%d units)",
		committed.ID, s.settings.Currency, committed.Total.StringFixed(2), method, countUnits(committed.Items)))
	s.afterStockChange(ctx, changes, touched)
	s.invalidateReports(ctx)
	s.publish(ctx, feed.OrderChanged, committed.ID)
	return *committed, nil
}
