package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/feed"
	"barpos/backend/internal/payment"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

// InitiateMobileDirectSale pushes a payment request to the customer's phone
// for a counter sale. Nothing is committed until the push is confirmed; the
// sale id is reserved on the intent so the commit happens at most once.
func (s *Service) InitiateMobileDirectSale(ctx context.Context, req domain.DirectSaleRequest) (domain.PaymentIntent, error) {
	actor, err := requireSettler(ctx)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if err := validateLines(req.Lines); err != nil {
		return domain.PaymentIntent{}, err
	}
	totals := domain.ComputeTotals(req.Lines)
	if !req.Total.IsZero() && !req.Total.Equal(totals.Total) {
		return domain.PaymentIntent{}, fmt.Errorf("%w: total %s does not match lines (%s)", store.ErrInvalidOrder, req.Total, totals.Total)
	}

	return s.startIntent(ctx, actor, domain.PaymentIntent{
		Purpose: domain.PurposeDirectSale,
		OrderID: xid.New("INV"),
		Lines:   append([]domain.OrderLine(nil), req.Lines...),
		Amount:  totals.Total,
	}, req.Phone)
}

// InitiateMobileSettlement pushes a payment request for an existing order.
// The order stays where it is until the push is confirmed.
func (s *Service) InitiateMobileSettlement(ctx context.Context, orderID string, phone string) (domain.PaymentIntent, error) {
	actor, err := requireSettler(ctx)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if _, err := domain.PlanTransition(*order, domain.OrderPaid); err != nil {
		return domain.PaymentIntent{}, err
	}

	return s.startIntent(ctx, actor, domain.PaymentIntent{
		Purpose: domain.PurposeSettleOrder,
		OrderID: order.ID,
		Amount:  order.Total,
	}, phone)
}

func (s *Service) startIntent(ctx context.Context, actor domain.Actor, intent domain.PaymentIntent, phone string) (domain.PaymentIntent, error) {
	normalized, err := payment.NormalizePhone(phone)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	intent.ID = xid.New("PAY")
	result, err := s.gateway.InitiatePush(ctx, intent.Amount, normalized, intent.OrderID)
	if err != nil {
		s.metrics.PaymentIntent("PUSH_ERROR")
		s.logger.Warn("payment push failed",
			zap.String("intent_id", intent.ID),
			zap.String("order_id", intent.OrderID),
			zap.Error(err))
		return domain.PaymentIntent{}, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
	}
	if !result.Accepted {
		s.metrics.PaymentIntent("PUSH_REJECTED")
		return domain.PaymentIntent{}, fmt.Errorf("%w: %s", domain.ErrPaymentFailed, result.Message)
	}

	now := s.now()
	intent.Handle = result.Handle
	intent.StaffID = actor.StaffID
	intent.StaffName = actor.Name
	intent.Phone = normalized
	intent.Status = domain.PaymentAwaiting
	intent.Message = result.Message
	intent.CreatedAt = now
	intent.UpdatedAt = now

	created, err := s.repo.CreatePaymentIntent(ctx, intent)
	if err != nil {
		// The customer already has the prompt on their phone. Without a stored
		// intent the callback cannot be matched, so say so loudly.
		s.logger.Error("payment intent not stored after accepted push",
			zap.String("intent_id", intent.ID),
			zap.String("handle", intent.Handle),
			zap.Error(err))
		return domain.PaymentIntent{}, fmt.Errorf("store payment intent: %w", err)
	}

	s.metrics.PaymentIntent(string(domain.PaymentAwaiting))
	s.logAudit(ctx, "PAYMENT_INITIATED", fmt.Sprintf("M-Pesa push %s for %s %s %s to %s",
		created.ID, strings.ToLower(string(created.Purpose)), created.OrderID,
		formatAmount(s.settings.Currency, created.Amount), maskPhone(created.Phone)))
	s.publish(ctx, feed.PaymentChanged, created.ID)
	return *created, nil
}

func (s *Service) GetPaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.GetPaymentIntent(ctx, strings.TrimSpace(id))
}

// ConfirmPayment applies a gateway result. Deliveries for an intent that is
// already CONFIRMED or FAILED are ignored, so a retried webhook never commits
// twice.
func (s *Service) ConfirmPayment(ctx context.Context, handle string, success bool, message string) (domain.PaymentIntent, error) {
	intent, err := s.repo.GetPaymentIntentByHandle(ctx, strings.TrimSpace(handle))
	if err != nil {
		return domain.PaymentIntent{}, err
	}

	to := domain.PaymentFailed
	if success {
		to = domain.PaymentConfirmed
	}
	if !intent.Status.CanMoveTo(to) {
		s.logger.Info("duplicate payment callback ignored",
			zap.String("intent_id", intent.ID),
			zap.String("status", string(intent.Status)))
		return *intent, nil
	}

	moved, err := s.repo.TransitionPaymentIntent(ctx, intent.ID, intent.Status, to, message)
	if errors.Is(err, store.ErrConflict) {
		current, getErr := s.repo.GetPaymentIntent(ctx, intent.ID)
		if getErr != nil {
			return domain.PaymentIntent{}, getErr
		}
		return *current, nil
	}
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("confirm payment %s: %w", intent.ID, err)
	}

	s.metrics.PaymentIntent(string(to))
	ctx = WithActor(ctx, domain.SystemActor)
	s.logAudit(ctx, "PAYMENT_"+string(to), fmt.Sprintf("M-Pesa %s for %s: %s", moved.ID, moved.OrderID, message))
	if to == domain.PaymentConfirmed {
		s.applyConfirmedIntent(ctx, *moved)
	}
	s.publish(ctx, feed.PaymentChanged, moved.ID)
	return *moved, nil
}

// applyConfirmedIntent commits what the customer paid for. The money has
// already moved, so a commit failure cannot be returned to anyone useful; it
// is raised as an alert for an admin to resolve by hand.
func (s *Service) applyConfirmedIntent(ctx context.Context, intent domain.PaymentIntent) {
	sys := WithActor(ctx, domain.SystemActor)

	var err error
	switch intent.Purpose {
	case domain.PurposeDirectSale:
		_, err = s.commitDirectSale(sys, intent.OrderID, intent.StaffID, intent.StaffName, intent.Lines, domain.PaymentMpesa)
		if err == nil && !s.carts.ClearIfLines(intent.StaffID, intent.Lines) {
			s.logger.Info("cart changed during payment, left in place",
				zap.String("staff_id", intent.StaffID),
				zap.String("intent_id", intent.ID))
		}
	case domain.PurposeSettleOrder:
		_, err = s.Settle(sys, intent.OrderID, domain.PaymentMpesa)
	default:
		err = fmt.Errorf("unknown payment purpose %q", intent.Purpose)
	}
	if err == nil {
		return
	}

	if intent.Purpose == domain.PurposeDirectSale && errors.Is(err, store.ErrConflict) {
		if _, getErr := s.repo.GetOrder(ctx, intent.OrderID); getErr == nil {
			return
		}
	}
	s.logger.Error("confirmed payment not applied",
		zap.String("intent_id", intent.ID),
		zap.String("order_id", intent.OrderID),
		zap.Error(err))
	s.notify(sys, domain.NotifyAlert, "Payment not applied",
		fmt.Sprintf("M-Pesa payment %s of %s was received but %s could not be recorded: %v",
			intent.ID, formatAmount(s.settings.Currency, intent.Amount), intent.OrderID, err))
}

// ExpireStalePayments marks intents that have waited longer than the
// confirmation timeout as UNCONFIRMED and alerts an admin to reconcile them.
func (s *Service) ExpireStalePayments(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.paymentTimeout)
	stale, err := s.repo.ListPaymentIntents(ctx, domain.PaymentAwaiting, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale payments: %w", err)
	}

	ctx = WithActor(ctx, domain.SystemActor)
	expired := 0
	for _, intent := range stale {
		moved, err := s.repo.TransitionPaymentIntent(ctx, intent.ID, domain.PaymentAwaiting, domain.PaymentUnconfirmed,
			fmt.Sprintf("no confirmation within %s", s.paymentTimeout))
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire payment %s: %w", intent.ID, err)
		}
		expired++
		s.metrics.PaymentIntent(string(domain.PaymentUnconfirmed))
		s.notify(ctx, domain.NotifyAlert, "Payment unconfirmed",
			fmt.Sprintf("M-Pesa payment %s of %s from %s was not confirmed. Check the statement and reconcile.",
				moved.ID, formatAmount(s.settings.Currency, moved.Amount), maskPhone(moved.Phone)))
		s.logAudit(ctx, "PAYMENT_UNCONFIRMED", fmt.Sprintf("M-Pesa %s for %s timed out", moved.ID, moved.OrderID))
		s.publish(ctx, feed.PaymentChanged, moved.ID)
	}
	return expired, nil
}

// ReconcilePayment lets an admin settle an UNCONFIRMED intent after checking
// the gateway statement.
func (s *Service) ReconcilePayment(ctx context.Context, id string, req domain.ReconcileRequest) (domain.PaymentIntent, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PaymentIntent{}, err
	}
	intent, err := s.repo.GetPaymentIntent(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if intent.Status != domain.PaymentUnconfirmed {
		return domain.PaymentIntent{}, fmt.Errorf("%w: payment %s is %s", store.ErrConflict, intent.ID, intent.Status)
	}

	to := domain.PaymentFailed
	if req.Confirmed {
		to = domain.PaymentConfirmed
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "reconciled manually"
	}
	moved, err := s.repo.TransitionPaymentIntent(ctx, intent.ID, domain.PaymentUnconfirmed, to, note)
	if err != nil {
		return domain.PaymentIntent{}, fmt.Errorf("reconcile payment %s: %w", intent.ID, err)
	}

	s.metrics.PaymentIntent(string(to))
	s.logAudit(ctx, "PAYMENT_RECONCILED", fmt.Sprintf("M-Pesa %s for %s marked %s: %s", moved.ID, moved.OrderID, to, note))
	if to == domain.PaymentConfirmed {
		s.applyConfirmedIntent(ctx, *moved)
	}
	s.publish(ctx, feed.PaymentChanged, moved.ID)
	return *moved, nil
}

func formatAmount(currency string, amount decimal.Decimal) string {
	return currency + " " + amount.StringFixed(2)
}

// maskPhone keeps the country code and last three digits.
func maskPhone(phone string) string {
	if len(phone) < 7 {
		return phone
	}
	return phone[:3] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-3:]
}
