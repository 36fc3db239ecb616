package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
)

const (
	reportKeySalesByStaff   = "sales-by-staff"
	reportKeyPaymentMethods = "payment-methods"
)

// FoldSalesByStaff groups the completed ledger by staff name and sums totals.
// Rows are ordered by total, largest first, then by name.
func FoldSalesByStaff(completed []domain.Order) []domain.StaffSales {
	sums := make(map[string]decimal.Decimal)
	for _, o := range completed {
		if o.Status != domain.OrderPaid {
			continue
		}
		sums[o.StaffName] = sums[o.StaffName].Add(o.Total)
	}

	rows := make([]domain.StaffSales, 0, len(sums))
	for name, total := range sums {
		rows = append(rows, domain.StaffSales{StaffName: name, Total: total})
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].Total.Cmp(rows[j].Total); c != 0 {
			return c > 0
		}
		return rows[i].StaffName < rows[j].StaffName
	})
	return rows
}

func FoldRevenueByMethod(completed []domain.Order) []domain.MethodRevenue {
	byMethod := make(map[domain.PaymentMethod]*domain.MethodRevenue)
	for _, o := range completed {
		if o.Status != domain.OrderPaid {
			continue
		}
		row, ok := byMethod[o.PaymentMethod]
		if !ok {
			row = &domain.MethodRevenue{Method: o.PaymentMethod, Total: decimal.Zero}
			byMethod[o.PaymentMethod] = row
		}
		row.Orders++
		row.Total = row.Total.Add(o.Total)
	}

	rows := make([]domain.MethodRevenue, 0, len(byMethod))
	for _, row := range byMethod {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Method < rows[j].Method })
	return rows
}

// FoldStaffStats splits one staff member's sales into settled (completed
// ledger) and unsettled (active ledger). Voided orders are in neither.
func FoldStaffStats(staffID string, active []domain.Order, completed []domain.Order) domain.StaffStats {
	stats := domain.StaffStats{StaffID: staffID, Settled: decimal.Zero, Unsettled: decimal.Zero}
	for _, o := range completed {
		if o.StaffID == staffID && o.Status == domain.OrderPaid {
			stats.Settled = stats.Settled.Add(o.Total)
		}
	}
	for _, o := range active {
		if o.StaffID == staffID && (o.Status == domain.OrderPending || o.Status == domain.OrderDispatched) {
			stats.Unsettled = stats.Unsettled.Add(o.Total)
		}
	}
	stats.Total = stats.Settled.Add(stats.Unsettled)
	return stats
}

func (s *Service) SalesByStaff(ctx context.Context) ([]domain.StaffSales, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	var rows []domain.StaffSales
	if s.cachedReport(ctx, reportKeySalesByStaff, &rows) {
		return rows, nil
	}
	completed, err := s.repo.ListCompletedOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("sales by staff: %w", err)
	}
	rows = FoldSalesByStaff(completed)
	s.storeReport(ctx, reportKeySalesByStaff, rows)
	return rows, nil
}

func (s *Service) RevenueByPaymentMethod(ctx context.Context) ([]domain.MethodRevenue, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	var rows []domain.MethodRevenue
	if s.cachedReport(ctx, reportKeyPaymentMethods, &rows) {
		return rows, nil
	}
	completed, err := s.repo.ListCompletedOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("revenue by payment method: %w", err)
	}
	rows = FoldRevenueByMethod(completed)
	s.storeReport(ctx, reportKeyPaymentMethods, rows)
	return rows, nil
}

// StaffStats is open to admins for anyone and to staff for themselves.
func (s *Service) StaffStats(ctx context.Context, staffID string) (domain.StaffStats, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StaffStats{}, err
	}
	staffID = strings.TrimSpace(staffID)
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSystem && actor.StaffID != staffID {
		return domain.StaffStats{}, fmt.Errorf("%w: staff may only read their own stats", ErrForbidden)
	}

	active, err := s.repo.ListActiveOrders(ctx)
	if err != nil {
		return domain.StaffStats{}, fmt.Errorf("staff stats: %w", err)
	}
	completed, err := s.repo.ListCompletedOrders(ctx)
	if err != nil {
		return domain.StaffStats{}, fmt.Errorf("staff stats: %w", err)
	}
	return FoldStaffStats(staffID, active, completed), nil
}

func (s *Service) cachedReport(ctx context.Context, key string, dest any) bool {
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (s *Service) storeReport(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value, s.reportTTL); err != nil {
		s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
}
