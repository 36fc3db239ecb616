package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/feed"
	"barpos/backend/internal/payment"
	"barpos/backend/internal/store"
	"barpos/backend/internal/store/memory"
)

var (
	cashier = domain.Actor{StaffID: "S-CASHIER", Name: "Main Cashier", Role: domain.RoleCashier}
	waiter  = domain.Actor{StaffID: "S-JOHN", Name: "Waiter John", Role: domain.RoleWaiter}
	waiter2 = domain.Actor{StaffID: "S-MERCY", Name: "Waitress Mercy", Role: domain.RoleWaiter}
	admin   = domain.Actor{StaffID: "S-ADMIN", Name: "Super Admin", Role: domain.RoleAdmin}
)

type fixture struct {
	svc  *Service
	repo *memory.Store
	hub  *feed.Hub
	now  time.Time
}

func newFixture(t *testing.T, tweak ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		repo: memory.NewSeeded(zap.NewNop()),
		hub:  feed.NewHub(zap.NewNop()),
		now:  time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC),
	}
	opts := Options{
		Settings: domain.Settings{
			BusinessName: "Test Bar",
			Currency:     "KES",
			TaxRate:      decimal.NewFromInt(16),
			StockPolicy:  domain.StockPolicyAllow,
		},
		LowStockThreshold: 5,
		PaymentTimeout:    2 * time.Minute,
		PINCost:           bcrypt.MinCost,
		Gateway:           payment.StaticGateway{},
		Feed:              f.hub,
		Logger:            zap.NewNop(),
		Now:               func() time.Time { return f.now },
	}
	for _, fn := range tweak {
		fn(&opts)
	}
	f.svc = New(f.repo, opts)
	return f
}

func as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func (f *fixture) line(t *testing.T, productID string, qty int) domain.OrderLine {
	t.Helper()
	p, err := f.svc.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return domain.OrderLine{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  qty,
		TaxRate:   f.svc.Settings().TaxRateFor(p.Category),
	}
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.svc.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) notificationTitles(t *testing.T) []string {
	t.Helper()
	list, err := f.svc.ListNotifications(as(cashier))
	require.NoError(t, err)
	titles := make([]string, 0, len(list))
	for _, n := range list {
		titles = append(titles, n.Title)
	}
	return titles
}

func orderIDs(orders []domain.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}

func TestCreateOrderIsPendingAndLeavesStock(t *testing.T) {
	f := newFixture(t)

	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 2), f.line(t, "M1", 1)})
	require.NoError(t, err)

	assert.Equal(t, domain.OrderPending, order.Status)
	assert.Equal(t, "Waiter John", order.StaffName)
	assert.Equal(t, "600", order.Subtotal.String())
	assert.Equal(t, "96", order.TaxTotal.String())
	assert.Equal(t, "696", order.Total.String())
	assert.Equal(t, 450, f.stock(t, "L3"))
	assert.Equal(t, 80, f.stock(t, "M1"))

	active, err := f.svc.ListActiveOrders(context.Background())
	require.NoError(t, err)
	assert.Contains(t, orderIDs(active), order.ID)
}

func TestCreateOrderRejectsEmptyLines(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(as(waiter), nil)
	assert.ErrorIs(t, err, store.ErrInvalidOrder)

	_, err = f.svc.CreateOrder(context.Background(), []domain.OrderLine{f.line(t, "L3", 1)})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDispatchThenSettleDeductsOnce(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 2)})
	require.NoError(t, err)

	dispatched, err := f.svc.Dispatch(as(cashier), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDispatched, dispatched.Status)
	assert.Equal(t, 448, f.stock(t, "L3"))

	paid, err := f.svc.Settle(as(cashier), order.ID, domain.PaymentCash)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, paid.Status)
	assert.Equal(t, domain.PaymentCash, paid.PaymentMethod)
	require.NotNil(t, paid.SettledAt)
	assert.Equal(t, 448, f.stock(t, "L3"))

	active, err := f.svc.ListActiveOrders(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, orderIDs(active), order.ID)
	completed, err := f.svc.ListCompletedOrders(context.Background())
	require.NoError(t, err)
	assert.Contains(t, orderIDs(completed), order.ID)
}

func TestSettlePendingDeductsStock(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L1", 1)})
	require.NoError(t, err)

	_, err = f.svc.Settle(as(cashier), order.ID, domain.PaymentCard)
	require.NoError(t, err)
	assert.Equal(t, 23, f.stock(t, "L1"))
}

func TestVoidDispatchedRestoresStockAndLeavesBothLedgers(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 3)})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(as(cashier), order.ID)
	require.NoError(t, err)
	require.Equal(t, 447, f.stock(t, "L3"))

	voided, err := f.svc.Void(as(cashier), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderVoid, voided.Status)
	assert.Equal(t, 450, f.stock(t, "L3"))

	active, err := f.svc.ListActiveOrders(context.Background())
	require.NoError(t, err)
	completed, err := f.svc.ListCompletedOrders(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, orderIDs(active), order.ID)
	assert.NotContains(t, orderIDs(completed), order.ID)
}

func TestIllegalTransitionsAreRejected(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 1)})
	require.NoError(t, err)

	_, err = f.svc.Settle(as(cashier), order.ID, domain.PaymentCash)
	require.NoError(t, err)

	_, err = f.svc.Void(as(cashier), order.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	var terr *domain.TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, domain.OrderPaid, terr.From)
	assert.Equal(t, domain.OrderVoid, terr.To)

	_, err = f.svc.Settle(as(cashier), order.ID, domain.PaymentCash)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Dispatch(as(cashier), order.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 449, f.stock(t, "L3"))
}

func TestWaiterCannotMoveOrders(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 1)})
	require.NoError(t, err)

	_, err = f.svc.Dispatch(as(waiter), order.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.RecordDirectSale(as(waiter), domain.DirectSaleRequest{
		Lines:         []domain.OrderLine{f.line(t, "L3", 1)},
		PaymentMethod: domain.PaymentCash,
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSettleWithMpesaNeedsConfirmedPayment(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 1)})
	require.NoError(t, err)

	_, err = f.svc.Settle(as(cashier), order.ID, domain.PaymentMpesa)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Settle(as(cashier), order.ID, "bitcoin")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConcurrentDispatchDeductsOnce(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L1", 2)})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Dispatch(as(cashier), order.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 22, f.stock(t, "L1"))
}

func TestDirectSaleGoesStraightToCompleted(t *testing.T) {
	f := newFixture(t)

	sale, err := f.svc.RecordDirectSale(as(cashier), domain.DirectSaleRequest{
		Lines:         []domain.OrderLine{f.line(t, "L2", 2)},
		Total:         decimal.RequireFromString("3364"),
		PaymentMethod: domain.PaymentCash,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, sale.Status)
	assert.Equal(t, 110, f.stock(t, "L2"))

	active, err := f.svc.ListActiveOrders(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, orderIDs(active), sale.ID)
	completed, err := f.svc.ListCompletedOrders(context.Background())
	require.NoError(t, err)
	assert.Contains(t, orderIDs(completed), sale.ID)
}

func TestDirectSaleTotalMismatchCommitsNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordDirectSale(as(cashier), domain.DirectSaleRequest{
		Lines:         []domain.OrderLine{f.line(t, "L2", 2)},
		Total:         decimal.NewFromInt(100),
		PaymentMethod: domain.PaymentCash,
	})
	require.ErrorIs(t, err, store.ErrInvalidOrder)
	assert.Equal(t, 112, f.stock(t, "L2"))
}

func TestRejectPolicyLeavesOrderAndStock(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Settings.StockPolicy = domain.StockPolicyReject })
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L5", 13), f.line(t, "M1", 1)})
	require.NoError(t, err)

	_, err = f.svc.Dispatch(as(cashier), order.ID)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	current, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, current.Status)
	assert.Equal(t, 12, f.stock(t, "L5"))
	assert.Equal(t, 80, f.stock(t, "M1"))
}

func TestVoidPendingOrderDropsItWithoutStockChange(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Settings.StockPolicy = domain.StockPolicyReject })
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L5", 50)})
	require.NoError(t, err)

	_, err = f.svc.Dispatch(as(cashier), order.ID)
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = f.svc.Void(as(waiter), order.ID)
	require.ErrorIs(t, err, ErrForbidden)

	voided, err := f.svc.Void(as(cashier), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderVoid, voided.Status)
	assert.Equal(t, 12, f.stock(t, "L5"))

	active, err := f.svc.ListActiveOrders(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, orderIDs(active), order.ID)

	stats, err := f.svc.StaffStats(as(waiter), waiter.StaffID)
	require.NoError(t, err)
	assert.True(t, stats.Unsettled.IsZero(), stats.Unsettled.String())

	entries, err := f.svc.ListAudit(as(admin), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "VOID_ORDER", entries[0].Action)
	assert.Contains(t, entries[0].Detail, "PENDING -> VOID")
}

func TestDeleteProductRefusedWhileActiveOrderUsesIt(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L5", 1)})
	require.NoError(t, err)

	err = f.svc.DeleteProduct(as(admin), "L5")
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = f.svc.Dispatch(as(cashier), order.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, f.stock(t, "L5"))
	require.ErrorIs(t, f.svc.DeleteProduct(as(admin), "L5"), store.ErrConflict)

	_, err = f.svc.Void(as(cashier), order.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, f.stock(t, "L5"))

	require.NoError(t, f.svc.DeleteProduct(as(admin), "L5"))
	_, err = f.svc.GetProduct(context.Background(), "L5")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAllowPolicyAlertsOnNegativeStock(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L5", 13)})
	require.NoError(t, err)

	_, err = f.svc.Dispatch(as(cashier), order.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, f.stock(t, "L5"))
	assert.Contains(t, f.notificationTitles(t), "Negative stock")
}

func TestLowStockAlertFiresOnCrossing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordDirectSale(as(cashier), domain.DirectSaleRequest{
		Lines:         []domain.OrderLine{f.line(t, "L5", 7)},
		PaymentMethod: domain.PaymentCash,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, f.stock(t, "L5"))
	assert.Contains(t, f.notificationTitles(t), "Low stock")
}

func TestAdjustStock(t *testing.T) {
	f := newFixture(t)

	p, err := f.svc.AdjustStock(as(admin), "l1", domain.StockAdjustRequest{Quantity: 6, Direction: domain.StockRestore})
	require.NoError(t, err)
	assert.Equal(t, 30, p.Stock)

	p, err = f.svc.AdjustStock(as(admin), "L1", domain.StockAdjustRequest{Quantity: 10, Direction: domain.StockDeduct})
	require.NoError(t, err)
	assert.Equal(t, 20, p.Stock)
	assert.Contains(t, f.notificationTitles(t), "Stock Updated")

	_, err = f.svc.AdjustStock(as(admin), "L1", domain.StockAdjustRequest{Quantity: 0, Direction: domain.StockDeduct})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.AdjustStock(as(cashier), "L1", domain.StockAdjustRequest{Quantity: 1, Direction: domain.StockDeduct})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.AdjustStock(as(admin), "NOPE", domain.StockAdjustRequest{Quantity: 1, Direction: domain.StockDeduct})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProductCatalogLifecycle(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.CreateProduct(as(admin), domain.ProductCreateRequest{
		Name:         "Jameson 750ml",
		Price:        decimal.NewFromInt(3100),
		Category:     "Whiskey",
		InitialStock: 10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Contains(t, f.notificationTitles(t), "New Product")

	price := decimal.NewFromInt(2900)
	stale := created.Version - 1
	_, err = f.svc.UpdateProduct(as(admin), created.ID, domain.ProductUpdateRequest{Price: &price, ExpectedVersion: &stale})
	assert.ErrorIs(t, err, store.ErrConflict)

	updated, err := f.svc.UpdateProduct(as(admin), created.ID, domain.ProductUpdateRequest{Price: &price, ExpectedVersion: &created.Version})
	require.NoError(t, err)
	assert.Equal(t, "2900", updated.Price.String())
	assert.Equal(t, 10, updated.Stock)

	require.NoError(t, f.svc.DeleteProduct(as(admin), created.ID))
	_, err = f.svc.GetProduct(context.Background(), created.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.CreateProduct(as(cashier), domain.ProductCreateRequest{Name: "x", Category: "y", Price: price})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestOrderLinesKeepSnapshotAfterPriceChange(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 1)})
	require.NoError(t, err)

	price := decimal.NewFromInt(300)
	_, err = f.svc.UpdateProduct(as(admin), "L3", domain.ProductUpdateRequest{Price: &price})
	require.NoError(t, err)

	paid, err := f.svc.Settle(as(cashier), order.ID, domain.PaymentCash)
	require.NoError(t, err)
	assert.Equal(t, "230", paid.Items[0].UnitPrice.String())
	assert.Equal(t, order.Total.String(), paid.Total.String())
}

func TestCartSubmitAndCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := as(cashier)

	_, err := f.svc.CartAdd(ctx, "L3")
	require.NoError(t, err)
	_, err = f.svc.CartAdd(ctx, "l3")
	require.NoError(t, err)
	view, err := f.svc.CartAdd(ctx, "M1")
	require.NoError(t, err)
	require.Len(t, view.Lines, 2)
	assert.Equal(t, "696", view.Total.String())

	view, err = f.svc.CartChangeQuantity(ctx, "L3", -5)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Lines[0].Quantity)

	order, err := f.svc.SubmitCart(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, order.Status)
	view, err = f.svc.CartView(ctx)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 2)

	other, err := f.svc.CartView(as(waiter))
	require.NoError(t, err)
	assert.Empty(t, other.Lines)

	result, err := f.svc.CheckoutCart(ctx, domain.PaymentCash, "", decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	assert.Nil(t, result.Intent)
	assert.Equal(t, 449, f.stock(t, "L3"))

	view, err = f.svc.CartView(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)

	_, err = f.svc.SubmitCart(ctx)
	assert.ErrorIs(t, err, store.ErrInvalidOrder)
}

func TestCartUsesCategoryTaxOverride(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Settings.CategoryTaxRates = map[string]decimal.Decimal{"Mixers": decimal.NewFromInt(8)}
	})

	view, err := f.svc.CartAdd(as(waiter), "M1")
	require.NoError(t, err)
	assert.Equal(t, "0.08", view.Lines[0].TaxRate.String())
	assert.Equal(t, "151.2", view.Total.String())
}

func TestReports(t *testing.T) {
	f := newFixture(t)

	john, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 2)})
	require.NoError(t, err)
	_, err = f.svc.Settle(as(cashier), john.ID, domain.PaymentCash)
	require.NoError(t, err)

	open, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "M1", 1)})
	require.NoError(t, err)

	voided, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L1", 1)})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(as(cashier), voided.ID)
	require.NoError(t, err)
	_, err = f.svc.Void(as(cashier), voided.ID)
	require.NoError(t, err)

	_, err = f.svc.RecordDirectSale(as(cashier), domain.DirectSaleRequest{
		Lines:         []domain.OrderLine{f.line(t, "L2", 1)},
		PaymentMethod: domain.PaymentCard,
	})
	require.NoError(t, err)

	sales, err := f.svc.SalesByStaff(as(admin))
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "Main Cashier", sales[0].StaffName)
	assert.Equal(t, "1682", sales[0].Total.String())
	assert.Equal(t, "Waiter John", sales[1].StaffName)
	assert.Equal(t, "533.6", sales[1].Total.String())

	methods, err := f.svc.RevenueByPaymentMethod(as(admin))
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, domain.PaymentCard, methods[0].Method)
	assert.Equal(t, domain.PaymentCash, methods[1].Method)
	assert.Equal(t, 1, methods[1].Orders)

	stats, err := f.svc.StaffStats(as(waiter), waiter.StaffID)
	require.NoError(t, err)
	assert.Equal(t, "533.6", stats.Settled.String())
	assert.Equal(t, open.Total.String(), stats.Unsettled.String())
	assert.Equal(t, stats.Settled.Add(stats.Unsettled).String(), stats.Total.String())

	_, err = f.svc.StaffStats(as(waiter), waiter2.StaffID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.SalesByStaff(as(cashier))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMobileDirectSaleKeepsLinesAddedDuringPush(t *testing.T) {
	f := newFixture(t)
	ctx := as(cashier)
	_, err := f.svc.CartAdd(ctx, "L3")
	require.NoError(t, err)

	result, err := f.svc.CheckoutCart(ctx, domain.PaymentMpesa, "0712345678", decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, result.Intent)

	_, err = f.svc.CartAdd(ctx, "M1")
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(context.Background(), result.Intent.Handle, true, "paid")
	require.NoError(t, err)
	assert.Equal(t, 449, f.stock(t, "L3"))
	assert.Equal(t, 80, f.stock(t, "M1"))

	view, err := f.svc.CartView(ctx)
	require.NoError(t, err)
	require.Len(t, view.Lines, 2)
	assert.Equal(t, "L3", view.Lines[0].ProductID)
	assert.Equal(t, "M1", view.Lines[1].ProductID)
}

func TestMobileDirectSaleCommitsOnceOnConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := as(cashier)
	_, err := f.svc.CartAdd(ctx, "L3")
	require.NoError(t, err)

	result, err := f.svc.CheckoutCart(ctx, domain.PaymentMpesa, "0712345678", decimal.Zero)
	require.NoError(t, err)
	require.NotNil(t, result.Intent)
	intent := result.Intent
	assert.Equal(t, domain.PaymentAwaiting, intent.Status)
	assert.Equal(t, "254712345678", intent.Phone)
	assert.Equal(t, 450, f.stock(t, "L3"))
	view, err := f.svc.CartView(ctx)
	require.NoError(t, err)
	assert.Len(t, view.Lines, 1)

	confirmed, err := f.svc.ConfirmPayment(context.Background(), intent.Handle, true, "paid")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, confirmed.Status)
	assert.Equal(t, 449, f.stock(t, "L3"))

	sale, err := f.svc.GetOrder(context.Background(), intent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMpesa, sale.PaymentMethod)
	assert.Equal(t, cashier.StaffID, sale.StaffID)
	view, err = f.svc.CartView(ctx)
	require.NoError(t, err)
	assert.Empty(t, view.Lines)

	again, err := f.svc.ConfirmPayment(context.Background(), intent.Handle, true, "paid")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, again.Status)
	assert.Equal(t, 449, f.stock(t, "L3"))
}

func TestMobileSettlementFailureLeavesOrder(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 1)})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(as(cashier), order.ID)
	require.NoError(t, err)

	intent, err := f.svc.InitiateMobileSettlement(as(cashier), order.ID, "712345678")
	require.NoError(t, err)
	assert.Equal(t, order.Total.String(), intent.Amount.String())

	failed, err := f.svc.ConfirmPayment(context.Background(), intent.Handle, false, "Request cancelled by user")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, failed.Status)

	current, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDispatched, current.Status)

	intent, err = f.svc.InitiateMobileSettlement(as(cashier), order.ID, "712345678")
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(context.Background(), intent.Handle, true, "paid")
	require.NoError(t, err)
	current, err = f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, current.Status)
	assert.Equal(t, domain.PaymentMpesa, current.PaymentMethod)
	assert.Equal(t, 449, f.stock(t, "L3"))
}

func TestDeclinedPushCommitsNothing(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Gateway = payment.StaticGateway{Decline: true, Message: "Insufficient balance"}
	})
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 1)})
	require.NoError(t, err)

	_, err = f.svc.InitiateMobileSettlement(as(cashier), order.ID, "0712345678")
	require.ErrorIs(t, err, domain.ErrPaymentFailed)

	current, err := f.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, current.Status)
	assert.Equal(t, 450, f.stock(t, "L3"))
}

func TestMobileSettlementRejectsClosedOrder(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 1)})
	require.NoError(t, err)
	_, err = f.svc.Settle(as(cashier), order.ID, domain.PaymentCash)
	require.NoError(t, err)

	_, err = f.svc.InitiateMobileSettlement(as(cashier), order.ID, "0712345678")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.InitiateMobileSettlement(as(cashier), "ORD-missing", "0712345678")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStalePaymentBecomesUnconfirmedAndCanBeReconciled(t *testing.T) {
	f := newFixture(t)

	intent, err := f.svc.InitiateMobileDirectSale(as(cashier), domain.DirectSaleRequest{
		Lines:         []domain.OrderLine{f.line(t, "L4", 2)},
		PaymentMethod: domain.PaymentMpesa,
	})
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	n, err := f.svc.ExpireStalePayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.now = f.now.Add(2 * time.Minute)
	n, err = f.svc.ExpireStalePayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, f.notificationTitles(t), "Payment unconfirmed")

	stored, err := f.svc.GetPaymentIntent(as(cashier), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentUnconfirmed, stored.Status)
	assert.Equal(t, 320, f.stock(t, "L4"))

	_, err = f.svc.ReconcilePayment(as(cashier), intent.ID, domain.ReconcileRequest{Confirmed: true})
	assert.ErrorIs(t, err, ErrForbidden)

	reconciled, err := f.svc.ReconcilePayment(as(admin), intent.ID, domain.ReconcileRequest{Confirmed: true, Note: "on statement"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmed, reconciled.Status)
	assert.Equal(t, 318, f.stock(t, "L4"))

	_, err = f.svc.ReconcilePayment(as(admin), intent.ID, domain.ReconcileRequest{Confirmed: true})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 318, f.stock(t, "L4"))
}

func TestStaffAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.Error(t, f.svc.BootstrapAdmin(ctx, "1234"))
	require.NoError(t, f.svc.BootstrapAdmin(ctx, "739154"))
	require.NoError(t, f.svc.BootstrapAdmin(ctx, "739154"))

	who, err := f.svc.Authenticate(ctx, "739154")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, who.Role)

	who, err = f.svc.Authenticate(ctx, "1111")
	require.NoError(t, err)
	assert.Equal(t, "Waiter John", who.Name)

	_, err = f.svc.Authenticate(ctx, "9999")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	created, err := f.svc.CreateStaff(as(admin), domain.StaffCreateRequest{Name: "Night Cashier", Role: domain.RoleCashier, PIN: "4827"})
	require.NoError(t, err)
	assert.True(t, created.Active)

	_, err = f.svc.CreateStaff(as(admin), domain.StaffCreateRequest{Name: "Copycat", Role: domain.RoleWaiter, PIN: "4827"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.CreateStaff(as(admin), domain.StaffCreateRequest{Name: "Lazy", Role: domain.RoleWaiter, PIN: "5555"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.CreateStaff(as(admin), domain.StaffCreateRequest{Name: "Boss", Role: domain.RoleSystem, PIN: "6071"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.CreateStaff(as(cashier), domain.StaffCreateRequest{Name: "Sneaky", Role: domain.RoleAdmin, PIN: "6071"})
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.svc.ChangePIN(as(admin), created.ID, "5082"))
	_, err = f.svc.Authenticate(ctx, "4827")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	who, err = f.svc.Authenticate(ctx, "5082")
	require.NoError(t, err)
	assert.Equal(t, created.ID, who.ID)

	require.NoError(t, f.svc.DeactivateStaff(as(admin), created.ID))
	_, err = f.svc.Authenticate(ctx, "5082")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.ErrorIs(t, f.svc.DeactivateStaff(as(admin), admin.StaffID), ErrInvalidInput)
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 1)})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(as(cashier), order.ID)
	require.NoError(t, err)

	entries, err := f.svc.ListAudit(as(admin), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "DISPATCH_ORDER", entries[0].Action)
	assert.Equal(t, "Main Cashier", entries[0].ActorName)
	assert.Equal(t, "CREATE_ORDER", entries[1].Action)
	assert.Equal(t, "Waiter John", entries[1].ActorName)

	_, err = f.svc.ListAudit(as(waiter), 10)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCommittedChangesArePublished(t *testing.T) {
	f := newFixture(t)
	events, cancel := f.hub.Subscribe(32)
	defer cancel()

	order, err := f.svc.CreateOrder(as(waiter), []domain.OrderLine{f.line(t, "L3", 1)})
	require.NoError(t, err)
	_, err = f.svc.Dispatch(as(cashier), order.ID)
	require.NoError(t, err)
	_, err = f.svc.Void(as(cashier), order.ID)
	require.NoError(t, err)

	var got []feed.EventType
	for len(events) > 0 {
		got = append(got, (<-events).Type)
	}
	assert.Contains(t, got, feed.OrderChanged)
	assert.Contains(t, got, feed.ProductChanged)
	assert.Contains(t, got, feed.OrderRemoved)
}

func TestBootstrapAdminRejectsPINHeldByStaff(t *testing.T) {
	t.Setenv("SEED_WAITER_PIN", "5937")
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.BootstrapAdmin(ctx, "5937")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.repo.GetStaff(ctx, "S-ADMIN")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, f.svc.BootstrapAdmin(ctx, "739154"))
	require.NoError(t, f.svc.BootstrapAdmin(ctx, "739154"))
	who, err := f.svc.Authenticate(ctx, "5937")
	require.NoError(t, err)
	assert.Equal(t, "Waiter John", who.Name)
}
