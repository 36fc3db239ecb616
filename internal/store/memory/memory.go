package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

type Store struct {
	mu            sync.RWMutex
	products      map[string]domain.Product
	orders        map[string]domain.Order
	audit         []domain.AuditEntry
	notifications []domain.Notification
	staff         map[string]domain.Staff
	intents       map[string]domain.PaymentIntent
}

func New() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		staff:    make(map[string]domain.Staff),
		intents:  make(map[string]domain.PaymentIntent),
	}
}

// NewSeeded returns a store holding the demo catalog and the non-admin floor
// staff. PINs come from SEED_CASHIER_PIN, SEED_WAITER_PIN and SEED_WAITER2_PIN;
// unset variables fall back to dev defaults and a warning is logged. The admin
// account is bootstrapped separately from ADMIN_PIN.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	now := time.Now().UTC()

	for _, p := range []struct {
		id, name, category, unitSize, kind string
		price                              int64
		stock                              int
	}{
		{"L1", "Johnnie Walker Black", "Whiskey", "750ml", "", 4200, 24},
		{"L2", "Gilbeys Gin", "Gin", "750ml", "", 1450, 112},
		{"L3", "Tusker Lager", "Beer", "500ml", "Returnable", 230, 450},
		{"L4", "White Cap", "Beer", "500ml", "Returnable", 240, 320},
		{"L5", "Hennessy VS", "Cognac", "700ml", "", 6800, 12},
		{"M1", "Coca Cola", "Mixers", "1.25L", "", 140, 80},
	} {
		s.products[p.id] = domain.Product{
			ID:        p.id,
			Name:      p.name,
			Price:     decimal.NewFromInt(p.price),
			Category:  p.category,
			Stock:     p.stock,
			UnitSize:  p.unitSize,
			Type:      p.kind,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	defaults := false
	for _, u := range []struct {
		id, name, env, fallback string
		role                    domain.Role
	}{
		{"S-CASHIER", "Main Cashier", "SEED_CASHIER_PIN", "1234", domain.RoleCashier},
		{"S-JOHN", "Waiter John", "SEED_WAITER_PIN", "1111", domain.RoleWaiter},
		{"S-MERCY", "Waitress Mercy", "SEED_WAITER2_PIN", "2222", domain.RoleWaiter},
	} {
		pin := strings.TrimSpace(os.Getenv(u.env))
		if pin == "" {
			pin = u.fallback
			defaults = true
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed pin", zap.String("staff_id", u.id), zap.Error(err))
		}
		s.staff[u.id] = domain.Staff{
			ID:        u.id,
			Name:      u.name,
			Role:      u.role,
			PINHash:   string(hash),
			Active:    true,
			CreatedAt: now,
		}
	}
	if defaults {
		logger.Warn("memory store seeded with default dev PINs; set SEED_CASHIER_PIN, SEED_WAITER_PIN and SEED_WAITER2_PIN to override")
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	product.Version = 1
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product, expectedVersion int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if expectedVersion >= 0 && existing.Version != expectedVersion {
		return nil, store.ErrConflict
	}
	existing.Name = product.Name
	existing.Price = product.Price
	existing.Category = product.Category
	existing.UnitSize = product.UnitSize
	existing.Type = product.Type
	existing.Version++
	existing.UpdatedAt = time.Now().UTC()
	s.products[existing.ID] = existing
	return &existing, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	for _, o := range s.orders {
		if (o.Status == domain.OrderPending || o.Status == domain.OrderDispatched) && hasProduct(o.Items, id) {
			return store.ErrConflict
		}
	}
	for _, in := range s.intents {
		if (in.Status == domain.PaymentAwaiting || in.Status == domain.PaymentUnconfirmed) && hasProduct(in.Lines, id) {
			return store.ErrConflict
		}
	}
	delete(s.products, id)
	return nil
}

func hasProduct(lines []domain.OrderLine, id string) bool {
	for _, l := range lines {
		if l.ProductID == id {
			return true
		}
	}
	return false
}

func (s *Store) ApplyStock(_ context.Context, changes []domain.StockChange, policy domain.StockPolicy) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyStockLocked(changes, policy)
}

// applyStockLocked validates every change before touching anything so that a
// rejected batch leaves the catalog unchanged. Caller holds s.mu.
func (s *Store) applyStockLocked(changes []domain.StockChange, policy domain.StockPolicy) ([]domain.Product, error) {
	for _, change := range changes {
		p, ok := s.products[change.ProductID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if policy == domain.StockPolicyReject && p.Stock+change.Delta < 0 {
			return nil, store.ErrInsufficientStock
		}
	}

	now := time.Now().UTC()
	touched := make([]domain.Product, 0, len(changes))
	for _, change := range changes {
		p := s.products[change.ProductID]
		p.Stock += change.Delta
		p.Version++
		p.UpdatedAt = now
		s.products[p.ID] = p
		touched = append(touched, p)
	}
	return touched, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, store.ErrInvalidOrder
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return nil, store.ErrConflict
	}
	stored := cloneOrder(order)
	s.orders[order.ID] = stored
	out := cloneOrder(stored)
	return &out, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneOrder(o)
	return &out, nil
}

func (s *Store) ListActiveOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, 16)
	for _, o := range s.orders {
		if o.Status == domain.OrderPending || o.Status == domain.OrderDispatched {
			orders = append(orders, cloneOrder(o))
		}
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return orders, nil
}

func (s *Store) ListCompletedOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, 64)
	for _, o := range s.orders {
		if o.Status == domain.OrderPaid {
			orders = append(orders, cloneOrder(o))
		}
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		return settledOrCreated(b).Compare(settledOrCreated(a))
	})
	return orders, nil
}

func (s *Store) CommitTransition(_ context.Context, plan domain.TransitionPlan, policy domain.StockPolicy) (*domain.Order, []domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[plan.Order.ID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if current.Status != plan.ExpectedStatus || current.Version != plan.ExpectedVersion {
		return nil, nil, store.ErrConflict
	}

	touched, err := s.applyStockLocked(plan.StockChanges, policy)
	if err != nil {
		return nil, nil, err
	}

	next := cloneOrder(plan.Order)
	s.orders[next.ID] = next
	out := cloneOrder(next)
	return &out, touched, nil
}

func (s *Store) CreateCompletedOrder(_ context.Context, order domain.Order, changes []domain.StockChange, policy domain.StockPolicy) (*domain.Order, []domain.Product, error) {
	if len(order.Items) == 0 || order.Status != domain.OrderPaid {
		return nil, nil, store.ErrInvalidOrder
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return nil, nil, store.ErrConflict
	}
	touched, err := s.applyStockLocked(changes, policy)
	if err != nil {
		return nil, nil, err
	}

	stored := cloneOrder(order)
	s.orders[order.ID] = stored
	out := cloneOrder(stored)
	return &out, touched, nil
}

func (s *Store) AppendAudit(_ context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("AUD")
	}
	s.audit = append([]domain.AuditEntry{entry}, s.audit...)
	if len(s.audit) > domain.AuditRetention {
		s.audit = s.audit[:domain.AuditRetention]
	}
	return nil
}

func (s *Store) ListAudit(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.audit) {
		limit = len(s.audit)
	}
	return slices.Clone(s.audit[:limit]), nil
}

func (s *Store) AppendNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = xid.New("NTF")
	}
	s.notifications = append([]domain.Notification{n}, s.notifications...)
	if len(s.notifications) > domain.NotificationRetention {
		s.notifications = s.notifications[:domain.NotificationRetention]
	}
	return nil
}

func (s *Store) ListNotifications(_ context.Context) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notifications), nil
}

func (s *Store) MarkNotificationsRead(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		s.notifications[i].Read = true
	}
	return nil
}

func (s *Store) CreateStaff(_ context.Context, staff domain.Staff) (*domain.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.staff[staff.ID]; exists {
		return nil, store.ErrConflict
	}
	s.staff[staff.ID] = staff
	return &staff, nil
}

func (s *Store) GetStaff(_ context.Context, id string) (*domain.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.staff[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) ListStaff(_ context.Context) ([]domain.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Staff, 0, len(s.staff))
	for _, st := range s.staff {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b domain.Staff) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Store) UpdateStaff(_ context.Context, staff domain.Staff) (*domain.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.staff[staff.ID]; !ok {
		return nil, store.ErrNotFound
	}
	s.staff[staff.ID] = staff
	return &staff, nil
}

func (s *Store) CreatePaymentIntent(_ context.Context, intent domain.PaymentIntent) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.intents[intent.ID]; exists {
		return nil, store.ErrConflict
	}
	for _, other := range s.intents {
		if other.Handle == intent.Handle {
			return nil, store.ErrConflict
		}
	}
	stored := cloneIntent(intent)
	s.intents[intent.ID] = stored
	out := cloneIntent(stored)
	return &out, nil
}

func (s *Store) GetPaymentIntent(_ context.Context, id string) (*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneIntent(intent)
	return &out, nil
}

func (s *Store) GetPaymentIntentByHandle(_ context.Context, handle string) (*domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, intent := range s.intents {
		if intent.Handle == handle {
			out := cloneIntent(intent)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) TransitionPaymentIntent(_ context.Context, id string, from domain.PaymentStatus, to domain.PaymentStatus, message string) (*domain.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	intent, ok := s.intents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if intent.Status != from {
		return nil, store.ErrConflict
	}
	intent.Status = to
	if message != "" {
		intent.Message = message
	}
	intent.UpdatedAt = time.Now().UTC()
	s.intents[id] = intent
	out := cloneIntent(intent)
	return &out, nil
}

func (s *Store) ListPaymentIntents(_ context.Context, status domain.PaymentStatus, createdBefore time.Time) ([]domain.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PaymentIntent, 0, 8)
	for _, intent := range s.intents {
		if intent.Status != status {
			continue
		}
		if !createdBefore.IsZero() && !intent.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, cloneIntent(intent))
	}
	slices.SortFunc(out, func(a, b domain.PaymentIntent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func settledOrCreated(o domain.Order) time.Time {
	if o.SettledAt != nil {
		return *o.SettledAt
	}
	return o.CreatedAt
}

func cloneOrder(o domain.Order) domain.Order {
	out := o
	out.Items = slices.Clone(o.Items)
	if o.SettledAt != nil {
		at := *o.SettledAt
		out.SettledAt = &at
	}
	return out
}

func cloneIntent(i domain.PaymentIntent) domain.PaymentIntent {
	out := i
	out.Lines = slices.Clone(i.Lines)
	return out
}
