package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"barpos/backend/internal/cache"
	"barpos/backend/internal/cart"
	"barpos/backend/internal/domain"
	"barpos/backend/internal/feed"
	"barpos/backend/internal/metrics"
	"barpos/backend/internal/payment"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Settings          domain.Settings
	LowStockThreshold int
	PaymentTimeout    time.Duration
	ReportCacheTTL    time.Duration
	PINCost           int
	Gateway           payment.Gateway
	Feed              feed.Publisher
	Cache             cache.ReportCache
	Metrics           *metrics.Metrics
	Logger            *zap.Logger
	Now               func() time.Time
}

type Service struct {
	repo              store.Repository
	carts             *cart.Registry
	settings          domain.Settings
	lowStockThreshold int
	paymentTimeout    time.Duration
	reportTTL         time.Duration
	pinCost           int
	gateway           payment.Gateway
	feed              feed.Publisher
	cache             cache.ReportCache
	metrics           *metrics.Metrics
	logger            *zap.Logger
	now               func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:              repo,
		carts:             cart.NewRegistry(),
		settings:          opts.Settings,
		lowStockThreshold: opts.LowStockThreshold,
		paymentTimeout:    opts.PaymentTimeout,
		reportTTL:         opts.ReportCacheTTL,
		pinCost:           opts.PINCost,
		gateway:           opts.Gateway,
		feed:              opts.Feed,
		cache:             opts.Cache,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		now:               opts.Now,
	}
	if s.settings.StockPolicy == "" {
		s.settings.StockPolicy = domain.StockPolicyAllow
	}
	if s.settings.Currency == "" {
		s.settings.Currency = "KES"
	}
	if s.paymentTimeout <= 0 {
		s.paymentTimeout = 2 * time.Minute
	}
	if s.reportTTL <= 0 {
		s.reportTTL = 30 * time.Second
	}
	if s.pinCost == 0 {
		s.pinCost = bcrypt.DefaultCost
	}
	if s.gateway == nil {
		s.gateway = payment.StaticGateway{}
	}
	if s.feed == nil {
		s.feed = feed.NewHub(opts.Logger)
	}
	if s.cache == nil {
		s.cache = cache.NoopReportCache{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *Service) Settings() domain.Settings {
	return s.settings
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: no authenticated staff", ErrForbidden)
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return actor, err
	}
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSystem {
		return actor, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return actor, nil
}

func requireSettler(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return actor, err
	}
	if !actor.Role.CanSettle() {
		return actor, fmt.Errorf("%w: cashier or admin role required", ErrForbidden)
	}
	return actor, nil
}

// logAudit records who did what. A failed write is logged and swallowed so
// it never undoes the business operation it describes.
func (s *Service) logAudit(ctx context.Context, action string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.SystemActor
	}

	if err := s.repo.AppendAudit(ctx, domain.AuditEntry{
		ID:        xid.New("AUD"),
		ActorID:   actor.StaffID,
		ActorName: actor.Name,
		Action:    action,
		Detail:    detail,
		CreatedAt: s.now(),
	}); err != nil {
		s.logger.Warn("audit write failed",
			zap.String("action", action),
			zap.String("actor_id", actor.StaffID),
			zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, category domain.NotificationCategory, title string, message string) {
	n := domain.Notification{
		ID:        xid.New("NTF"),
		Title:     title,
		Message:   message,
		Category:  category,
		CreatedAt: s.now(),
	}
	if err := s.repo.AppendNotification(ctx, n); err != nil {
		s.logger.Warn("notification write failed", zap.String("title", title), zap.Error(err))
		return
	}
	s.publish(ctx, feed.NotificationCreated, n.ID)
}

func (s *Service) publish(ctx context.Context, kind feed.EventType, entityID string) {
	s.feed.Publish(ctx, feed.Event{Type: kind, EntityID: entityID, At: s.now()})
}

// afterStockChange raises alerts for products that went negative or crossed
// the low-stock threshold, and tells terminals to refresh them.
func (s *Service) afterStockChange(ctx context.Context, changes []domain.StockChange, touched []domain.Product) {
	deltas := make(map[string]int, len(changes))
	for _, c := range changes {
		deltas[c.ProductID] += c.Delta
	}

	for _, p := range touched {
		before := p.Stock - deltas[p.ID]
		switch {
		case p.Stock < 0:
			s.metrics.NegativeStock()
			s.logger.Warn("stock below zero", zap.String("product_id", p.ID), zap.Int("stock", p.Stock))
			s.notify(ctx, domain.NotifyAlert, "Negative stock",
				fmt.Sprintf("%s is at %d units. Recount and restock.", p.Name, p.Stock))
		case s.lowStockThreshold > 0 && p.Stock <= s.lowStockThreshold && before > s.lowStockThreshold:
			s.notify(ctx, domain.NotifyAlert, "Low stock",
				fmt.Sprintf("%s is down to %d units.", p.Name, p.Stock))
		}
		s.publish(ctx, feed.ProductChanged, p.ID)
	}
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, reportKeySalesByStaff, reportKeyPaymentMethods); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.Error(err))
	}
}
