package store

import (
	"context"
	"errors"
	"time"

	"barpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("concurrent modification")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidOrder      = errors.New("invalid order")
)

type CatalogStore interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// UpdateProduct replaces the descriptive fields of a product. Stock is left
	// alone. A non-negative expectedVersion must match the stored version.
	UpdateProduct(ctx context.Context, product domain.Product, expectedVersion int64) (*domain.Product, error)
	// DeleteProduct fails with ErrConflict while an active order or an
	// unsettled payment intent still references the product.
	DeleteProduct(ctx context.Context, id string) error
	// ApplyStock applies every change or none. Under StockPolicyReject a change
	// leaving any product below zero fails with ErrInsufficientStock.
	ApplyStock(ctx context.Context, changes []domain.StockChange, policy domain.StockPolicy) ([]domain.Product, error)
}

type OrderStore interface {
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListActiveOrders(ctx context.Context) ([]domain.Order, error)
	ListCompletedOrders(ctx context.Context) ([]domain.Order, error)
	// CommitTransition writes plan.Order only if the stored order still has
	// plan.ExpectedStatus and plan.ExpectedVersion, applying plan.StockChanges
	// in the same atomic unit. A lost race fails with ErrConflict.
	CommitTransition(ctx context.Context, plan domain.TransitionPlan, policy domain.StockPolicy) (*domain.Order, []domain.Product, error)
	// CreateCompletedOrder inserts a PAID order straight into the completed
	// ledger and applies the stock changes atomically.
	CreateCompletedOrder(ctx context.Context, order domain.Order, changes []domain.StockChange, policy domain.StockPolicy) (*domain.Order, []domain.Product, error)
}

type LogStore interface {
	AppendAudit(ctx context.Context, entry domain.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error)
	AppendNotification(ctx context.Context, n domain.Notification) error
	ListNotifications(ctx context.Context) ([]domain.Notification, error)
	MarkNotificationsRead(ctx context.Context) error
}

type StaffStore interface {
	CreateStaff(ctx context.Context, staff domain.Staff) (*domain.Staff, error)
	GetStaff(ctx context.Context, id string) (*domain.Staff, error)
	ListStaff(ctx context.Context) ([]domain.Staff, error)
	UpdateStaff(ctx context.Context, staff domain.Staff) (*domain.Staff, error)
}

type PaymentStore interface {
	CreatePaymentIntent(ctx context.Context, intent domain.PaymentIntent) (*domain.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*domain.PaymentIntent, error)
	GetPaymentIntentByHandle(ctx context.Context, handle string) (*domain.PaymentIntent, error)
	// TransitionPaymentIntent moves an intent from one status to another.
	// It fails with ErrConflict when the stored status is no longer from.
	TransitionPaymentIntent(ctx context.Context, id string, from domain.PaymentStatus, to domain.PaymentStatus, message string) (*domain.PaymentIntent, error)
	ListPaymentIntents(ctx context.Context, status domain.PaymentStatus, createdBefore time.Time) ([]domain.PaymentIntent, error)
}

type Repository interface {
	CatalogStore
	OrderStore
	LogStore
	StaffStore
	PaymentStore
}
