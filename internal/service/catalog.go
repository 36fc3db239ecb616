package service

import (
	"context"
	"fmt"
	"strings"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/feed"
	"barpos/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, strings.ToUpper(strings.TrimSpace(id)))
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	id := strings.ToUpper(strings.TrimSpace(req.ID))
	if id == "" {
		id = strings.ToUpper(xid.New("P"))
	}
	name := strings.TrimSpace(req.Name)
	category := strings.TrimSpace(req.Category)
	if name == "" || category == "" {
		return domain.Product{}, fmt.Errorf("%w: name and category are required", ErrInvalidInput)
	}
	if !req.Price.IsPositive() {
		return domain.Product{}, fmt.Errorf("%w: price must be greater than zero", ErrInvalidInput)
	}
	if req.InitialStock < 0 {
		return domain.Product{}, fmt.Errorf("%w: initial stock cannot be negative", ErrInvalidInput)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:       id,
		Name:     name,
		Price:    req.Price.Round(2),
		Category: category,
		Stock:    req.InitialStock,
		UnitSize: strings.TrimSpace(req.UnitSize),
		Type:     strings.TrimSpace(req.Type),
	})
	if err != nil {
		return domain.Product{}, fmt.Errorf("create product %s: %w", id, err)
	}

	s.notify(ctx, domain.NotifyStockAdd, "New Product",
		fmt.Sprintf("%s added %s to inventory.", actor.Name, created.Name))
	s.logAudit(ctx, "ADD_PRODUCT", fmt.Sprintf("Added %s (%s) at %s %s, stock %d",
		created.Name, created.ID, s.settings.Currency, created.Price.StringFixed(2), created.Stock))
	s.publish(ctx, feed.ProductChanged, created.ID)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	changes := make([]string, 0, 4)
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		updated.Name = name
		changes = append(changes, "name="+name)
	}
	if req.Category != nil {
		category := strings.TrimSpace(*req.Category)
		if category == "" {
			return domain.Product{}, fmt.Errorf("%w: category cannot be empty", ErrInvalidInput)
		}
		updated.Category = category
		changes = append(changes, "category="+category)
	}
	if req.Price != nil {
		if !req.Price.IsPositive() {
			return domain.Product{}, fmt.Errorf("%w: price must be greater than zero", ErrInvalidInput)
		}
		updated.Price = req.Price.Round(2)
		changes = append(changes, "price="+updated.Price.StringFixed(2))
	}
	if req.UnitSize != nil {
		updated.UnitSize = strings.TrimSpace(*req.UnitSize)
		changes = append(changes, "unit_size="+updated.UnitSize)
	}
	if req.Type != nil {
		updated.Type = strings.TrimSpace(*req.Type)
		changes = append(changes, "type="+updated.Type)
	}

	expected := int64(-1)
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}
	saved, err := s.repo.UpdateProduct(ctx, updated, expected)
	if err != nil {
		return domain.Product{}, fmt.Errorf("update product %s: %w", updated.ID, err)
	}

	s.logAudit(ctx, "UPDATE_PRODUCT", fmt.Sprintf("Updated %s (%s): %s", saved.Name, saved.ID, strings.Join(changes, ", ")))
	s.publish(ctx, feed.ProductChanged, saved.ID)
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}

	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, existing.ID); err != nil {
		return fmt.Errorf("delete product %s: %w", existing.ID, err)
	}

	s.logAudit(ctx, "DELETE_PRODUCT", fmt.Sprintf("Deleted %s (%s)", existing.Name, existing.ID))
	s.publish(ctx, feed.ProductDeleted, existing.ID)
	return nil
}

// AdjustStock is a manual correction by an admin. Stock moves caused by
// orders go through the order lifecycle instead.
func (s *Service) AdjustStock(ctx context.Context, id string, req domain.StockAdjustRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if req.Quantity < 1 {
		return domain.Product{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput)
	}

	var delta int
	switch req.Direction {
	case domain.StockDeduct:
		delta = -req.Quantity
	case domain.StockRestore:
		delta = req.Quantity
	default:
		return domain.Product{}, fmt.Errorf("%w: direction must be DEDUCT or RESTORE", ErrInvalidInput)
	}

	productID := strings.ToUpper(strings.TrimSpace(id))
	changes := []domain.StockChange{{ProductID: productID, Delta: delta}}
	touched, err := s.repo.ApplyStock(ctx, changes, s.settings.StockPolicy)
	if err != nil {
		return domain.Product{}, fmt.Errorf("adjust stock %s: %w", productID, err)
	}
	product := touched[0]

	verb := "added"
	if delta < 0 {
		verb = "removed"
	}
	s.notify(ctx, domain.NotifyStockAdd, "Stock Updated",
		fmt.Sprintf("%s %s %d units of %s.", actor.Name, verb, req.Quantity, product.Name))
	s.logAudit(ctx, "MANUAL_STOCK_UPDATE", fmt.Sprintf("%s %+d on %s (%s), now %d",
		req.Direction, delta, product.Name, product.ID, product.Stock))
	s.afterStockChange(ctx, changes, touched)
	return product, nil
}
