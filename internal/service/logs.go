package service

import (
	"context"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/feed"
)

func (s *Service) ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > domain.AuditRetention {
		limit = domain.AuditRetention
	}
	return s.repo.ListAudit(ctx, limit)
}

func (s *Service) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListNotifications(ctx)
}

func (s *Service) MarkNotificationsRead(ctx context.Context) error {
	if _, err := requireActor(ctx); err != nil {
		return err
	}
	if err := s.repo.MarkNotificationsRead(ctx); err != nil {
		return err
	}
	s.publish(ctx, feed.NotificationsRead, "")
	return nil
}
