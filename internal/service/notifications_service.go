package service

import (
	"context"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/entity"
	"github.com/boddenberg/atas-admin-go/internal/port"

	"go.uber.org/zap"
)

// NotificationService serves the caller's inbox.
type NotificationService struct {
	repo    *entity.Repository[domain.Notification]
	store   *entity.Store[domain.Notification]
	session port.SessionResolver
	logger  *zap.Logger
}

// NewNotificationService creates a notification service over the binding.
func NewNotificationService(b *Binding[domain.Notification], session port.SessionResolver, logger *zap.Logger) *NotificationService {
	return &NotificationService{repo: b.Repo, store: b.Store, session: session, logger: logger}
}

// List returns the caller's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, unreadOnly bool) ([]domain.Notification, error) {
	uid, err := s.session.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	eq := map[string]any{"userId": uid}
	if unreadOnly {
		eq["read"] = false
	}
	return s.repo.List(ctx, entity.Filter{Eq: eq})
}

// UnreadCount returns how many of the caller's notifications are unread.
func (s *NotificationService) UnreadCount(ctx context.Context) (int, error) {
	unread, err := s.List(ctx, true)
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}

// MarkRead flags one notification of the caller as read.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (*domain.Notification, error) {
	uid, err := s.session.CurrentUserID(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, &domain.ErrNotFound{Resource: "notification", ID: id}
	}
	if n.UserID != uid {
		return nil, &domain.ErrForbidden{Action: "marcar notificação de outro usuário"}
	}
	if n.Read {
		return n, nil
	}
	return s.store.Update(ctx, id, entity.Patch{"read": true})
}

// MarkAllRead flags every unread notification of the caller, one update per
// row, and returns how many were updated.
func (s *NotificationService) MarkAllRead(ctx context.Context) (int, error) {
	unread, err := s.List(ctx, true)
	if err != nil {
		return 0, err
	}
	for i, n := range unread {
		if _, err := s.store.Update(ctx, n.ID, entity.Patch{"read": true}); err != nil {
			s.logger.Warn("mark all read interrupted", zap.Int("updated", i), zap.Error(err))
			return i, err
		}
	}
	return len(unread), nil
}
