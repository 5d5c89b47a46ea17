package feed

import (
	"context"

	"github.com/betterme/betterme/internal/models"
)

// Notifications returns the user's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, onStale func([]models.Notification)) ([]models.Notification, error) {
	if _, err := s.identity.RequireUser(); err != nil {
		return nil, err
	}
	return s.notifications.Load(ctx, onStale)
}

// UnreadCount counts unread notifications.
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	list, err := s.Notifications(ctx, nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range list {
		if !list[i].Read {
			n++
		}
	}
	return n, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	if _, err := s.identity.RequireUser(); err != nil {
		return err
	}
	_, err := s.notifications.Mutate(ctx,
		func(list []models.Notification) []models.Notification {
			for i := range list {
				if list[i].ID == id {
					list[i].Read = true
				}
			}
			return list
		},
		func(ctx context.Context) error {
			return s.backend.MarkNotificationRead(ctx, id)
		},
	)
	return err
}

func (s *Service) MarkAllRead(ctx context.Context) error {
	uid, err := s.identity.RequireUser()
	if err != nil {
		return err
	}
	_, err = s.notifications.Mutate(ctx,
		func(list []models.Notification) []models.Notification {
			for i := range list {
				list[i].Read = true
			}
			return list
		},
		func(ctx context.Context) error {
			return s.backend.MarkAllNotificationsRead(ctx, uid)
		},
	)
	return err
}
