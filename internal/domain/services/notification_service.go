package services

import (
	"context"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// EventPublisher delivers settlement events to an external channel
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *entities.SettlementEvent) error
}

// NotificationService is the best-effort fan-out of settlement events.
// Delivery failures are logged and never surface to callers; settlement
// state is already committed when an event is produced.
type NotificationService struct {
	publishers []EventPublisher
	logger     *logger.Logger
}

// NewNotificationService creates a notification service. With no publishers
// events are only logged.
func NewNotificationService(log *logger.Logger, publishers ...EventPublisher) *NotificationService {
	return &NotificationService{publishers: publishers, logger: log}
}

// Notify publishes event to every configured channel
func (s *NotificationService) Notify(ctx context.Context, event *entities.SettlementEvent) {
	if event == nil {
		return
	}

	s.logger.Info("Settlement event",
		"type", event.Type,
		"user_id", event.UserID,
		"network", event.Network,
		"token", event.Token,
		"reference_id", event.ReferenceID)

	for _, p := range s.publishers {
		if err := p.PublishEvent(ctx, event); err != nil {
			s.logger.Warn("Failed to publish settlement event",
				"type", event.Type,
				"reference_id", event.ReferenceID,
				"error", err)
		}
	}
}
