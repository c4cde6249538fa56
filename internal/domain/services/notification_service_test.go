package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// MockEventPublisher is a mock implementation of EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishEvent(ctx context.Context, event *entities.SettlementEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func TestNotify_FansOutDespiteFailures(t *testing.T) {
	failing := new(MockEventPublisher)
	healthy := new(MockEventPublisher)
	event := entities.NewSettlementEvent(entities.EventDepositCredited, uuid.New(), entities.NetworkTron, entities.TokenTRX)

	failing.On("PublishEvent", mock.Anything, event).Return(errors.New("sns throttled"))
	healthy.On("PublishEvent", mock.Anything, event).Return(nil)

	NewNotificationService(logger.NewNop(), failing, healthy).Notify(context.Background(), event)

	failing.AssertExpectations(t)
	healthy.AssertExpectations(t)
}

func TestNotify_IgnoresNilEvent(t *testing.T) {
	publisher := new(MockEventPublisher)

	NewNotificationService(logger.NewNop(), publisher).Notify(context.Background(), nil)

	publisher.AssertNotCalled(t, "PublishEvent", mock.Anything, mock.Anything)
}
