package pooling_scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	"github.com/baymax-09/roobet-casino-sub000/internal/domain/services/pooling"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// MockOrchestrator is a mock implementation of Orchestrator
type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) RunCycle(ctx context.Context, network entities.Network) (*pooling.CycleResult, error) {
	args := m.Called(ctx, network)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pooling.CycleResult), args.Error(1)
}

func (m *MockOrchestrator) Networks() []entities.Network {
	args := m.Called()
	return args.Get(0).([]entities.Network)
}

func TestRunOnce(t *testing.T) {
	orch := new(MockOrchestrator)
	orch.On("Networks").Return([]entities.Network{entities.NetworkEthereum, entities.NetworkTron})
	orch.On("RunCycle", mock.Anything, entities.NetworkEthereum).
		Return(&pooling.CycleResult{Network: entities.NetworkEthereum}, nil)
	orch.On("RunCycle", mock.Anything, entities.NetworkTron).
		Return(nil, errors.New("rpc unavailable"))

	w := NewWorker(orch, "@every 5m", time.Minute, logger.NewNop())
	w.RunOnce()

	orch.AssertNumberOfCalls(t, "RunCycle", 2)
}

func TestRunOnce_CycleHasDeadline(t *testing.T) {
	orch := new(MockOrchestrator)
	orch.On("Networks").Return([]entities.Network{entities.NetworkEthereum})
	orch.On("RunCycle", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), entities.NetworkEthereum).Return(&pooling.CycleResult{}, nil)

	NewWorker(orch, "@every 5m", 0, logger.NewNop()).RunOnce()
	orch.AssertExpectations(t)
}

func TestStart(t *testing.T) {
	orch := new(MockOrchestrator)
	orch.On("Networks").Return([]entities.Network{entities.NetworkEthereum})

	require.Error(t, NewWorker(orch, "not a schedule", time.Minute, logger.NewNop()).Start())

	w := NewWorker(orch, "@every 1h", time.Minute, logger.NewNop())
	require.NoError(t, w.Start())
	w.Stop()
}
