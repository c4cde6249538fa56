package chains

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
	"github.com/baymax-09/roobet-casino-sub000/pkg/retry"
)

// KeySource resolves the private key of a message signer. Keys are derived
// on demand and must not be cached by callers.
type KeySource interface {
	PrivateKey(ctx context.Context, network entities.Network, signer entities.Signer) (*ecdsa.PrivateKey, error)
}

// Guard runs RPC calls of one network behind a circuit breaker. Reads are
// retried, writes are not.
type Guard struct {
	network entities.Network
	cb      *gobreaker.CircuitBreaker
	retrier *retry.Retrier
}

// NewGuard creates a guard with the standard breaker settings
func NewGuard(network entities.Network, policy retry.Policy, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        string(network) + "-rpc",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// Business rejections (bad nonce, reverted call) do not mean the
		// node is unhealthy.
		IsSuccessful: func(err error) bool {
			return err == nil || apperrors.KindOf(err) != apperrors.KindTransient
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Chain circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Guard{
		network: network,
		cb:      gobreaker.NewCircuitBreaker(settings),
		retrier: retry.NewRetrier(policy, logger),
	}
}

// Read executes a retried, classified read
func (g *Guard) Read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return g.retrier.Do(ctx, func(ctx context.Context) error {
		return g.Write(ctx, op, fn)
	})
}

// Write executes fn once behind the breaker and classifies its error
func (g *Guard) Write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.classify(op, fn(ctx))
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewChainError(apperrors.KindTransient, string(g.network), op, err)
	}
	return g.classify(op, err)
}

func (g *Guard) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Classify(string(g.network), op, err)
}

// State returns the breaker state
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}
