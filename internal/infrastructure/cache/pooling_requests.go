package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
)

// PoolingRequests records tokens whose next pooling cycle must ignore the
// minimum sweep threshold, typically because the treasury ran short for a
// withdrawal.
type PoolingRequests interface {
	Request(ctx context.Context, network entities.Network, tokens ...entities.Token) error
	Pending(ctx context.Context, network entities.Network) ([]entities.Token, error)
	Clear(ctx context.Context, network entities.Network, tokens ...entities.Token) error
}

// RedisPoolingRequests keeps one Redis set per network
type RedisPoolingRequests struct {
	client RedisClient
}

// NewRedisPoolingRequests creates Redis-backed pooling flags
func NewRedisPoolingRequests(client RedisClient) *RedisPoolingRequests {
	return &RedisPoolingRequests{client: client}
}

func poolingKey(network entities.Network) string {
	return fmt.Sprintf("pooling:needed:%s", network)
}

func (p *RedisPoolingRequests) Request(ctx context.Context, network entities.Network, tokens ...entities.Token) error {
	if err := p.client.SAdd(ctx, poolingKey(network), tokenStrings(tokens)...); err != nil {
		return fmt.Errorf("failed to request pooling: %w", err)
	}
	return nil
}

func (p *RedisPoolingRequests) Pending(ctx context.Context, network entities.Network) ([]entities.Token, error) {
	members, err := p.client.SMembers(ctx, poolingKey(network))
	if err != nil {
		return nil, fmt.Errorf("failed to read pooling requests: %w", err)
	}
	tokens := make([]entities.Token, 0, len(members))
	for _, m := range members {
		tokens = append(tokens, entities.Token(m))
	}
	return tokens, nil
}

func (p *RedisPoolingRequests) Clear(ctx context.Context, network entities.Network, tokens ...entities.Token) error {
	if err := p.client.SRem(ctx, poolingKey(network), tokenStrings(tokens)...); err != nil {
		return fmt.Errorf("failed to clear pooling requests: %w", err)
	}
	return nil
}

// MemoryPoolingRequests is an in-process implementation for tests and the
// memory queue driver.
type MemoryPoolingRequests struct {
	mu   sync.Mutex
	sets map[entities.Network]map[entities.Token]struct{}
}

// NewMemoryPoolingRequests creates in-memory pooling flags
func NewMemoryPoolingRequests() *MemoryPoolingRequests {
	return &MemoryPoolingRequests{sets: make(map[entities.Network]map[entities.Token]struct{})}
}

func (p *MemoryPoolingRequests) Request(_ context.Context, network entities.Network, tokens ...entities.Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sets[network]
	if !ok {
		set = make(map[entities.Token]struct{})
		p.sets[network] = set
	}
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return nil
}

func (p *MemoryPoolingRequests) Pending(_ context.Context, network entities.Network) ([]entities.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tokens := make([]entities.Token, 0, len(p.sets[network]))
	for t := range p.sets[network] {
		tokens = append(tokens, t)
	}
	return tokens, nil
}

func (p *MemoryPoolingRequests) Clear(_ context.Context, network entities.Network, tokens ...entities.Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range tokens {
		delete(p.sets[network], t)
	}
	return nil
}

func tokenStrings(tokens []entities.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = string(t)
	}
	return out
}
