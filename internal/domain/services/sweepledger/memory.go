package sweepledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
)

// MemoryRepository is an in-process WalletBalanceRepository with the same
// conditional semantics as the SQL implementation
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*entities.WalletBalance
	now  func() time.Time
}

// NewMemoryRepository creates an empty in-memory ledger store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*entities.WalletBalance), now: time.Now}
}

func memoryKey(address string, token entities.Token) string {
	return address + "/" + string(token)
}

func (m *MemoryRepository) TouchOrCreate(_ context.Context, address string, network entities.Network, token entities.Token, action entities.SweepAction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(address, token)
	if _, ok := m.rows[key]; ok {
		return false, nil
	}
	now := m.now()
	m.rows[key] = &entities.WalletBalance{
		Address: address, Network: network, Token: token,
		ActionRequired: action, SendSequence: -1, CreatedAt: now, UpdatedAt: now,
	}
	return true, nil
}

func (m *MemoryRepository) Get(_ context.Context, address string, token entities.Token) (*entities.WalletBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[memoryKey(address, token)]
	if !ok {
		return nil, fmt.Errorf("wallet balance not found: %w", apperrors.ErrNotFound)
	}
	c := *row
	return &c, nil
}

func (m *MemoryRepository) ListByAddress(_ context.Context, address string) ([]*entities.WalletBalance, error) {
	return m.list(func(r *entities.WalletBalance) bool { return r.Address == address }, 0), nil
}

func (m *MemoryRepository) ListIdle(_ context.Context, network entities.Network, limit int) ([]*entities.WalletBalance, error) {
	return m.list(func(r *entities.WalletBalance) bool { return r.Network == network && !r.Processing }, limit), nil
}

func (m *MemoryRepository) TryAcquire(_ context.Context, address string, token entities.Token, action entities.SweepAction, owner uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[memoryKey(address, token)]
	if !ok || row.Processing || !row.ActionRequired.CanAdvanceTo(action) {
		return false, nil
	}
	row.Processing = true
	row.ActionRequired = action
	row.OwnerMessageID = &owner
	row.SendSequence = -1
	row.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryRepository) Advance(_ context.Context, address string, token entities.Token, owner uuid.UUID, action entities.SweepAction, next uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[memoryKey(address, token)]
	if !ok || !row.OwnedBy(owner) || !row.ActionRequired.CanAdvanceTo(action) {
		return false, nil
	}
	row.ActionRequired = action
	row.OwnerMessageID = &next
	row.SendSequence = -1
	row.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryRepository) Admit(_ context.Context, address string, token entities.Token, action entities.SweepAction, owner uuid.UUID, seq int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[memoryKey(address, token)]
	if !ok || !row.OwnedBy(owner) || row.ActionRequired != action || row.SendSequence >= seq {
		return false, nil
	}
	row.SendSequence = seq
	row.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryRepository) Touch(_ context.Context, address string, token entities.Token, owner uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[memoryKey(address, token)]
	if !ok || !row.OwnedBy(owner) {
		return false, nil
	}
	row.UpdatedAt = m.now()
	return true, nil
}

func (m *MemoryRepository) Release(_ context.Context, address string, token entities.Token, owner uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[memoryKey(address, token)]
	if !ok || !row.OwnedBy(owner) {
		return false, nil
	}
	release(row, m.now())
	return true, nil
}

func (m *MemoryRepository) ReleaseStale(_ context.Context, cutoff time.Time, limit int) ([]*entities.WalletBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stale := m.listLocked(func(r *entities.WalletBalance) bool { return r.Processing && r.UpdatedAt.Before(cutoff) }, limit)
	now := m.now()
	for _, c := range stale {
		release(m.rows[c.Key()], now)
		release(c, now)
	}
	return stale, nil
}

func (m *MemoryRepository) Delete(_ context.Context, address string, token entities.Token, owner uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey(address, token)
	row, ok := m.rows[key]
	if !ok {
		return nil
	}
	if (owner == uuid.Nil && !row.Processing) || row.OwnedBy(owner) {
		delete(m.rows, key)
	}
	return nil
}

func release(row *entities.WalletBalance, now time.Time) {
	row.Processing = false
	row.OwnerMessageID = nil
	row.SendSequence = -1
	row.UpdatedAt = now
}

func (m *MemoryRepository) list(match func(*entities.WalletBalance) bool, limit int) []*entities.WalletBalance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(match, limit)
}

func (m *MemoryRepository) listLocked(match func(*entities.WalletBalance) bool, limit int) []*entities.WalletBalance {
	var out []*entities.WalletBalance
	for _, row := range m.rows {
		if match(row) {
			c := *row
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
