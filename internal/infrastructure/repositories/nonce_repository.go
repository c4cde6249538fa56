package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
)

// NonceRepository allocates per-network derivation indices and destination tags
type NonceRepository struct {
	db *sqlx.DB
}

// NewNonceRepository creates a new nonce repository
func NewNonceRepository(db *sqlx.DB) *NonceRepository {
	return &NonceRepository{db: db}
}

// Allocate atomically increments the network counter and returns the new
// value. The first caller creates the counter at defaultValue; concurrent
// callers serialize on the row lock taken by the upsert.
func (r *NonceRepository) Allocate(ctx context.Context, network entities.Network, defaultValue int64) (int64, error) {
	query := `
		INSERT INTO crypto_nonces (network, nonce, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (network) DO UPDATE
			SET nonce = crypto_nonces.nonce + 1, updated_at = NOW()
		RETURNING nonce
	`

	var nonce int64
	if err := r.db.QueryRowxContext(ctx, query, network, defaultValue).Scan(&nonce); err != nil {
		return 0, fmt.Errorf("failed to allocate nonce for %s: %w", network, err)
	}

	return nonce, nil
}

// Current returns the last allocated value, or false when none was allocated
func (r *NonceRepository) Current(ctx context.Context, network entities.Network) (int64, bool, error) {
	var rows []int64
	if err := r.db.SelectContext(ctx, &rows, `SELECT nonce FROM crypto_nonces WHERE network = $1`, network); err != nil {
		return 0, false, fmt.Errorf("failed to read nonce for %s: %w", network, err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0], true, nil
}
