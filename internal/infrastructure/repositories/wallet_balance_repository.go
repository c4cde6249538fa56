package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
)

// actionRankSQL orders sweep actions inside SQL so rank checks happen in the
// same statement as the write.
const actionRankSQL = `CASE action_required WHEN 'fund' THEN 0 WHEN 'approve' THEN 1 WHEN 'pool' THEN 2 END`

const walletBalanceColumns = `address, network, token, action_required, processing, owner_message_id, send_seq, created_at, updated_at`

// WalletBalanceRepository stores the sweep ledger. Every mutation is a
// single conditional statement whose affected row count is the outcome.
type WalletBalanceRepository struct {
	db *sqlx.DB
}

// NewWalletBalanceRepository creates a new sweep ledger repository
func NewWalletBalanceRepository(db *sqlx.DB) *WalletBalanceRepository {
	return &WalletBalanceRepository{db: db}
}

// TouchOrCreate inserts an idle row unless one already exists for the pair.
// Returns true when a row was created.
func (r *WalletBalanceRepository) TouchOrCreate(ctx context.Context, address string, network entities.Network, token entities.Token, action entities.SweepAction) (bool, error) {
	query := `
		INSERT INTO wallet_balances (address, network, token, action_required, processing, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW(), NOW())
		ON CONFLICT (address, token) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query, address, network, token, action)
	if err != nil {
		return false, fmt.Errorf("failed to create wallet balance: %w", err)
	}
	return affected(res)
}

// Get retrieves a single row
func (r *WalletBalanceRepository) Get(ctx context.Context, address string, token entities.Token) (*entities.WalletBalance, error) {
	query := `SELECT ` + walletBalanceColumns + ` FROM wallet_balances WHERE address = $1 AND token = $2`

	var row entities.WalletBalance
	if err := r.db.GetContext(ctx, &row, query, address, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wallet balance not found: %w", apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get wallet balance: %w", err)
	}
	return &row, nil
}

// ListByAddress returns every row of a wallet
func (r *WalletBalanceRepository) ListByAddress(ctx context.Context, address string) ([]*entities.WalletBalance, error) {
	query := `SELECT ` + walletBalanceColumns + ` FROM wallet_balances WHERE address = $1 ORDER BY token`

	var rows []*entities.WalletBalance
	if err := r.db.SelectContext(ctx, &rows, query, address); err != nil {
		return nil, fmt.Errorf("failed to list wallet balances: %w", err)
	}
	return rows, nil
}

// ListIdle returns rows of a network that no pipeline cycle currently owns,
// oldest first.
func (r *WalletBalanceRepository) ListIdle(ctx context.Context, network entities.Network, limit int) ([]*entities.WalletBalance, error) {
	query := `
		SELECT ` + walletBalanceColumns + `
		FROM wallet_balances
		WHERE network = $1 AND processing = FALSE
		ORDER BY updated_at ASC
		LIMIT $2
	`

	var rows []*entities.WalletBalance
	if err := r.db.SelectContext(ctx, &rows, query, network, limit); err != nil {
		return nil, fmt.Errorf("failed to list idle wallet balances: %w", err)
	}
	return rows, nil
}

// TryAcquire hands an idle row to message owner and advances it to action.
// It fails (false) when the row is missing, already processing, or the
// action would move it backwards.
func (r *WalletBalanceRepository) TryAcquire(ctx context.Context, address string, token entities.Token, action entities.SweepAction, owner uuid.UUID) (bool, error) {
	query := `
		UPDATE wallet_balances
		SET processing = TRUE, action_required = $3, owner_message_id = $5, send_seq = -1, updated_at = NOW()
		WHERE address = $1 AND token = $2 AND processing = FALSE AND ` + actionRankSQL + ` <= $4
	`

	res, err := r.db.ExecContext(ctx, query, address, token, action, action.Rank(), owner)
	if err != nil {
		return false, fmt.Errorf("failed to acquire wallet balance: %w", err)
	}
	return affected(res)
}

// Advance moves a row held by owner forward to action and hands it to
// message next. Backward moves and rows owned by anyone else are ignored.
func (r *WalletBalanceRepository) Advance(ctx context.Context, address string, token entities.Token, owner uuid.UUID, action entities.SweepAction, next uuid.UUID) (bool, error) {
	query := `
		UPDATE wallet_balances
		SET action_required = $4, owner_message_id = $6, send_seq = -1, updated_at = NOW()
		WHERE address = $1 AND token = $2 AND processing = TRUE AND owner_message_id = $3
			AND ` + actionRankSQL + ` <= $5
	`

	res, err := r.db.ExecContext(ctx, query, address, token, owner, action, action.Rank(), next)
	if err != nil {
		return false, fmt.Errorf("failed to advance wallet balance: %w", err)
	}
	return affected(res)
}

// Admit records send seq of owner. It succeeds once per send: a redelivered
// message carries a sequence that is not above the stored one.
func (r *WalletBalanceRepository) Admit(ctx context.Context, address string, token entities.Token, action entities.SweepAction, owner uuid.UUID, seq int) (bool, error) {
	query := `
		UPDATE wallet_balances
		SET send_seq = $5, updated_at = NOW()
		WHERE address = $1 AND token = $2 AND processing = TRUE AND owner_message_id = $3
			AND action_required = $4 AND send_seq < $5
	`

	res, err := r.db.ExecContext(ctx, query, address, token, owner, action, seq)
	if err != nil {
		return false, fmt.Errorf("failed to admit wallet balance send: %w", err)
	}
	return affected(res)
}

// Touch renews the lease of a row held by owner
func (r *WalletBalanceRepository) Touch(ctx context.Context, address string, token entities.Token, owner uuid.UUID) (bool, error) {
	query := `
		UPDATE wallet_balances
		SET updated_at = NOW()
		WHERE address = $1 AND token = $2 AND processing = TRUE AND owner_message_id = $3
	`

	res, err := r.db.ExecContext(ctx, query, address, token, owner)
	if err != nil {
		return false, fmt.Errorf("failed to touch wallet balance: %w", err)
	}
	return affected(res)
}

// Release clears the processing flag of a row held by owner
func (r *WalletBalanceRepository) Release(ctx context.Context, address string, token entities.Token, owner uuid.UUID) (bool, error) {
	query := `
		UPDATE wallet_balances
		SET processing = FALSE, owner_message_id = NULL, send_seq = -1, updated_at = NOW()
		WHERE address = $1 AND token = $2 AND owner_message_id = $3
	`

	res, err := r.db.ExecContext(ctx, query, address, token, owner)
	if err != nil {
		return false, fmt.Errorf("failed to release wallet balance: %w", err)
	}
	return affected(res)
}

// ReleaseStale frees up to limit rows whose lease was last renewed before
// cutoff and returns them. The age check is repeated in the write, so a row
// touched in between stays held.
func (r *WalletBalanceRepository) ReleaseStale(ctx context.Context, cutoff time.Time, limit int) ([]*entities.WalletBalance, error) {
	query := `
		UPDATE wallet_balances
		SET processing = FALSE, owner_message_id = NULL, send_seq = -1, updated_at = NOW()
		WHERE (address, token) IN (
			SELECT address, token
			FROM wallet_balances
			WHERE processing = TRUE AND updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		AND processing = TRUE AND updated_at < $1
		RETURNING ` + walletBalanceColumns

	var rows []*entities.WalletBalance
	if err := r.db.SelectContext(ctx, &rows, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to release stale wallet balances: %w", err)
	}
	return rows, nil
}

// Delete removes the row held by owner, or with uuid.Nil an idle row.
// Deleting a missing row is not an error.
func (r *WalletBalanceRepository) Delete(ctx context.Context, address string, token entities.Token, owner uuid.UUID) error {
	query := `DELETE FROM wallet_balances WHERE address = $1 AND token = $2 AND owner_message_id = $3`
	args := []interface{}{address, token, owner}
	if owner == uuid.Nil {
		query = `DELETE FROM wallet_balances WHERE address = $1 AND token = $2 AND processing = FALSE`
		args = args[:2]
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete wallet balance: %w", err)
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}
