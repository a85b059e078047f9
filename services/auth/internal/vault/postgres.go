package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"outsy/pkg/db"
)

const recordColumns = `id, user_id, token_hash, expires_at, created_at`

// PostgresVault stores records in the refresh_tokens table.
type PostgresVault struct {
	pool *pgxpool.Pool
}

func NewPostgresVault(pool *pgxpool.Pool) *PostgresVault {
	return &PostgresVault{pool: pool}
}

func (v *PostgresVault) Store(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (Record, error) {
	var rec Record
	err := db.Get(ctx, v.pool, &rec, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING `+recordColumns,
		userID, tokenHash, expiresAt.UTC(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("vault.Store: %w", err)
	}
	return rec, nil
}

func (v *PostgresVault) FindActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]Record, error) {
	var recs []Record
	err := db.Select(ctx, v.pool, &recs, `
		SELECT `+recordColumns+`
		FROM refresh_tokens
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at DESC`,
		userID, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("vault.FindActive: %w", err)
	}
	return recs, nil
}

// Consume deletes the record if its id and hash both match and it has not
// expired, returning the deleted row. The check and the delete are one
// statement, so of two racing callers exactly one gets the row and the other
// gets ErrNotFound.
func (v *PostgresVault) Consume(ctx context.Context, id uuid.UUID, tokenHash string, now time.Time) (Record, error) {
	var rec Record
	err := db.Get(ctx, v.pool, &rec, `
		DELETE FROM refresh_tokens
		WHERE id = $1 AND token_hash = $2 AND expires_at > $3
		RETURNING `+recordColumns,
		id, tokenHash, now.UTC(),
	)
	if db.NotFound(err) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("vault.Consume: %w", err)
	}
	return rec, nil
}

// Revoke deletes the record for (userID, tokenHash), expired or not.
func (v *PostgresVault) Revoke(ctx context.Context, userID uuid.UUID, tokenHash string) (int64, error) {
	tag, err := db.Exec(ctx, v.pool,
		`DELETE FROM refresh_tokens WHERE user_id = $1 AND token_hash = $2`,
		userID, tokenHash,
	)
	if err != nil {
		return 0, fmt.Errorf("vault.Revoke: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (v *PostgresVault) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := db.Exec(ctx, v.pool, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("vault.RevokeAll: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Sweep removes records that expired at or before now.
func (v *PostgresVault) Sweep(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.Exec(ctx, v.pool, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("vault.Sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (v *PostgresVault) Ping(ctx context.Context) error {
	return db.Ping(ctx, v.pool)
}
