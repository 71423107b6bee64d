package session

import (
	"context"
	"errors"
	"time"

	"storefront-checkout/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) Get(ctx context.Context, sessionID, key string) ([]byte, error) {
	const q = `
SELECT value
FROM client_state
WHERE session_id = $1 AND key = $2
`
	var raw []byte
	if err := r.pool.QueryRow(ctx, q, sessionID, key).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return raw, nil
}

func (r *postgresRepo) Put(ctx context.Context, sessionID, key string, value []byte) error {
	const q = `
INSERT INTO client_state (session_id, key, value, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (session_id, key) DO UPDATE
SET value = EXCLUDED.value, updated_at = now()
`
	_, err := r.pool.Exec(ctx, q, sessionID, key, string(value))
	return err
}

func (r *postgresRepo) Delete(ctx context.Context, sessionID, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM client_state WHERE session_id = $1 AND key = $2`, sessionID, key)
	return err
}

func (r *postgresRepo) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM client_state WHERE session_id = $1`, sessionID)
	return err
}

// Purge drops every session whose newest value is older than olderThan.
func (r *postgresRepo) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `
DELETE FROM client_state
WHERE session_id IN (
    SELECT session_id
    FROM client_state
    GROUP BY session_id
    HAVING max(updated_at) < $1
)
`
	tag, err := r.pool.Exec(ctx, q, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *postgresRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
