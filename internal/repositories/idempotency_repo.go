package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/finovatepay/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const idempotencyColumns = `
	id, key, user_id, operation_type, request_body, status,
	response_status, response_body, created_at, expires_at`

type IdempotencyRepo struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepo(pool *pgxpool.Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Insert claims (key, user) atomically via the unique constraint. It
// returns false when another record already holds the key; the caller then
// reads the existing record with Get.
func (r *IdempotencyRepo) Insert(ctx context.Context, rec *models.IdempotencyKey) (bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO idempotency_keys (key, user_id, operation_type, request_body, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key, user_id) DO NOTHING
		RETURNING id, created_at
	`, rec.Key, rec.UserID, rec.OperationType, rec.RequestBody,
		models.IdempotencyStatusProcessing, rec.ExpiresAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rec.Status = models.IdempotencyStatusProcessing
	return true, nil
}

func (r *IdempotencyRepo) Get(ctx context.Context, key string, userID uuid.UUID) (*models.IdempotencyKey, error) {
	var rec models.IdempotencyKey
	err := r.pool.QueryRow(ctx, `
		SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1 AND user_id = $2
	`, key, userID).Scan(&rec.ID, &rec.Key, &rec.UserID, &rec.OperationType, &rec.RequestBody,
		&rec.Status, &rec.ResponseStatus, &rec.ResponseBody, &rec.CreatedAt, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *IdempotencyRepo) Complete(ctx context.Context, key string, userID uuid.UUID, status string, responseStatus int, responseBody []byte) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $1, response_status = $2, response_body = $3
		WHERE key = $4 AND user_id = $5 AND status = 'PROCESSING'
	`, status, responseStatus, responseBody, key, userID)
	return err
}

func (r *IdempotencyRepo) Delete(ctx context.Context, key string, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND user_id = $2`, key, userID)
	return err
}

// PurgeExpired removes records past their retention window. Run from the
// background worker.
func (r *IdempotencyRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
