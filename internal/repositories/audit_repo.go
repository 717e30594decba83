package repositories

import (
	"context"

	"github.com/finovatepay/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (action, entity_type, entity_id, actor_user_id, actor_address,
			actor_type, status, before_state, after_state, meta, request_ip, user_agent, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, entry.Action, entry.EntityType, entry.EntityID, entry.ActorUserID, entry.ActorAddress,
		entry.ActorType, entry.Status, entry.BeforeState, entry.AfterState, entry.Meta,
		entry.RequestIP, entry.UserAgent, entry.ErrorMessage)
	return err
}

func (r *AuditRepo) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, action, entity_type, entity_id, actor_user_id, actor_address, actor_type,
		       status, before_state, after_state, meta, request_ip, user_agent, error_message, created_at
		FROM audit_logs WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, entityType, entityID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.Action, &l.EntityType, &l.EntityID, &l.ActorUserID,
			&l.ActorAddress, &l.ActorType, &l.Status, &l.BeforeState, &l.AfterState,
			&l.Meta, &l.RequestIP, &l.UserAgent, &l.ErrorMessage, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
