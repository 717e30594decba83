package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/finovatepay/backend/internal/ledger"
	"github.com/finovatepay/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Financial transaction type confirmed by each chain event.
var eventTxTypes = map[ledger.EventType]string{
	ledger.EventDeposited: models.TxTypeEscrowDeposit,
	ledger.EventReleased:  models.TxTypeEscrowRelease,
	ledger.EventDisputed:  models.TxTypeEscrowDispute,
}

// EventSyncRepo folds external ledger events into the database. Each event
// is applied in one transaction together with its checkpoint advance, so a
// crash can delay re-processing but never lose or double-apply an effect.
type EventSyncRepo struct {
	pool *pgxpool.Pool
}

func NewEventSyncRepo(pool *pgxpool.Pool) *EventSyncRepo {
	return &EventSyncRepo{pool: pool}
}

func (r *EventSyncRepo) LastProcessedBlock(ctx context.Context, eventType string) (uint64, error) {
	var block uint64
	err := r.pool.QueryRow(ctx,
		`SELECT last_processed_block FROM event_sync WHERE event_type = $1`, eventType,
	).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return block, nil
}

// ApplyEvent applies one event's effect with an idempotent predicate and
// advances the checkpoint in the same transaction. Returns whether the
// effect changed anything (re-delivery of an applied event returns false).
func (r *EventSyncRepo) ApplyEvent(ctx context.Context, ev ledger.Event) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	applied, err := applyEventEffect(ctx, tx, ev)
	if err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO event_sync (event_type, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_type) DO UPDATE
		SET last_processed_block = GREATEST(event_sync.last_processed_block, EXCLUDED.last_processed_block),
		    updated_at = now()
	`, string(ev.Type), ev.BlockNumber); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return applied, nil
}

// Checkpoints lists every stream's position, ordered by event type.
func (r *EventSyncRepo) Checkpoints(ctx context.Context) ([]models.EventSyncCheckpoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_type, last_processed_block, updated_at FROM event_sync ORDER BY event_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EventSyncCheckpoint
	for rows.Next() {
		var cp models.EventSyncCheckpoint
		if err := rows.Scan(&cp.EventType, &cp.LastProcessedBlock, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// AdvanceCheckpoint records that all blocks up to block have been scanned
// for eventType, even when the scan found no events. GREATEST keeps it
// monotonic against a concurrent ApplyEvent.
func (r *EventSyncRepo) AdvanceCheckpoint(ctx context.Context, eventType string, block uint64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_sync (event_type, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_type) DO UPDATE
		SET last_processed_block = GREATEST(event_sync.last_processed_block, EXCLUDED.last_processed_block),
		    updated_at = now()
	`, eventType, block)
	return err
}

func applyEventEffect(ctx context.Context, tx pgx.Tx, ev ledger.Event) (bool, error) {
	var applied bool

	switch ev.Type {
	case ledger.EventTokenized:
		tag, err := tx.Exec(ctx, `
			UPDATE invoices SET is_tokenized = TRUE, token_id = $1, updated_at = now()
			WHERE id = $2 AND token_id IS NULL
		`, ev.Payload["tokenId"], ev.InvoiceID)
		if err != nil {
			return false, err
		}
		applied = tag.RowsAffected() > 0

	case ledger.EventDeposited:
		tag, err := tx.Exec(ctx, `
			UPDATE invoices SET escrow_status = $1, deposit_tx_hash = COALESCE(deposit_tx_hash, $2), updated_at = now()
			WHERE id = $3 AND escrow_status = $4
		`, models.EscrowStatusDeposited, ev.TxHash, ev.InvoiceID, models.EscrowStatusCreated)
		if err != nil {
			return false, err
		}
		applied = tag.RowsAffected() > 0

	case ledger.EventReleased:
		tag, err := tx.Exec(ctx, `
			UPDATE invoices SET escrow_status = $1, release_tx_hash = COALESCE(release_tx_hash, $2), updated_at = now()
			WHERE id = $3 AND escrow_status IN ($4, $5)
		`, models.EscrowStatusReleased, ev.TxHash, ev.InvoiceID,
			models.EscrowStatusDeposited, models.EscrowStatusShipped)
		if err != nil {
			return false, err
		}
		applied = tag.RowsAffected() > 0

	case ledger.EventDisputed:
		tag, err := tx.Exec(ctx, `
			UPDATE invoices
			SET escrow_status = $1, dispute_reason = COALESCE($2, dispute_reason),
			    dispute_tx_hash = COALESCE(dispute_tx_hash, $3), updated_at = now()
			WHERE id = $4 AND escrow_status IN ($5, $6)
		`, models.EscrowStatusDisputed, nullable(ev.Payload["reason"]), ev.TxHash, ev.InvoiceID,
			models.EscrowStatusDeposited, models.EscrowStatusShipped)
		if err != nil {
			return false, err
		}
		applied = tag.RowsAffected() > 0

	default:
		return false, fmt.Errorf("unhandled event type %q", ev.Type)
	}

	// The event also settles any matching in-flight financial transaction
	// (e.g. a settlement attempt interrupted before its second phase).
	if txType, ok := eventTxTypes[ev.Type]; ok && applied {
		if _, err := tx.Exec(ctx, `
			UPDATE financial_transactions
			SET status = $1, tx_hash = COALESCE(tx_hash, $2), confirmed_at = now()
			WHERE invoice_id = $3 AND tx_type = $4 AND status = $5
		`, models.TxStatusConfirmed, ev.TxHash, ev.InvoiceID, txType, models.TxStatusPending); err != nil {
			return false, err
		}
	}

	return applied, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
