package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finovatepay/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const transactionColumns = `
	id, tx_type, invoice_id, from_address, to_address, amount, currency,
	status, tx_hash, initiator_id, metadata, failure_reason, confirmed_at, created_at`

// TransactionRepo is the financial transaction ledger: append-mostly, no
// deletes. Every money-movement attempt gets a row before the external
// ledger is touched.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Record(ctx context.Context, t *models.FinancialTransaction) error {
	t.Status = models.TxStatusPending
	err := r.pool.QueryRow(ctx, `
		INSERT INTO financial_transactions
			(tx_type, invoice_id, from_address, to_address, amount, currency, status, initiator_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, t.TxType, t.InvoiceID, t.FromAddress, t.ToAddress, t.Amount, t.Currency,
		t.Status, t.InitiatorID, t.Metadata,
	).Scan(&t.ID, &t.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s on invoice %v", ErrDuplicatePending, t.TxType, t.InvoiceID)
	}
	return err
}

// SetHash records the external tx hash on an in-flight attempt as soon as
// submission succeeds, so an interrupted attempt can be reconciled later.
func (r *TransactionRepo) SetHash(ctx context.Context, id uuid.UUID, txHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE financial_transactions SET tx_hash = $1 WHERE id = $2 AND status = 'PENDING'
	`, txHash, id)
	return err
}

// Finalize moves a transaction to CONFIRMED or FAILED. PENDING rows only:
// terminal statuses are write-once.
func (r *TransactionRepo) Finalize(ctx context.Context, id uuid.UUID, status string, txHash, failureReason *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE financial_transactions
		SET status = $1,
		    tx_hash = COALESCE($2, tx_hash),
		    failure_reason = $3,
		    confirmed_at = CASE WHEN $1 = 'CONFIRMED' THEN now() ELSE confirmed_at END
		WHERE id = $4 AND status = 'PENDING'
	`, status, txHash, failureReason, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %s is not pending", ErrStateConflict, id)
	}
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.FinancialTransaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM financial_transactions WHERE id = $1`, id))
}

func (r *TransactionRepo) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.FinancialTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM financial_transactions WHERE invoice_id = $1
		ORDER BY created_at DESC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.FinancialTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// ListStalePending returns PENDING transactions older than the cutoff, for
// the reconciler to resolve against the external ledger.
func (r *TransactionRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.FinancialTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM financial_transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.FinancialTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

func scanTransaction(row pgx.Row) (*models.FinancialTransaction, error) {
	var t models.FinancialTransaction
	err := row.Scan(&t.ID, &t.TxType, &t.InvoiceID, &t.FromAddress, &t.ToAddress,
		&t.Amount, &t.Currency, &t.Status, &t.TxHash, &t.InitiatorID,
		&t.Metadata, &t.FailureReason, &t.ConfirmedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
