package repositories

import (
	"context"
	"fmt"

	"github.com/finovatepay/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Columns that hold the write-once external tx hash per settlement type.
var txHashColumns = map[string]string{
	models.TxTypeEscrowDeposit:  "deposit_tx_hash",
	models.TxTypeEscrowShipment: "shipment_tx_hash",
	models.TxTypeEscrowRelease:  "release_tx_hash",
	models.TxTypeEscrowDispute:  "dispute_tx_hash",
	models.TxTypeEscrowRefund:   "release_tx_hash",
}

// SettlementRepo implements the two short transactions of a settlement
// attempt. The external ledger call happens between them, never while a row
// lock is held.
type SettlementRepo struct {
	pool *pgxpool.Pool
}

func NewSettlementRepo(pool *pgxpool.Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

type PrepareTransitionParams struct {
	InvoiceID    uuid.UUID
	TargetStatus string
	TxType       string
	InitiatorID  *uuid.UUID
	Metadata     map[string]any
}

type PreparedTransition struct {
	Invoice       models.Invoice
	TransactionID uuid.UUID
}

// PrepareTransition locks the invoice row, validates the requested
// transition under the lock and records a PENDING financial transaction,
// then commits and releases the lock. Concurrent attempts of the same type
// fail here on the PENDING partial unique index.
func (r *SettlementRepo) PrepareTransition(ctx context.Context, p PrepareTransitionParams) (*PreparedTransition, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	inv, err := lockInvoice(ctx, tx, p.InvoiceID)
	if err != nil {
		return nil, err
	}

	if !models.IsValidEscrowTransition(inv.EscrowStatus, p.TargetStatus) {
		return nil, fmt.Errorf("%w: cannot move %s from %s to %s",
			ErrStateConflict, inv.ID, inv.EscrowStatus, p.TargetStatus)
	}

	var txID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO financial_transactions
			(tx_type, invoice_id, from_address, to_address, amount, currency, status, initiator_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, p.TxType, inv.ID, inv.BuyerAddress, inv.SellerAddress, inv.Amount, inv.Currency,
		models.TxStatusPending, p.InitiatorID, p.Metadata,
	).Scan(&txID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s on invoice %s", ErrDuplicatePending, p.TxType, inv.ID)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &PreparedTransition{Invoice: *inv, TransactionID: txID}, nil
}

type CommitTransitionParams struct {
	InvoiceID      uuid.UUID
	ExpectedStatus string
	TargetStatus   string
	TxType         string
	TxHash         string
	TransactionID  uuid.UUID
	DisputeReason  *string
}

// CommitTransition re-locks the invoice and applies the transition only if
// the status is still the one observed before the external call (optimistic
// guard). On a guard miss it returns ErrStateConflict and changes nothing;
// the caller decides what to do with the already-spent external result.
func (r *SettlementRepo) CommitTransition(ctx context.Context, p CommitTransitionParams) error {
	hashColumn, ok := txHashColumns[p.TxType]
	if !ok {
		return fmt.Errorf("unknown financial transaction type %q", p.TxType)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	inv, err := lockInvoice(ctx, tx, p.InvoiceID)
	if err != nil {
		return err
	}

	if inv.EscrowStatus != p.ExpectedStatus {
		return fmt.Errorf("%w: invoice %s is %s, expected %s",
			ErrStateConflict, inv.ID, inv.EscrowStatus, p.ExpectedStatus)
	}

	query := fmt.Sprintf(`
		UPDATE invoices
		SET escrow_status = $1, %s = $2, dispute_reason = COALESCE($3, dispute_reason), updated_at = now()
		WHERE id = $4
	`, hashColumn)
	if _, err := tx.Exec(ctx, query, p.TargetStatus, p.TxHash, p.DisputeReason, p.InvoiceID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE financial_transactions
		SET status = $1, tx_hash = $2, confirmed_at = now()
		WHERE id = $3 AND status = $4
	`, models.TxStatusConfirmed, p.TxHash, p.TransactionID, models.TxStatusPending); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CommitLocalTransition applies a transition that involves no external call
// (e.g. cancelling an invoice nothing has been escrowed against). Single
// short transaction, same locking discipline.
func (r *SettlementRepo) CommitLocalTransition(ctx context.Context, invoiceID uuid.UUID, expectedStatus, targetStatus string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	inv, err := lockInvoice(ctx, tx, invoiceID)
	if err != nil {
		return err
	}

	if inv.EscrowStatus != expectedStatus {
		return fmt.Errorf("%w: invoice %s is %s, expected %s",
			ErrStateConflict, inv.ID, inv.EscrowStatus, expectedStatus)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE invoices SET escrow_status = $1, updated_at = now() WHERE id = $2
	`, targetStatus, invoiceID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func lockInvoice(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Invoice, error) {
	return scanInvoice(tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}
