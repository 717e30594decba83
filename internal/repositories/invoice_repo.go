package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/finovatepay/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const invoiceColumns = `
	id, invoice_number, seller_user_id, buyer_user_id, seller_address, buyer_address,
	amount, currency, escrow_status, dispute_reason, is_tokenized, token_id,
	deposit_tx_hash, shipment_tx_hash, release_tx_hash, dispute_tx_hash,
	created_at, updated_at`

type InvoiceRepo struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepo(pool *pgxpool.Pool) *InvoiceRepo {
	return &InvoiceRepo{pool: pool}
}

func (r *InvoiceRepo) Create(ctx context.Context, inv *models.Invoice) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO invoices (invoice_number, seller_user_id, buyer_user_id,
			seller_address, buyer_address, amount, currency, escrow_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, inv.InvoiceNumber, inv.SellerUserID, inv.BuyerUserID,
		inv.SellerAddress, inv.BuyerAddress, inv.Amount, inv.Currency, inv.EscrowStatus,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt)
}

func (r *InvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

type InvoiceFilter struct {
	SellerUserID *uuid.UUID
	BuyerUserID  *uuid.UUID
	EscrowStatus *string
	Limit        int
	Offset       int
}

func (r *InvoiceRepo) List(ctx context.Context, f InvoiceFilter) ([]models.Invoice, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.SellerUserID != nil {
		where = append(where, fmt.Sprintf("seller_user_id = $%d", argIdx))
		args = append(args, *f.SellerUserID)
		argIdx++
	}
	if f.BuyerUserID != nil {
		where = append(where, fmt.Sprintf("buyer_user_id = $%d", argIdx))
		args = append(args, *f.BuyerUserID)
		argIdx++
	}
	if f.EscrowStatus != nil {
		where = append(where, fmt.Sprintf("escrow_status = $%d", argIdx))
		args = append(args, *f.EscrowStatus)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(row pgx.Row) (*models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.SellerUserID, &inv.BuyerUserID,
		&inv.SellerAddress, &inv.BuyerAddress, &inv.Amount, &inv.Currency,
		&inv.EscrowStatus, &inv.DisputeReason, &inv.IsTokenized, &inv.TokenID,
		&inv.DepositTxHash, &inv.ShipmentTxHash, &inv.ReleaseTxHash, &inv.DisputeTxHash,
		&inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
