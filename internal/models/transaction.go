package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Financial transaction types
const (
	TxTypeEscrowDeposit  = "ESCROW_DEPOSIT"
	TxTypeEscrowShipment = "ESCROW_SHIPMENT"
	TxTypeEscrowRelease  = "ESCROW_RELEASE"
	TxTypeEscrowDispute  = "ESCROW_DISPUTE"
	TxTypeEscrowRefund   = "ESCROW_REFUND"
)

// Financial transaction statuses
const (
	TxStatusPending   = "PENDING"
	TxStatusConfirmed = "CONFIRMED"
	TxStatusFailed    = "FAILED"
)

// FinancialTransaction is one attempted money movement. Rows are created
// PENDING before the external ledger is touched and finalized exactly once;
// they are never deleted. A partial unique index allows at most one
// PENDING row per (invoice, type).
type FinancialTransaction struct {
	ID            uuid.UUID       `json:"id"`
	TxType        string          `json:"tx_type"`
	InvoiceID     *uuid.UUID      `json:"invoice_id,omitempty"`
	FromAddress   string          `json:"from_address"`
	ToAddress     string          `json:"to_address"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	TxHash        *string         `json:"tx_hash,omitempty"`
	InitiatorID   *uuid.UUID      `json:"initiator_id,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
