package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Escrow statuses
const (
	EscrowStatusCreated   = "created"
	EscrowStatusDeposited = "deposited"
	EscrowStatusShipped   = "shipped"
	EscrowStatusDisputed  = "disputed"
	EscrowStatusReleased  = "released"
	EscrowStatusCancelled = "cancelled"
)

// Valid escrow transitions: from -> []to. released and cancelled are terminal;
// disputed leaves only through arbitration (release or cancel).
var ValidEscrowTransitions = map[string][]string{
	EscrowStatusCreated:   {EscrowStatusDeposited, EscrowStatusCancelled},
	EscrowStatusDeposited: {EscrowStatusShipped, EscrowStatusDisputed, EscrowStatusReleased, EscrowStatusCancelled},
	EscrowStatusShipped:   {EscrowStatusReleased, EscrowStatusDisputed, EscrowStatusCancelled},
	EscrowStatusDisputed:  {EscrowStatusReleased, EscrowStatusCancelled},
	EscrowStatusReleased:  {},
	EscrowStatusCancelled: {},
}

func IsValidEscrowTransition(from, to string) bool {
	allowed, ok := ValidEscrowTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

type Invoice struct {
	ID             uuid.UUID       `json:"id"`
	InvoiceNumber  string          `json:"invoice_number"`
	SellerUserID   uuid.UUID       `json:"seller_user_id"`
	BuyerUserID    uuid.UUID       `json:"buyer_user_id"`
	SellerAddress  string          `json:"seller_address"`
	BuyerAddress   string          `json:"buyer_address"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	EscrowStatus   string          `json:"escrow_status"`
	DisputeReason  *string         `json:"dispute_reason,omitempty"`
	IsTokenized    bool            `json:"is_tokenized"`
	TokenID        *string         `json:"token_id,omitempty"`
	DepositTxHash  *string         `json:"deposit_tx_hash,omitempty"`
	ShipmentTxHash *string         `json:"shipment_tx_hash,omitempty"`
	ReleaseTxHash  *string         `json:"release_tx_hash,omitempty"`
	DisputeTxHash  *string         `json:"dispute_tx_hash,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
