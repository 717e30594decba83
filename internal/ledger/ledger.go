package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrTxNotFound  = errors.New("transaction not found")
	ErrTxRejected  = errors.New("transaction rejected by ledger")
	ErrUnsupported = errors.New("unsupported ledger action")
)

// Action names a settlement operation on the escrow contract.
type Action string

const (
	ActionDeposit         Action = "deposit"
	ActionConfirmShipment Action = "confirmShipment"
	ActionRelease         Action = "releaseFunds"
	ActionDispute         Action = "raiseDispute"
	ActionRefund          Action = "refund"
)

// EventType names an event emitted by the escrow contract.
type EventType string

const (
	EventTokenized EventType = "Tokenized"
	EventDeposited EventType = "Deposited"
	EventReleased  EventType = "Released"
	EventDisputed  EventType = "Disputed"
)

// SubmitParams carries the action-specific payload of a submission.
type SubmitParams struct {
	InvoiceID uuid.UUID
	Reason    string // dispute only
}

// Confirmation is the final on-chain outcome of a submitted transaction.
type Confirmation struct {
	Success     bool
	BlockNumber uint64
}

// Event is one contract event, restartable-batch friendly: events carry
// their block number so a consumer can checkpoint and resume.
type Event struct {
	Type        EventType
	BlockNumber uint64
	TxHash      string
	InvoiceID   uuid.UUID
	Payload     map[string]string
}

// Client is the external ledger collaborator. Implementations must be safe
// for concurrent use; all methods honour ctx cancellation.
type Client interface {
	Submit(ctx context.Context, action Action, params SubmitParams) (string, error)
	WaitForConfirmation(ctx context.Context, txHash string) (*Confirmation, error)
	FilterEvents(ctx context.Context, eventType EventType, fromBlock, toBlock uint64) ([]Event, error)
	BlockNumber(ctx context.Context) (uint64, error)
}
