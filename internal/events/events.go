package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Event types
const (
	EventEscrowStatusChanged = "escrow_status_changed"
	EventInvoiceTokenized    = "invoice_tokenized"
	EventSettlementFailed    = "settlement_failed"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// InvoiceTopic is the pub/sub channel carrying one invoice's settlement
// events. Subscribers interested in every invoice match InvoiceTopicPattern.
func InvoiceTopic(invoiceID uuid.UUID) string {
	return fmt.Sprintf("events:invoice:%s", invoiceID)
}

const InvoiceTopicPattern = "events:invoice:*"

type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

type Subscriber interface {
	SubscribePattern(ctx context.Context, pattern string, handler func(topic string, event Event)) error
}
