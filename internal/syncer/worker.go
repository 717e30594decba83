package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finovatepay/backend/internal/events"
	"github.com/finovatepay/backend/internal/ledger"
)

// Store persists sync progress. ApplyEvent performs the event's database
// effect and advances the per-type checkpoint in one transaction; it
// reports false when the event was a re-delivery with no effect.
// AdvanceCheckpoint moves the checkpoint forward without an event and is
// monotonic like the event path.
type Store interface {
	LastProcessedBlock(ctx context.Context, eventType string) (uint64, error)
	ApplyEvent(ctx context.Context, ev ledger.Event) (bool, error)
	AdvanceCheckpoint(ctx context.Context, eventType string, block uint64) error
}

// Worker tails the escrow contract's event stream and mirrors it into the
// database. One goroutine per event type, each resuming from its own
// checkpoint, so a failure in one stream never stalls the others.
type Worker struct {
	ledger     ledger.Client
	store      Store
	publisher  events.Publisher
	interval   time.Duration
	maxBackoff time.Duration
	log        *zap.Logger
}

func NewWorker(ledgerClient ledger.Client, store Store, publisher events.Publisher, interval, maxBackoff time.Duration, log *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 2 * time.Minute
	}
	return &Worker{
		ledger:     ledgerClient,
		store:      store,
		publisher:  publisher,
		interval:   interval,
		maxBackoff: maxBackoff,
		log:        log,
	}
}

var syncedEventTypes = []ledger.EventType{
	ledger.EventTokenized,
	ledger.EventDeposited,
	ledger.EventReleased,
	ledger.EventDisputed,
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, et := range syncedEventTypes {
		wg.Add(1)
		go func(et ledger.EventType) {
			defer wg.Done()
			w.runStream(ctx, et)
		}(et)
	}
	wg.Wait()
}

func (w *Worker) runStream(ctx context.Context, eventType ledger.EventType) {
	log := w.log.With(zap.String("event_type", string(eventType)))
	log.Info("event sync stream started")

	backoff := w.interval
	for {
		applied, err := w.syncOnce(ctx, eventType)
		if err != nil {
			log.Error("sync pass failed", zap.Error(err))
			backoff += w.interval
			if backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}
		} else {
			if applied > 0 {
				log.Info("applied ledger events", zap.Int("count", applied))
			}
			backoff = w.interval
		}

		select {
		case <-ctx.Done():
			log.Info("event sync stream stopped")
			return
		case <-time.After(backoff):
		}
	}
}

// syncOnce processes one batch from checkpoint+1 to the chain head. Events
// apply strictly in block order; the first failure aborts the batch so the
// failed event is re-fetched next pass, never skipped.
func (w *Worker) syncOnce(ctx context.Context, eventType ledger.EventType) (int, error) {
	last, err := w.store.LastProcessedBlock(ctx, string(eventType))
	if err != nil {
		return 0, err
	}
	head, err := w.ledger.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head <= last {
		return 0, nil
	}

	evs, err := w.ledger.FilterEvents(ctx, eventType, last+1, head)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, ev := range evs {
		changed, err := w.store.ApplyEvent(ctx, ev)
		if err != nil {
			return applied, err
		}
		if !changed {
			continue
		}
		applied++
		w.publish(ctx, ev)
	}

	// A clean pass covered every block up to head, so move the checkpoint
	// there even when the batch was empty. Otherwise quiet streams would
	// re-scan an ever-growing range.
	if err := w.store.AdvanceCheckpoint(ctx, string(eventType), head); err != nil {
		return applied, err
	}
	return applied, nil
}

func (w *Worker) publish(ctx context.Context, ev ledger.Event) {
	eventName := events.EventEscrowStatusChanged
	if ev.Type == ledger.EventTokenized {
		eventName = events.EventInvoiceTokenized
	}
	payload := map[string]any{
		"invoice_id":   ev.InvoiceID.String(),
		"tx_hash":      ev.TxHash,
		"block_number": ev.BlockNumber,
		"source":       "chain",
	}
	for k, v := range ev.Payload {
		payload[k] = v
	}
	_ = w.publisher.Publish(ctx, events.InvoiceTopic(ev.InvoiceID), events.Event{
		Type:    eventName,
		Payload: payload,
	})
}
