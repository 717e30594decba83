package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finovatepay/backend/internal/events"
	"github.com/finovatepay/backend/internal/ledger"
	"github.com/google/uuid"
)

type fakeSyncStore struct {
	mu          sync.Mutex
	checkpoints map[string]uint64
	seen        map[string]bool
	applied     []ledger.Event
	failAt      uint64 // ApplyEvent fails for this block when non-zero
}

func newFakeSyncStore() *fakeSyncStore {
	return &fakeSyncStore{
		checkpoints: make(map[string]uint64),
		seen:        make(map[string]bool),
	}
}

func (s *fakeSyncStore) LastProcessedBlock(ctx context.Context, eventType string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[eventType], nil
}

func (s *fakeSyncStore) ApplyEvent(ctx context.Context, ev ledger.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt != 0 && ev.BlockNumber == s.failAt {
		return false, errors.New("apply failed")
	}
	// Same semantics as the database: the effect is idempotent per event,
	// and the checkpoint advances monotonically even for a re-delivery.
	key := fmt.Sprintf("%s/%d/%s", ev.Type, ev.BlockNumber, ev.InvoiceID)
	changed := !s.seen[key]
	if changed {
		s.seen[key] = true
		s.applied = append(s.applied, ev)
	}
	if ev.BlockNumber > s.checkpoints[string(ev.Type)] {
		s.checkpoints[string(ev.Type)] = ev.BlockNumber
	}
	return changed, nil
}

func (s *fakeSyncStore) AdvanceCheckpoint(ctx context.Context, eventType string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if block > s.checkpoints[eventType] {
		s.checkpoints[eventType] = block
	}
	return nil
}

type fakeChain struct {
	mu      sync.Mutex
	head    uint64
	events  []ledger.Event
	queries [][2]uint64
}

func (c *fakeChain) Submit(ctx context.Context, action ledger.Action, params ledger.SubmitParams) (string, error) {
	return "", ledger.ErrUnsupported
}

func (c *fakeChain) WaitForConfirmation(ctx context.Context, txHash string) (*ledger.Confirmation, error) {
	return nil, ledger.ErrTxNotFound
}

func (c *fakeChain) FilterEvents(ctx context.Context, eventType ledger.EventType, fromBlock, toBlock uint64) ([]ledger.Event, error) {
	c.mu.Lock()
	c.queries = append(c.queries, [2]uint64{fromBlock, toBlock})
	c.mu.Unlock()

	var out []ledger.Event
	for _, ev := range c.events {
		if ev.Type == eventType && ev.BlockNumber >= fromBlock && ev.BlockNumber <= toBlock {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.head, nil
}

type countingPublisher struct {
	mu    sync.Mutex
	count int
}

func (p *countingPublisher) Publish(ctx context.Context, topic string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return nil
}

func releasedEvent(block uint64) ledger.Event {
	return ledger.Event{
		Type:        ledger.EventReleased,
		BlockNumber: block,
		TxHash:      "0xabc",
		InvoiceID:   uuid.New(),
	}
}

func newTestWorker(chain *fakeChain, store *fakeSyncStore, pub *countingPublisher) *Worker {
	return NewWorker(chain, store, pub, time.Second, time.Minute, zap.NewNop())
}

func TestSyncAppliesEventsInOrder(t *testing.T) {
	store := newFakeSyncStore()
	chain := &fakeChain{head: 30, events: []ledger.Event{
		releasedEvent(10), releasedEvent(20), releasedEvent(30),
	}}
	pub := &countingPublisher{}
	w := newTestWorker(chain, store, pub)

	applied, err := w.syncOnce(context.Background(), ledger.EventReleased)
	if err != nil {
		t.Fatalf("syncOnce: %v", err)
	}
	if applied != 3 {
		t.Errorf("applied = %d, want 3", applied)
	}
	for i, ev := range store.applied {
		if i > 0 && ev.BlockNumber < store.applied[i-1].BlockNumber {
			t.Errorf("events applied out of order: %d after %d", ev.BlockNumber, store.applied[i-1].BlockNumber)
		}
	}
	if got := store.checkpoints[string(ledger.EventReleased)]; got != 30 {
		t.Errorf("checkpoint = %d, want 30", got)
	}
	if pub.count != 3 {
		t.Errorf("published = %d, want 3", pub.count)
	}
}

func TestSyncResumesFromCheckpoint(t *testing.T) {
	store := newFakeSyncStore()
	store.checkpoints[string(ledger.EventReleased)] = 20
	chain := &fakeChain{head: 40, events: []ledger.Event{
		releasedEvent(10), releasedEvent(20), releasedEvent(30),
	}}
	w := newTestWorker(chain, store, &countingPublisher{})

	applied, err := w.syncOnce(context.Background(), ledger.EventReleased)
	if err != nil {
		t.Fatalf("syncOnce: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1 (only block 30)", applied)
	}
	if len(chain.queries) != 1 || chain.queries[0] != [2]uint64{21, 40} {
		t.Errorf("queried range %v, want [21 40]", chain.queries)
	}
}

func TestSyncRedeliveryIsNoop(t *testing.T) {
	store := newFakeSyncStore()
	chain := &fakeChain{head: 10, events: []ledger.Event{releasedEvent(10)}}
	pub := &countingPublisher{}
	w := newTestWorker(chain, store, pub)

	if _, err := w.syncOnce(context.Background(), ledger.EventReleased); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// Wind the checkpoint back to force re-delivery of block 10.
	store.mu.Lock()
	store.checkpoints[string(ledger.EventReleased)] = 9
	store.mu.Unlock()

	applied, err := w.syncOnce(context.Background(), ledger.EventReleased)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0 on re-delivery", applied)
	}
	if len(store.applied) != 1 {
		t.Errorf("events applied = %d, want 1 (re-delivery must not re-apply)", len(store.applied))
	}
	if pub.count != 1 {
		t.Errorf("published = %d, want 1", pub.count)
	}
}

func TestSyncHaltsOnFailureAndRetries(t *testing.T) {
	store := newFakeSyncStore()
	store.failAt = 20
	chain := &fakeChain{head: 30, events: []ledger.Event{
		releasedEvent(10), releasedEvent(20), releasedEvent(30),
	}}
	w := newTestWorker(chain, store, &countingPublisher{})

	applied, err := w.syncOnce(context.Background(), ledger.EventReleased)
	if err == nil {
		t.Fatal("expected an error from the failing event")
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1 before the failure", applied)
	}
	// Block 30 must not have been applied past the failed block 20.
	if got := store.checkpoints[string(ledger.EventReleased)]; got != 10 {
		t.Errorf("checkpoint = %d, want 10", got)
	}

	// Once the fault clears, the next pass resumes at the failed block.
	store.mu.Lock()
	store.failAt = 0
	store.mu.Unlock()

	applied, err = w.syncOnce(context.Background(), ledger.EventReleased)
	if err != nil {
		t.Fatalf("retry pass: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2 (blocks 20 and 30)", applied)
	}
	if got := store.checkpoints[string(ledger.EventReleased)]; got != 30 {
		t.Errorf("checkpoint = %d, want 30", got)
	}
}

func TestSyncEmptyPassAdvancesCheckpoint(t *testing.T) {
	store := newFakeSyncStore()
	store.checkpoints[string(ledger.EventReleased)] = 20
	chain := &fakeChain{head: 120}
	w := newTestWorker(chain, store, &countingPublisher{})

	applied, err := w.syncOnce(context.Background(), ledger.EventReleased)
	if err != nil {
		t.Fatalf("syncOnce: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0", applied)
	}
	// An empty pass still covered blocks 21..120, so the next pass must not
	// re-scan them.
	if got := store.checkpoints[string(ledger.EventReleased)]; got != 120 {
		t.Errorf("checkpoint = %d, want 120", got)
	}
	if _, err := w.syncOnce(context.Background(), ledger.EventReleased); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if len(chain.queries) != 1 {
		t.Errorf("FilterEvents called %d times, want 1", len(chain.queries))
	}
}

func TestSyncNoNewBlocks(t *testing.T) {
	store := newFakeSyncStore()
	store.checkpoints[string(ledger.EventReleased)] = 50
	chain := &fakeChain{head: 50}
	w := newTestWorker(chain, store, &countingPublisher{})

	applied, err := w.syncOnce(context.Background(), ledger.EventReleased)
	if err != nil {
		t.Fatalf("syncOnce: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d, want 0", applied)
	}
	if len(chain.queries) != 0 {
		t.Errorf("FilterEvents called %d times, want 0", len(chain.queries))
	}
}
