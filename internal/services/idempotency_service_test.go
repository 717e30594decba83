package services

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/finovatepay/backend/internal/models"
	"github.com/finovatepay/backend/internal/repositories"
	"github.com/google/uuid"
)

type fakeIdemStore struct {
	mu      sync.Mutex
	records map[string]*models.IdempotencyKey
	failing bool
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{records: make(map[string]*models.IdempotencyKey)}
}

func idemKey(key string, userID uuid.UUID) string { return key + "/" + userID.String() }

func (s *fakeIdemStore) Insert(ctx context.Context, rec *models.IdempotencyKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return false, errors.New("store down")
	}
	k := idemKey(rec.Key, rec.UserID)
	if _, exists := s.records[k]; exists {
		return false, nil
	}
	rec.ID = uuid.New()
	rec.Status = models.IdempotencyStatusProcessing
	rec.CreatedAt = time.Now()
	cp := *rec
	s.records[k] = &cp
	return true, nil
}

func (s *fakeIdemStore) Get(ctx context.Context, key string, userID uuid.UUID) (*models.IdempotencyKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("store down")
	}
	rec, ok := s.records[idemKey(key, userID)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeIdemStore) Complete(ctx context.Context, key string, userID uuid.UUID, status string, responseStatus int, responseBody []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[idemKey(key, userID)]
	if !ok || rec.Status != models.IdempotencyStatusProcessing {
		return nil
	}
	rec.Status = status
	rec.ResponseStatus = &responseStatus
	rec.ResponseBody = responseBody
	return nil
}

func (s *fakeIdemStore) Delete(ctx context.Context, key string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, idemKey(key, userID))
	return nil
}

func TestIdempotencyFirstRequestProceeds(t *testing.T) {
	store := newFakeIdemStore()
	svc := NewIdempotencyService(store, time.Hour, zap.NewNop())
	userID := uuid.New()

	d := svc.Begin(context.Background(), "k1", "escrow_release", userID, []byte(`{}`))
	if d.Outcome != Proceed {
		t.Fatalf("outcome = %v, want Proceed", d.Outcome)
	}
}

func TestIdempotencyDuplicateInFlight(t *testing.T) {
	store := newFakeIdemStore()
	svc := NewIdempotencyService(store, time.Hour, zap.NewNop())
	userID := uuid.New()

	svc.Begin(context.Background(), "k1", "escrow_release", userID, nil)
	d := svc.Begin(context.Background(), "k1", "escrow_release", userID, nil)
	if d.Outcome != DuplicateInFlight {
		t.Fatalf("outcome = %v, want DuplicateInFlight", d.Outcome)
	}
}

func TestIdempotencyCompletedReplaysResponse(t *testing.T) {
	store := newFakeIdemStore()
	svc := NewIdempotencyService(store, time.Hour, zap.NewNop())
	userID := uuid.New()

	svc.Begin(context.Background(), "k1", "escrow_release", userID, nil)
	svc.Complete(context.Background(), "k1", userID, true, 200, []byte(`{"ok":true}`))

	d := svc.Begin(context.Background(), "k1", "escrow_release", userID, nil)
	if d.Outcome != DuplicateCompleted {
		t.Fatalf("outcome = %v, want DuplicateCompleted", d.Outcome)
	}
	if d.ResponseStatus != 200 {
		t.Errorf("response status = %d, want 200", d.ResponseStatus)
	}
	if string(d.ResponseBody) != `{"ok":true}` {
		t.Errorf("response body = %q", d.ResponseBody)
	}
}

func TestIdempotencyReplayPreservesExactBytes(t *testing.T) {
	store := newFakeIdemStore()
	svc := NewIdempotencyService(store, time.Hour, zap.NewNop())
	userID := uuid.New()

	// Key order and spacing here are deliberate: a replay must return the
	// bytes of the first response, not a normalized re-encoding of them.
	body := []byte(`{"ok":true,  "data":{"tx_hash":"0xAbC","invoice_id":"11111111-2222-3333-4444-555555555555"}}`)

	svc.Begin(context.Background(), "k1", "escrow_release", userID, body)
	svc.Complete(context.Background(), "k1", userID, true, 200, body)

	d := svc.Begin(context.Background(), "k1", "escrow_release", userID, body)
	if d.Outcome != DuplicateCompleted {
		t.Fatalf("outcome = %v, want DuplicateCompleted", d.Outcome)
	}
	if !bytes.Equal(d.ResponseBody, body) {
		t.Errorf("replayed body = %q, want the original bytes %q", d.ResponseBody, body)
	}
}

func TestIdempotencyFailedAllowsRetry(t *testing.T) {
	store := newFakeIdemStore()
	svc := NewIdempotencyService(store, time.Hour, zap.NewNop())
	userID := uuid.New()

	svc.Begin(context.Background(), "k1", "escrow_release", userID, nil)
	svc.Complete(context.Background(), "k1", userID, false, 502, []byte(`{"error":"ledger down"}`))

	d := svc.Begin(context.Background(), "k1", "escrow_release", userID, nil)
	if d.Outcome != Proceed {
		t.Fatalf("outcome = %v, want Proceed after a failed attempt", d.Outcome)
	}
}

func TestIdempotencyKeysScopedPerUser(t *testing.T) {
	store := newFakeIdemStore()
	svc := NewIdempotencyService(store, time.Hour, zap.NewNop())

	svc.Begin(context.Background(), "k1", "escrow_release", uuid.New(), nil)
	d := svc.Begin(context.Background(), "k1", "escrow_release", uuid.New(), nil)
	if d.Outcome != Proceed {
		t.Fatalf("outcome = %v, want Proceed for a different user", d.Outcome)
	}
}

func TestIdempotencyFailsOpen(t *testing.T) {
	store := newFakeIdemStore()
	store.failing = true
	svc := NewIdempotencyService(store, time.Hour, zap.NewNop())

	d := svc.Begin(context.Background(), "k1", "escrow_release", uuid.New(), nil)
	if d.Outcome != Proceed {
		t.Fatalf("outcome = %v, want Proceed when the store is down", d.Outcome)
	}
}

func TestIdempotencyConcurrentClaimsSingleOwner(t *testing.T) {
	store := newFakeIdemStore()
	svc := NewIdempotencyService(store, time.Hour, zap.NewNop())
	userID := uuid.New()

	const n = 8
	outcomes := make(chan Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := svc.Begin(context.Background(), "k1", "escrow_release", userID, nil)
			outcomes <- d.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	var proceeded int
	for o := range outcomes {
		if o == Proceed {
			proceeded++
		}
	}
	if proceeded != 1 {
		t.Errorf("proceeded = %d, want exactly 1", proceeded)
	}
}

func TestIdempotencyExpiredRecordAllowsRetry(t *testing.T) {
	store := newFakeIdemStore()
	svc := NewIdempotencyService(store, time.Hour, zap.NewNop())
	userID := uuid.New()

	// A completed record past its expiry no longer replays.
	rec := &models.IdempotencyKey{
		Key:       "k1",
		UserID:    userID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	store.Insert(context.Background(), rec)
	store.Complete(context.Background(), "k1", userID, models.IdempotencyStatusCompleted, 200, []byte(`{}`))

	d := svc.Begin(context.Background(), "k1", "escrow_release", userID, nil)
	if d.Outcome != Proceed {
		t.Fatalf("outcome = %v, want Proceed for an expired key", d.Outcome)
	}
}
