package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/finovatepay/backend/internal/models"
	"github.com/finovatepay/backend/internal/repositories"
	"github.com/google/uuid"
)

// Outcome of claiming an idempotency key for a request.
type Outcome int

const (
	// Proceed means this request owns the key and should execute.
	Proceed Outcome = iota
	// DuplicateInFlight means another request holds the key and has not
	// finished yet.
	DuplicateInFlight
	// DuplicateCompleted means the operation already ran; the cached
	// response should be replayed verbatim.
	DuplicateCompleted
)

// Decision is the result of Begin. For DuplicateCompleted the cached
// response status and body are populated.
type Decision struct {
	Outcome        Outcome
	ResponseStatus int
	ResponseBody   []byte
}

type IdempotencyStore interface {
	Insert(ctx context.Context, rec *models.IdempotencyKey) (bool, error)
	Get(ctx context.Context, key string, userID uuid.UUID) (*models.IdempotencyKey, error)
	Complete(ctx context.Context, key string, userID uuid.UUID, status string, responseStatus int, responseBody []byte) error
	Delete(ctx context.Context, key string, userID uuid.UUID) error
}

// IdempotencyService guards mutating settlement endpoints against duplicate
// delivery. It fails open: if the store is unreachable the request proceeds
// without protection rather than blocking payments.
type IdempotencyService struct {
	store IdempotencyStore
	ttl   time.Duration
	log   *zap.Logger
}

func NewIdempotencyService(store IdempotencyStore, ttl time.Duration, log *zap.Logger) *IdempotencyService {
	return &IdempotencyService{store: store, ttl: ttl, log: log}
}

// Begin claims key for userID. The insert races on the (key, user) unique
// constraint, so exactly one concurrent request wins ownership.
func (s *IdempotencyService) Begin(ctx context.Context, key, operationType string, userID uuid.UUID, requestBody []byte) Decision {
	rec := &models.IdempotencyKey{
		Key:           key,
		UserID:        userID,
		OperationType: operationType,
		RequestBody:   requestBody,
		ExpiresAt:     time.Now().Add(s.ttl),
	}
	inserted, err := s.store.Insert(ctx, rec)
	if err != nil {
		s.log.Warn("idempotency insert failed, proceeding unprotected",
			zap.String("key", key), zap.Error(err))
		return Decision{Outcome: Proceed}
	}
	if inserted {
		return Decision{Outcome: Proceed}
	}

	existing, err := s.store.Get(ctx, key, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			// Owner finished and the record was purged between our insert
			// and this read. Retry the claim once.
			if inserted, err = s.store.Insert(ctx, rec); err == nil && inserted {
				return Decision{Outcome: Proceed}
			}
		}
		s.log.Warn("idempotency lookup failed, proceeding unprotected",
			zap.String("key", key), zap.Error(err))
		return Decision{Outcome: Proceed}
	}

	switch {
	case existing.Status == models.IdempotencyStatusFailed || existing.Expired(time.Now()):
		// A failed or stale attempt does not block a retry. Drop the old
		// record and claim the key fresh.
		if err := s.store.Delete(ctx, key, userID); err != nil {
			s.log.Warn("idempotency delete failed, proceeding unprotected",
				zap.String("key", key), zap.Error(err))
			return Decision{Outcome: Proceed}
		}
		if inserted, err := s.store.Insert(ctx, rec); err != nil || !inserted {
			// Lost the re-claim race to a concurrent retry.
			return Decision{Outcome: DuplicateInFlight}
		}
		return Decision{Outcome: Proceed}

	case existing.Status == models.IdempotencyStatusCompleted:
		status := 200
		if existing.ResponseStatus != nil {
			status = *existing.ResponseStatus
		}
		return Decision{
			Outcome:        DuplicateCompleted,
			ResponseStatus: status,
			ResponseBody:   existing.ResponseBody,
		}

	default:
		return Decision{Outcome: DuplicateInFlight}
	}
}

// Complete records the outcome of the operation the key guarded. Best
// effort: a write failure here loses replay caching, not correctness.
func (s *IdempotencyService) Complete(ctx context.Context, key string, userID uuid.UUID, ok bool, responseStatus int, responseBody []byte) {
	status := models.IdempotencyStatusCompleted
	if !ok {
		status = models.IdempotencyStatusFailed
	}
	if err := s.store.Complete(ctx, key, userID, status, responseStatus, responseBody); err != nil {
		s.log.Warn("idempotency complete failed",
			zap.String("key", key), zap.Error(err))
	}
}
