package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finovatepay/backend/internal/events"
	"github.com/finovatepay/backend/internal/ledger"
	"github.com/finovatepay/backend/internal/models"
	"github.com/finovatepay/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actor identifies who initiated a settlement operation. Authorization
// itself is the routing layer's concern; the actor is carried for auditing.
type Actor struct {
	UserID    uuid.UUID
	Address   string
	Type      string // user/system/chain
	RequestIP *string
	UserAgent *string
}

// SettlementStore is the transactional protocol around an invoice row:
// the two short row-locking transactions of a settlement attempt.
type SettlementStore interface {
	PrepareTransition(ctx context.Context, p repositories.PrepareTransitionParams) (*repositories.PreparedTransition, error)
	CommitTransition(ctx context.Context, p repositories.CommitTransitionParams) error
	CommitLocalTransition(ctx context.Context, invoiceID uuid.UUID, expectedStatus, targetStatus string) error
}

type TransactionStore interface {
	SetHash(ctx context.Context, id uuid.UUID, txHash string) error
	Finalize(ctx context.Context, id uuid.UUID, status string, txHash, failureReason *string) error
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.FinancialTransaction, error)
}

type InvoiceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
}

type AuditSink interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// Target escrow status reached when a financial transaction type confirms.
var txTargets = map[string]string{
	models.TxTypeEscrowDeposit:  models.EscrowStatusDeposited,
	models.TxTypeEscrowShipment: models.EscrowStatusShipped,
	models.TxTypeEscrowRelease:  models.EscrowStatusReleased,
	models.TxTypeEscrowDispute:  models.EscrowStatusDisputed,
	models.TxTypeEscrowRefund:   models.EscrowStatusCancelled,
}

type SettlementResult struct {
	InvoiceID     uuid.UUID `json:"invoice_id"`
	OldStatus     string    `json:"old_status"`
	NewStatus     string    `json:"new_status"`
	TxHash        string    `json:"tx_hash,omitempty"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Pending       bool      `json:"pending,omitempty"`
}

type SettlementService struct {
	store          SettlementStore
	txStore        TransactionStore
	invoices       InvoiceStore
	auditRepo      AuditSink
	ledger         ledger.Client
	publisher      events.Publisher
	confirmTimeout time.Duration
	log            *zap.Logger
}

func NewSettlementService(
	store SettlementStore,
	txStore TransactionStore,
	invoices InvoiceStore,
	auditRepo AuditSink,
	ledgerClient ledger.Client,
	publisher events.Publisher,
	confirmTimeout time.Duration,
	log *zap.Logger,
) *SettlementService {
	if confirmTimeout <= 0 {
		confirmTimeout = 90 * time.Second
	}
	return &SettlementService{
		store:          store,
		txStore:        txStore,
		invoices:       invoices,
		auditRepo:      auditRepo,
		ledger:         ledgerClient,
		publisher:      publisher,
		confirmTimeout: confirmTimeout,
		log:            log,
	}
}

// RecordDeposit moves a created invoice to deposited once the buyer's escrow
// deposit lands on the ledger.
func (s *SettlementService) RecordDeposit(ctx context.Context, invoiceID uuid.UUID, actor Actor) (*SettlementResult, error) {
	return s.execute(ctx, transitionRequest{
		invoiceID:   invoiceID,
		actor:       actor,
		action:      ledger.ActionDeposit,
		txType:      models.TxTypeEscrowDeposit,
		target:      models.EscrowStatusDeposited,
		auditAction: "escrow_deposit",
	})
}

// ConfirmShipment records the seller's shipment proof on chain.
func (s *SettlementService) ConfirmShipment(ctx context.Context, invoiceID uuid.UUID, actor Actor) (*SettlementResult, error) {
	return s.execute(ctx, transitionRequest{
		invoiceID:   invoiceID,
		actor:       actor,
		action:      ledger.ActionConfirmShipment,
		txType:      models.TxTypeEscrowShipment,
		target:      models.EscrowStatusShipped,
		auditAction: "escrow_confirm_shipment",
	})
}

// ReleaseFunds pays the seller out of escrow. Requires deposited or shipped.
func (s *SettlementService) ReleaseFunds(ctx context.Context, invoiceID uuid.UUID, actor Actor) (*SettlementResult, error) {
	return s.execute(ctx, transitionRequest{
		invoiceID:   invoiceID,
		actor:       actor,
		action:      ledger.ActionRelease,
		txType:      models.TxTypeEscrowRelease,
		target:      models.EscrowStatusReleased,
		auditAction: "escrow_release",
	})
}

// RaiseDispute freezes the escrow pending arbitration.
func (s *SettlementService) RaiseDispute(ctx context.Context, invoiceID uuid.UUID, actor Actor, reason string) (*SettlementResult, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", ErrValidation)
	}
	return s.execute(ctx, transitionRequest{
		invoiceID:   invoiceID,
		actor:       actor,
		action:      ledger.ActionDispute,
		txType:      models.TxTypeEscrowDispute,
		target:      models.EscrowStatusDisputed,
		reason:      &reason,
		auditAction: "escrow_raise_dispute",
	})
}

// ResolveDispute applies an externally arbitrated outcome: release the
// escrow to the seller or refund the buyer and cancel.
func (s *SettlementService) ResolveDispute(ctx context.Context, invoiceID uuid.UUID, actor Actor, release bool) (*SettlementResult, error) {
	req := transitionRequest{
		invoiceID:   invoiceID,
		actor:       actor,
		action:      ledger.ActionRelease,
		txType:      models.TxTypeEscrowRelease,
		target:      models.EscrowStatusReleased,
		auditAction: "escrow_resolve_dispute",
	}
	if !release {
		req.action = ledger.ActionRefund
		req.txType = models.TxTypeEscrowRefund
		req.target = models.EscrowStatusCancelled
	}
	return s.execute(ctx, req)
}

// CancelInvoice cancels an invoice. Before any deposit this is a pure
// database transition; once funds are escrowed it becomes an on-chain
// refund.
func (s *SettlementService) CancelInvoice(ctx context.Context, invoiceID uuid.UUID, actor Actor) (*SettlementResult, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	if inv.EscrowStatus == models.EscrowStatusCreated {
		if err := s.store.CommitLocalTransition(ctx, invoiceID, models.EscrowStatusCreated, models.EscrowStatusCancelled); err != nil {
			s.auditTransition(ctx, "invoice_cancel", inv, actor, models.AuditStatusFailure, nil, err)
			return nil, mapStoreErr(err)
		}
		s.auditStatusChange(ctx, "invoice_cancel", inv, actor, models.EscrowStatusCancelled, "")
		s.publishStatusChange(ctx, inv.ID, inv.EscrowStatus, models.EscrowStatusCancelled, "")
		return &SettlementResult{
			InvoiceID: inv.ID,
			OldStatus: inv.EscrowStatus,
			NewStatus: models.EscrowStatusCancelled,
		}, nil
	}

	return s.execute(ctx, transitionRequest{
		invoiceID:   invoiceID,
		actor:       actor,
		action:      ledger.ActionRefund,
		txType:      models.TxTypeEscrowRefund,
		target:      models.EscrowStatusCancelled,
		auditAction: "invoice_cancel",
	})
}

type transitionRequest struct {
	invoiceID   uuid.UUID
	actor       Actor
	action      ledger.Action
	txType      string
	target      string
	reason      *string
	auditAction string
}

// execute runs the settlement protocol: a short locking transaction that
// validates the transition and records a PENDING financial transaction, the
// external ledger call with no lock held, then a second short transaction
// with an optimistic guard that applies the transition.
func (s *SettlementService) execute(ctx context.Context, req transitionRequest) (*SettlementResult, error) {
	prepared, err := s.store.PrepareTransition(ctx, repositories.PrepareTransitionParams{
		InvoiceID:    req.invoiceID,
		TargetStatus: req.target,
		TxType:       req.txType,
		InitiatorID:  &req.actor.UserID,
		Metadata:     map[string]any{"action": string(req.action)},
	})
	if err != nil {
		s.auditTransition(ctx, req.auditAction, nil, req.actor, models.AuditStatusFailure, nil, err)
		return nil, mapStoreErr(err)
	}
	inv := &prepared.Invoice

	var reason string
	if req.reason != nil {
		reason = *req.reason
	}
	txHash, err := s.ledger.Submit(ctx, req.action, ledger.SubmitParams{InvoiceID: inv.ID, Reason: reason})
	if err != nil {
		s.failTransaction(ctx, prepared.TransactionID, nil, "ledger submission failed: "+err.Error())
		s.auditTransition(ctx, req.auditAction, inv, req.actor, models.AuditStatusFailure, nil, err)
		s.publishSettlementFailed(ctx, inv.ID, req.txType, "", "ledger submission failed")
		return nil, fmt.Errorf("%w: %v", ErrLedgerFailure, err)
	}

	// Persist the hash while still PENDING so a crash or timeout from here
	// on leaves enough for the reconciler to resolve the attempt.
	if err := s.txStore.SetHash(ctx, prepared.TransactionID, txHash); err != nil {
		s.log.Error("failed to store tx hash on pending transaction",
			zap.String("transaction_id", prepared.TransactionID.String()), zap.Error(err))
	}

	confirmCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	conf, err := s.ledger.WaitForConfirmation(confirmCtx, txHash)
	cancel()
	if err != nil {
		// The submission may still land; never retry it here. The
		// transaction stays PENDING for the reconciler or event sync.
		s.auditTransition(ctx, req.auditAction, inv, req.actor, models.AuditStatusFailure, &txHash, err)
		return &SettlementResult{
			InvoiceID:     inv.ID,
			OldStatus:     inv.EscrowStatus,
			NewStatus:     inv.EscrowStatus,
			TxHash:        txHash,
			TransactionID: prepared.TransactionID,
			Pending:       true,
		}, fmt.Errorf("%w: tx %s", ErrConfirmationPending, txHash)
	}
	if !conf.Success {
		s.failTransaction(ctx, prepared.TransactionID, &txHash, "transaction reverted on ledger")
		s.auditTransition(ctx, req.auditAction, inv, req.actor, models.AuditStatusFailure, &txHash,
			fmt.Errorf("transaction %s reverted", txHash))
		s.publishSettlementFailed(ctx, inv.ID, req.txType, txHash, "transaction reverted on ledger")
		return nil, fmt.Errorf("%w: transaction %s reverted", ErrLedgerFailure, txHash)
	}

	err = s.store.CommitTransition(ctx, repositories.CommitTransitionParams{
		InvoiceID:      inv.ID,
		ExpectedStatus: inv.EscrowStatus,
		TargetStatus:   req.target,
		TxType:         req.txType,
		TxHash:         txHash,
		TransactionID:  prepared.TransactionID,
		DisputeReason:  req.reason,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrStateConflict) {
			// Another actor already moved the invoice. The external call is
			// spent and immutable; record the loss, surface the conflict.
			s.failTransaction(ctx, prepared.TransactionID, &txHash, "superseded by concurrent transition")
			s.auditTransition(ctx, req.auditAction, inv, req.actor, models.AuditStatusFailure, &txHash, err)
			s.publishSettlementFailed(ctx, inv.ID, req.txType, txHash, "superseded by concurrent transition")
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		s.auditTransition(ctx, req.auditAction, inv, req.actor, models.AuditStatusFailure, &txHash, err)
		return nil, err
	}

	s.auditStatusChange(ctx, req.auditAction, inv, req.actor, req.target, txHash)
	s.publishStatusChange(ctx, inv.ID, inv.EscrowStatus, req.target, txHash)

	return &SettlementResult{
		InvoiceID:     inv.ID,
		OldStatus:     inv.EscrowStatus,
		NewStatus:     req.target,
		TxHash:        txHash,
		TransactionID: prepared.TransactionID,
	}, nil
}

func (s *SettlementService) failTransaction(ctx context.Context, id uuid.UUID, txHash *string, reason string) {
	if err := s.txStore.Finalize(ctx, id, models.TxStatusFailed, txHash, &reason); err != nil {
		s.log.Error("failed to mark financial transaction failed",
			zap.String("transaction_id", id.String()), zap.Error(err))
	}
}

// auditStatusChange records a successful transition with before/after
// snapshots. Best-effort: audit failures go to the log, never to callers.
func (s *SettlementService) auditStatusChange(ctx context.Context, action string, inv *models.Invoice, actor Actor, newStatus, txHash string) {
	entry := models.AuditLog{
		Action:       action,
		EntityType:   "invoice",
		EntityID:     &inv.ID,
		ActorUserID:  &actor.UserID,
		ActorType:    actorType(actor),
		Status:       models.AuditStatusSuccess,
		BeforeState:  map[string]any{"escrow_status": inv.EscrowStatus},
		AfterState:   map[string]any{"escrow_status": newStatus},
		RequestIP:    actor.RequestIP,
		UserAgent:    actor.UserAgent,
	}
	if actor.Address != "" {
		entry.ActorAddress = &actor.Address
	}
	if txHash != "" {
		entry.Meta = map[string]any{"tx_hash": txHash}
	}
	s.audit(ctx, entry)
}

func (s *SettlementService) auditTransition(ctx context.Context, action string, inv *models.Invoice, actor Actor, status string, txHash *string, opErr error) {
	entry := models.AuditLog{
		Action:      action,
		EntityType:  "invoice",
		ActorUserID: &actor.UserID,
		ActorType:   actorType(actor),
		Status:      status,
		RequestIP:   actor.RequestIP,
		UserAgent:   actor.UserAgent,
	}
	if inv != nil {
		entry.EntityID = &inv.ID
		entry.BeforeState = map[string]any{"escrow_status": inv.EscrowStatus}
	}
	if actor.Address != "" {
		entry.ActorAddress = &actor.Address
	}
	if txHash != nil {
		entry.Meta = map[string]any{"tx_hash": *txHash}
	}
	if opErr != nil {
		msg := opErr.Error()
		entry.ErrorMessage = &msg
	}
	s.audit(ctx, entry)
}

func (s *SettlementService) audit(ctx context.Context, entry models.AuditLog) {
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		s.log.Error("audit write failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

// publishSettlementFailed tells invoice subscribers that an attempt died
// without moving the escrow, so UIs can stop showing it as in flight.
func (s *SettlementService) publishSettlementFailed(ctx context.Context, invoiceID uuid.UUID, txType, txHash, reason string) {
	payload := map[string]any{
		"invoice_id": invoiceID.String(),
		"tx_type":    txType,
		"reason":     reason,
	}
	if txHash != "" {
		payload["tx_hash"] = txHash
	}
	_ = s.publisher.Publish(ctx, events.InvoiceTopic(invoiceID), events.Event{
		Type:    events.EventSettlementFailed,
		Payload: payload,
	})
}

func (s *SettlementService) publishStatusChange(ctx context.Context, invoiceID uuid.UUID, oldStatus, newStatus, txHash string) {
	_ = s.publisher.Publish(ctx, events.InvoiceTopic(invoiceID), events.Event{
		Type: events.EventEscrowStatusChanged,
		Payload: map[string]any{
			"invoice_id": invoiceID.String(),
			"old_status": oldStatus,
			"new_status": newStatus,
			"tx_hash":    txHash,
		},
	})
}

func actorType(a Actor) string {
	if a.Type == "" {
		return "user"
	}
	return a.Type
}
