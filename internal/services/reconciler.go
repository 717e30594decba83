package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/finovatepay/backend/internal/models"
	"github.com/finovatepay/backend/internal/repositories"
)

const reconcileConfirmWait = 15 * time.Second

// ReconcilePending resolves financial transactions left PENDING by a crash
// or confirmation timeout. An attempt that never produced a hash cannot be
// on chain and is failed; a hashed attempt is re-checked against the ledger
// and the invoice brought in line with whatever actually happened.
func (s *SettlementService) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) error {
	stale, err := s.txStore.ListStalePending(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		return err
	}
	for _, tx := range stale {
		if err := s.reconcileOne(ctx, tx); err != nil {
			s.log.Warn("reconcile attempt failed",
				zap.String("transaction_id", tx.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (s *SettlementService) reconcileOne(ctx context.Context, tx models.FinancialTransaction) error {
	if tx.TxHash == nil {
		reason := "submission never reached the ledger"
		return s.txStore.Finalize(ctx, tx.ID, models.TxStatusFailed, nil, &reason)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, reconcileConfirmWait)
	conf, err := s.ledger.WaitForConfirmation(confirmCtx, *tx.TxHash)
	cancel()
	if err != nil {
		// Still unconfirmed. Leave it for the next pass.
		return nil
	}
	if !conf.Success {
		reason := "transaction reverted on ledger"
		if tx.InvoiceID != nil {
			s.publishSettlementFailed(ctx, *tx.InvoiceID, tx.TxType, *tx.TxHash, reason)
		}
		return s.txStore.Finalize(ctx, tx.ID, models.TxStatusFailed, tx.TxHash, &reason)
	}

	if tx.InvoiceID == nil {
		return s.txStore.Finalize(ctx, tx.ID, models.TxStatusConfirmed, tx.TxHash, nil)
	}
	inv, err := s.invoices.GetByID(ctx, *tx.InvoiceID)
	if err != nil {
		return err
	}

	target, ok := txTargets[tx.TxType]
	if !ok || inv.EscrowStatus == target {
		// Event sync or a duplicate attempt already moved the invoice;
		// only the transaction row needs closing out.
		return s.txStore.Finalize(ctx, tx.ID, models.TxStatusConfirmed, tx.TxHash, nil)
	}

	if !models.IsValidEscrowTransition(inv.EscrowStatus, target) {
		reason := "confirmed on ledger but invoice moved past " + target
		return s.txStore.Finalize(ctx, tx.ID, models.TxStatusFailed, tx.TxHash, &reason)
	}

	err = s.store.CommitTransition(ctx, repositories.CommitTransitionParams{
		InvoiceID:      inv.ID,
		ExpectedStatus: inv.EscrowStatus,
		TargetStatus:   target,
		TxType:         tx.TxType,
		TxHash:         *tx.TxHash,
		TransactionID:  tx.ID,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrStateConflict) {
			// Raced with another writer; retry on the next pass.
			return nil
		}
		return err
	}

	s.log.Info("reconciled pending settlement",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("tx_type", tx.TxType),
		zap.String("new_status", target))
	s.publishStatusChange(ctx, inv.ID, inv.EscrowStatus, target, *tx.TxHash)
	return nil
}
