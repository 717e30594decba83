package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finovatepay/backend/internal/config"
	"github.com/finovatepay/backend/internal/db"
	"github.com/finovatepay/backend/internal/events"
	"github.com/finovatepay/backend/internal/ledger"
	"github.com/finovatepay/backend/internal/repositories"
	"github.com/finovatepay/backend/internal/services"
	"github.com/finovatepay/backend/internal/syncer"
	"go.uber.org/zap"
)

// chain-syncer runs the background side of settlement: the contract event
// sync streams, the pending-transaction reconciler and idempotency-key
// retention.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	ledgerClient, err := ledger.NewEVMClient(ctx, ledger.EVMClientConfig{
		RPCURL:             cfg.ChainRPCURL,
		ChainID:            cfg.ChainID,
		ContractAddress:    cfg.EscrowContractAddress,
		OperatorPrivateKey: cfg.OperatorPrivateKey,
		ConfirmationPoll:   cfg.ConfirmationPoll,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to chain rpc", zap.Error(err))
	}

	invoiceRepo := repositories.NewInvoiceRepo(pool)
	settlementRepo := repositories.NewSettlementRepo(pool)
	transactionRepo := repositories.NewTransactionRepo(pool)
	idempotencyRepo := repositories.NewIdempotencyRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	eventSyncRepo := repositories.NewEventSyncRepo(pool)

	publisher := events.NewRedisPublisher(rdb, log)

	settlementService := services.NewSettlementService(
		settlementRepo, transactionRepo, invoiceRepo, auditRepo,
		ledgerClient, publisher, cfg.ConfirmationTimeout, log)

	worker := syncer.NewWorker(ledgerClient, eventSyncRepo, publisher,
		cfg.SyncPollInterval, cfg.SyncMaxBackoff, log)

	if cps, err := eventSyncRepo.Checkpoints(ctx); err != nil {
		log.Warn("failed to read sync checkpoints", zap.Error(err))
	} else {
		for _, cp := range cps {
			log.Info("event stream resumes",
				zap.String("event_type", cp.EventType),
				zap.Uint64("last_processed_block", cp.LastProcessedBlock))
		}
	}

	go func() {
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := settlementService.ReconcilePending(ctx, cfg.ReconcileAfter, 100); err != nil {
					log.Error("reconcile pass failed", zap.Error(err))
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := idempotencyRepo.PurgeExpired(ctx, time.Now())
				if err != nil {
					log.Error("idempotency purge failed", zap.Error(err))
				} else if n > 0 {
					log.Info("purged expired idempotency keys", zap.Int64("count", n))
				}
			}
		}
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	log.Info("chain syncer started")
	worker.Run(ctx)
	log.Info("chain syncer stopped")
}
