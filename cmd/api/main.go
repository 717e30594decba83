package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/finovatepay/backend/internal/config"
	"github.com/finovatepay/backend/internal/db"
	"github.com/finovatepay/backend/internal/events"
	apphttp "github.com/finovatepay/backend/internal/http"
	"github.com/finovatepay/backend/internal/http/handlers"
	"github.com/finovatepay/backend/internal/ledger"
	"github.com/finovatepay/backend/internal/repositories"
	"github.com/finovatepay/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Ledger
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

	// Repositories
	invoiceRepo := repositories.NewInvoiceRepo(pool)
	settlementRepo := repositories.NewSettlementRepo(pool)
	transactionRepo := repositories.NewTransactionRepo(pool)
	idempotencyRepo := repositories.NewIdempotencyRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	settlementService := services.NewSettlementService(
		settlementRepo, transactionRepo, invoiceRepo, auditRepo,
		ledgerClient, publisher, cfg.ConfirmationTimeout, log)
	invoiceService := services.NewInvoiceService(invoiceRepo, transactionRepo, auditRepo, auditRepo, log)
	idempotencyService := services.NewIdempotencyService(idempotencyRepo, cfg.IdempotencyTTL, log)

	// Handlers
	invoiceHandler := handlers.NewInvoiceHandler(invoiceService, log)
	settlementHandler := handlers.NewSettlementHandler(settlementService, idempotencyService, log)
	auditHandler := handlers.NewAuditHandler(auditRepo, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, invoiceHandler, settlementHandler, auditHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
