package http

import (
	"time"

	"github.com/finovatepay/backend/internal/config"
	"github.com/finovatepay/backend/internal/http/handlers"
	"github.com/finovatepay/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	invoiceHandler *handlers.InvoiceHandler,
	settlementHandler *handlers.SettlementHandler,
	auditHandler *handlers.AuditHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, Idempotency-Key",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Invoices
	protected.Post("/invoices", invoiceHandler.CreateInvoice)
	protected.Get("/invoices", invoiceHandler.ListInvoices)
	protected.Get("/invoices/:id", invoiceHandler.GetInvoice)
	protected.Get("/invoices/:id/transactions", invoiceHandler.ListTransactions)
	protected.Get("/invoices/:id/audit", invoiceHandler.InvoiceAuditTrail)

	// Settlement operations. All accept an Idempotency-Key header.
	protected.Post("/invoices/:id/escrow/deposit", settlementHandler.Deposit)
	protected.Post("/invoices/:id/escrow/confirm-shipment", settlementHandler.ConfirmShipment)
	protected.Post("/invoices/:id/escrow/release", settlementHandler.Release)
	protected.Post("/invoices/:id/escrow/dispute", settlementHandler.Dispute)
	protected.Post("/invoices/:id/escrow/resolve", settlementHandler.Resolve)
	protected.Post("/invoices/:id/escrow/cancel", settlementHandler.Cancel)

	// Audit query surface
	protected.Get("/audit", auditHandler.Query)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
