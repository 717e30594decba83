package handlers

import (
	"strconv"

	"github.com/finovatepay/backend/internal/http/dto"
	"github.com/finovatepay/backend/internal/middleware"
	"github.com/finovatepay/backend/internal/repositories"
	"github.com/finovatepay/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type InvoiceHandler struct {
	invoiceService *services.InvoiceService
	log            *zap.Logger
}

func NewInvoiceHandler(invoiceService *services.InvoiceService, log *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{invoiceService: invoiceService, log: log}
}

func (h *InvoiceHandler) CreateInvoice(c *fiber.Ctx) error {
	var req dto.CreateInvoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badRequest(c, "invalid request")
	}

	sellerID, err := uuid.Parse(req.SellerUserID)
	if err != nil {
		return h.badRequest(c, "invalid seller_user_id")
	}
	buyerID, err := uuid.Parse(req.BuyerUserID)
	if err != nil {
		return h.badRequest(c, "invalid buyer_user_id")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return h.badRequest(c, "invalid amount")
	}

	inv, err := h.invoiceService.Create(c.Context(), services.CreateInvoiceParams{
		InvoiceNumber: req.InvoiceNumber,
		SellerUserID:  sellerID,
		BuyerUserID:   buyerID,
		SellerAddress: req.SellerAddress,
		BuyerAddress:  req.BuyerAddress,
		Amount:        amount,
		Currency:      req.Currency,
	}, actorFromCtx(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: inv})
}

func (h *InvoiceHandler) GetInvoice(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return h.badRequest(c, "invalid invoice id")
	}

	inv, err := h.invoiceService.Get(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: inv})
}

func (h *InvoiceHandler) ListInvoices(c *fiber.Ctx) error {
	filter := repositories.InvoiceFilter{
		Limit:  queryInt(c, "limit", 20),
		Offset: queryInt(c, "offset", 0),
	}
	if v := c.Query("status"); v != "" {
		filter.EscrowStatus = &v
	}
	switch c.Query("role") {
	case "seller":
		id := middleware.GetUserID(c)
		filter.SellerUserID = &id
	case "buyer":
		id := middleware.GetUserID(c)
		filter.BuyerUserID = &id
	}

	invoices, err := h.invoiceService.List(c.Context(), filter)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: invoices})
}

// ListTransactions returns the invoice's financial transaction trail,
// newest first, including failed attempts.
func (h *InvoiceHandler) ListTransactions(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return h.badRequest(c, "invalid invoice id")
	}

	txs, err := h.invoiceService.Transactions(c.Context(), id)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: txs})
}

func (h *InvoiceHandler) InvoiceAuditTrail(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return h.badRequest(c, "invalid invoice id")
	}

	entries, err := h.invoiceService.AuditTrail(c.Context(), id, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *InvoiceHandler) badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.GetRequestID(c)})
}

func (h *InvoiceHandler) fail(c *fiber.Ctx, err error) error {
	status := statusFromErr(err)
	if status >= fiber.StatusInternalServerError {
		h.log.Error("invoice request failed",
			zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(c)})
}

func queryInt(c *fiber.Ctx, name string, fallback int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
