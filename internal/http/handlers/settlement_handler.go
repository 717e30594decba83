package handlers

import (
	"encoding/json"
	"errors"

	"github.com/finovatepay/backend/internal/http/dto"
	"github.com/finovatepay/backend/internal/middleware"
	"github.com/finovatepay/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

type SettlementHandler struct {
	settlements *services.SettlementService
	idempotency *services.IdempotencyService
	log         *zap.Logger
}

func NewSettlementHandler(settlements *services.SettlementService, idempotency *services.IdempotencyService, log *zap.Logger) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, idempotency: idempotency, log: log}
}

func (h *SettlementHandler) Deposit(c *fiber.Ctx) error {
	return h.run(c, "escrow_deposit", func(c *fiber.Ctx, id uuid.UUID, actor services.Actor) (*services.SettlementResult, error) {
		return h.settlements.RecordDeposit(c.Context(), id, actor)
	})
}

func (h *SettlementHandler) ConfirmShipment(c *fiber.Ctx) error {
	return h.run(c, "escrow_confirm_shipment", func(c *fiber.Ctx, id uuid.UUID, actor services.Actor) (*services.SettlementResult, error) {
		return h.settlements.ConfirmShipment(c.Context(), id, actor)
	})
}

func (h *SettlementHandler) Release(c *fiber.Ctx) error {
	return h.run(c, "escrow_release", func(c *fiber.Ctx, id uuid.UUID, actor services.Actor) (*services.SettlementResult, error) {
		return h.settlements.ReleaseFunds(c.Context(), id, actor)
	})
}

func (h *SettlementHandler) Dispute(c *fiber.Ctx) error {
	return h.run(c, "escrow_raise_dispute", func(c *fiber.Ctx, id uuid.UUID, actor services.Actor) (*services.SettlementResult, error) {
		var req dto.RaiseDisputeRequest
		if err := c.BodyParser(&req); err != nil {
			return nil, services.ErrValidation
		}
		return h.settlements.RaiseDispute(c.Context(), id, actor, req.Reason)
	})
}

func (h *SettlementHandler) Resolve(c *fiber.Ctx) error {
	return h.run(c, "escrow_resolve_dispute", func(c *fiber.Ctx, id uuid.UUID, actor services.Actor) (*services.SettlementResult, error) {
		var req dto.ResolveDisputeRequest
		if err := c.BodyParser(&req); err != nil {
			return nil, services.ErrValidation
		}
		return h.settlements.ResolveDispute(c.Context(), id, actor, req.Release)
	})
}

func (h *SettlementHandler) Cancel(c *fiber.Ctx) error {
	return h.run(c, "invoice_cancel", func(c *fiber.Ctx, id uuid.UUID, actor services.Actor) (*services.SettlementResult, error) {
		return h.settlements.CancelInvoice(c.Context(), id, actor)
	})
}

// run wraps a settlement operation with idempotency-key handling. When the
// key is present the response status and body are cached and a duplicate
// request replays them verbatim; without a key the request runs unguarded.
func (h *SettlementHandler) run(c *fiber.Ctx, opType string, op func(*fiber.Ctx, uuid.UUID, services.Actor) (*services.SettlementResult, error)) error {
	invoiceID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid invoice id", RequestID: middleware.GetRequestID(c)})
	}
	actor := actorFromCtx(c)

	key := c.Get(idempotencyHeader)
	if key != "" {
		decision := h.idempotency.Begin(c.Context(), key, opType, actor.UserID, c.Body())
		switch decision.Outcome {
		case services.DuplicateCompleted:
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(decision.ResponseStatus).Send(decision.ResponseBody)
		case services.DuplicateInFlight:
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
				Error:     "request with this idempotency key is already in progress",
				RequestID: middleware.GetRequestID(c),
			})
		}
	}

	result, err := op(c, invoiceID, actor)
	status, body := h.settlementResponse(c, result, err)

	if key != "" {
		// 2xx-with-result is the only outcome worth replaying; failures are
		// recorded FAILED so the client may retry with the same key.
		ok := status == fiber.StatusOK
		h.idempotency.Complete(c.Context(), key, actor.UserID, ok, status, body)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(status).Send(body)
}

// settlementResponse maps a service outcome onto a status code and an
// encoded body.
func (h *SettlementHandler) settlementResponse(c *fiber.Ctx, result *services.SettlementResult, err error) (int, []byte) {
	if err == nil {
		body, _ := json.Marshal(dto.SuccessResponse{OK: true, Data: result})
		return fiber.StatusOK, body
	}

	if errors.Is(err, services.ErrConfirmationPending) && result != nil {
		// The submission may still land on chain; the invoice has not moved
		// yet. Clients poll the invoice or listen on the websocket.
		body, _ := json.Marshal(dto.SuccessResponse{OK: false, Data: result})
		return fiber.StatusAccepted, body
	}

	status := statusFromErr(err)
	if status >= fiber.StatusInternalServerError {
		h.log.Error("settlement operation failed",
			zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
	}
	body, _ := json.Marshal(dto.ErrorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(c)})
	return status, body
}

func statusFromErr(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrConflict), errors.Is(err, services.ErrDuplicateRequest):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrConfirmationPending):
		return fiber.StatusAccepted
	case errors.Is(err, services.ErrLedgerFailure):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func actorFromCtx(c *fiber.Ctx) services.Actor {
	ip := c.IP()
	ua := c.Get(fiber.HeaderUserAgent)
	actor := services.Actor{
		UserID:  middleware.GetUserID(c),
		Address: middleware.GetWalletAddress(c),
		Type:    "user",
	}
	if ip != "" {
		actor.RequestIP = &ip
	}
	if ua != "" {
		actor.UserAgent = &ua
	}
	return actor
}
