package handlers

import (
	"github.com/finovatepay/backend/internal/http/dto"
	"github.com/finovatepay/backend/internal/middleware"
	"github.com/finovatepay/backend/internal/repositories"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AuditHandler struct {
	auditRepo *repositories.AuditRepo
	log       *zap.Logger
}

func NewAuditHandler(auditRepo *repositories.AuditRepo, log *zap.Logger) *AuditHandler {
	return &AuditHandler{auditRepo: auditRepo, log: log}
}

// Query returns audit entries for one entity, newest first.
func (h *AuditHandler) Query(c *fiber.Ctx) error {
	entityType := c.Query("entity_type")
	if entityType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "entity_type is required", RequestID: middleware.GetRequestID(c)})
	}
	entityID, err := uuid.Parse(c.Query("entity_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid entity_id", RequestID: middleware.GetRequestID(c)})
	}

	entries, err := h.auditRepo.GetByEntity(c.Context(), entityType, entityID, queryInt(c, "limit", 50), queryInt(c, "offset", 0))
	if err != nil {
		h.log.Error("audit query failed",
			zap.String("request_id", middleware.GetRequestID(c)), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error", RequestID: middleware.GetRequestID(c)})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}
