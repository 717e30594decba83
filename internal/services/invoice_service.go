package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/finovatepay/backend/internal/models"
	"github.com/finovatepay/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceFullStore interface {
	Create(ctx context.Context, inv *models.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	List(ctx context.Context, f repositories.InvoiceFilter) ([]models.Invoice, error)
}

type TransactionReader interface {
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]models.FinancialTransaction, error)
}

type AuditReader interface {
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

type InvoiceService struct {
	invoices  InvoiceFullStore
	txReader  TransactionReader
	audits    AuditReader
	auditSink AuditSink
	log       *zap.Logger
}

func NewInvoiceService(invoices InvoiceFullStore, txReader TransactionReader, audits AuditReader, auditSink AuditSink, log *zap.Logger) *InvoiceService {
	return &InvoiceService{
		invoices:  invoices,
		txReader:  txReader,
		audits:    audits,
		auditSink: auditSink,
		log:       log,
	}
}

type CreateInvoiceParams struct {
	InvoiceNumber string
	SellerUserID  uuid.UUID
	BuyerUserID   uuid.UUID
	SellerAddress string
	BuyerAddress  string
	Amount        decimal.Decimal
	Currency      string
}

func (s *InvoiceService) Create(ctx context.Context, p CreateInvoiceParams, actor Actor) (*models.Invoice, error) {
	if p.InvoiceNumber == "" {
		return nil, fmt.Errorf("%w: invoice number is required", ErrValidation)
	}
	if p.SellerUserID == uuid.Nil || p.BuyerUserID == uuid.Nil {
		return nil, fmt.Errorf("%w: seller and buyer are required", ErrValidation)
	}
	if p.SellerUserID == p.BuyerUserID {
		return nil, fmt.Errorf("%w: seller and buyer must differ", ErrValidation)
	}
	if !p.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if p.Currency == "" {
		p.Currency = "USDC"
	}

	inv := &models.Invoice{
		InvoiceNumber: p.InvoiceNumber,
		SellerUserID:  p.SellerUserID,
		BuyerUserID:   p.BuyerUserID,
		SellerAddress: strings.ToLower(p.SellerAddress),
		BuyerAddress:  strings.ToLower(p.BuyerAddress),
		Amount:        p.Amount,
		Currency:      p.Currency,
		EscrowStatus:  models.EscrowStatusCreated,
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, mapStoreErr(err)
	}

	entry := models.AuditLog{
		Action:      "invoice_created",
		EntityType:  "invoice",
		EntityID:    &inv.ID,
		ActorUserID: &actor.UserID,
		ActorType:   actorType(actor),
		Status:      models.AuditStatusSuccess,
		AfterState:  map[string]any{"escrow_status": inv.EscrowStatus, "amount": inv.Amount.String()},
		RequestIP:   actor.RequestIP,
		UserAgent:   actor.UserAgent,
	}
	if err := s.auditSink.Log(ctx, entry); err != nil {
		s.log.Error("audit write failed", zap.String("action", entry.Action), zap.Error(err))
	}
	return inv, nil
}

func (s *InvoiceService) Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return inv, nil
}

func (s *InvoiceService) List(ctx context.Context, f repositories.InvoiceFilter) ([]models.Invoice, error) {
	return s.invoices.List(ctx, f)
}

// Transactions returns the financial transaction trail for one invoice,
// newest first.
func (s *InvoiceService) Transactions(ctx context.Context, invoiceID uuid.UUID) ([]models.FinancialTransaction, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, mapStoreErr(err)
	}
	return s.txReader.ListByInvoice(ctx, invoiceID)
}

// AuditTrail returns the audit entries recorded against one invoice.
func (s *InvoiceService) AuditTrail(ctx context.Context, invoiceID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, mapStoreErr(err)
	}
	return s.audits.GetByEntity(ctx, "invoice", invoiceID, limit, offset)
}
