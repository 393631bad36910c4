package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/hub"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/repository"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
)

type invoiceRepository interface {
	CreateForCourse(ctx context.Context, courseID string, invoiceDate time.Time, dueDays int) (*models.Invoice, error)
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	FindByCourseID(ctx context.Context, courseID string) (*models.Invoice, error)
	ListDetail(ctx context.Context, organizationID string, page, size int) ([]models.InvoiceDetail, int, error)
	AddPayment(ctx context.Context, payment *models.Payment) error
	ListPayments(ctx context.Context, invoiceID string) ([]models.Payment, error)
	ConfirmPaid(ctx context.Context, id string, when time.Time) (bool, error)
}

// invoiceNotifier runs the post-invoice delivery side effect outside the
// billing transaction. A delivery failure never rolls back the transition.
type invoiceNotifier interface {
	InvoiceCreated(invoice models.Invoice)
}

// RecordPaymentRequest describes a payment payload.
type RecordPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	PaidOn    time.Time       `json:"paid_on" validate:"required"`
	Method    string          `json:"method" validate:"required"`
	Reference string          `json:"reference"`
}

// BillingService owns the monetary side of the lifecycle: invoice creation,
// payments and the explicit paid confirmation.
type BillingService struct {
	invoices    invoiceRepository
	notifier    invoiceNotifier
	broadcaster hub.Broadcaster
	metrics     *MetricsService
	dueDays     int
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewBillingService constructs BillingService. metrics may be nil.
func NewBillingService(invoices invoiceRepository, notifier invoiceNotifier, broadcaster hub.Broadcaster, metrics *MetricsService, dueDays int, validate *validator.Validate, logger *zap.Logger) *BillingService {
	if dueDays <= 0 {
		dueDays = 30
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BillingService{invoices: invoices, notifier: notifier, broadcaster: broadcaster, metrics: metrics, dueDays: dueDays, validator: validate, logger: logger}
}

// CreateInvoice bills a BillingReady course. Amount and attendance count are
// frozen inside the repository transaction; re-attempting on an already
// invoiced course reports Conflict rather than double-billing.
func (s *BillingService) CreateInvoice(ctx context.Context, actor models.Actor, courseID string) (*models.Invoice, error) {
	if err := requireRoles(actor, models.RoleAccounting, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	invoice, err := s.invoices.CreateForCourse(ctx, courseID, time.Now().UTC(), s.dueDays)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		case errors.Is(err, repository.ErrStatusConflict):
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only a BillingReady course can be invoiced")
		case errors.Is(err, repository.ErrNoPricingRule):
			return nil, appErrors.Clone(appErrors.ErrMissingPricingRule,
				"no pricing rule exists for this organization and course type - add one before invoicing")
		case errors.Is(err, repository.ErrDuplicateInvoice):
			return nil, appErrors.Clone(appErrors.ErrConflict, "course is already invoiced")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create invoice")
		}
	}
	s.metrics.RecordInvoiceIssued()
	s.metrics.RecordTransition(string(models.CourseStatusInvoiced))

	if s.broadcaster != nil {
		s.broadcaster.Broadcast(models.NewEvent(models.EventInvoiceCreated, map[string]interface{}{
			"course_id":      invoice.CourseID,
			"invoice_id":     invoice.ID,
			"invoice_number": invoice.InvoiceNumber,
			"amount":         invoice.Amount,
		}))
	}
	if s.notifier != nil {
		s.notifier.InvoiceCreated(*invoice)
	}
	return invoice, nil
}

// GetInvoice returns a single invoice.
func (s *BillingService) GetInvoice(ctx context.Context, actor models.Actor, id string) (*models.Invoice, error) {
	if err := requireRoles(actor, models.RoleAccounting, models.RoleAdmin, models.RoleSuperAdmin, models.RoleOrganization); err != nil {
		return nil, err
	}
	invoice, err := s.invoices.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	return invoice, nil
}

// ListInvoices returns invoices with derived payment status. Organizations
// only see their own invoices.
func (s *BillingService) ListInvoices(ctx context.Context, actor models.Actor, organizationID string, page, size int) ([]models.InvoiceDetail, *models.Pagination, error) {
	if err := requireRoles(actor, models.RoleAccounting, models.RoleAdmin, models.RoleSuperAdmin, models.RoleOrganization); err != nil {
		return nil, nil, err
	}
	if actor.Role == models.RoleOrganization {
		organizationID = actor.OrganizationID
	}
	start := time.Now()
	invoices, total, err := s.invoices.ListDetail(ctx, organizationID, page, size)
	s.metrics.ObserveDBQuery("invoice_list", time.Since(start))
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list invoices")
	}
	now := time.Now().UTC()
	for i := range invoices {
		invoices[i].DerivedStatus = invoices[i].Status(now)
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	return invoices, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// RecordPayment registers a (possibly partial) payment against an invoice.
// It never changes the invoice status: Paid requires explicit confirmation.
func (s *BillingService) RecordPayment(ctx context.Context, actor models.Actor, invoiceID string, req RecordPaymentRequest) (*models.Payment, error) {
	if err := requireRoles(actor, models.RoleAccounting, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if req.Amount.Sign() <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}

	invoice, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	if invoice.Voided {
		return nil, appErrors.Clone(appErrors.ErrConflict, "invoice is voided")
	}

	payment := &models.Payment{
		InvoiceID: invoice.ID,
		Amount:    req.Amount,
		PaidOn:    req.PaidOn,
		Method:    req.Method,
		Reference: req.Reference,
	}
	if err := s.invoices.AddPayment(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	return payment, nil
}

// ListPayments returns payments for an invoice.
func (s *BillingService) ListPayments(ctx context.Context, actor models.Actor, invoiceID string) ([]models.Payment, error) {
	if err := requireRoles(actor, models.RoleAccounting, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	payments, err := s.invoices.ListPayments(ctx, invoiceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, nil
}

// ConfirmPaid marks the invoice paid on explicit accounting action.
func (s *BillingService) ConfirmPaid(ctx context.Context, actor models.Actor, invoiceID string) (*models.Invoice, error) {
	if err := requireRoles(actor, models.RoleAccounting, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	ok, err := s.invoices.ConfirmPaid(ctx, invoiceID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm payment")
	}
	if !ok {
		invoice, err := s.invoices.FindByID(ctx, invoiceID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
		}
		if invoice.PaidAt != nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, "invoice is already confirmed paid")
		}
		return nil, appErrors.Clone(appErrors.ErrConflict, "invoice cannot be confirmed")
	}
	invoice, err := s.invoices.FindByID(ctx, invoiceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	return invoice, nil
}
