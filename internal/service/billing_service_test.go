package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/repository"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
)

type mockInvoiceRepo struct {
	invoices    map[string]*models.Invoice
	createErr   error
	created     *models.Invoice
	payments    map[string][]models.Payment
	confirmOK   bool
	listDetail  []models.InvoiceDetail
	listOrgSeen string
}

func (m *mockInvoiceRepo) CreateForCourse(ctx context.Context, courseID string, invoiceDate time.Time, dueDays int) (*models.Invoice, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	inv := &models.Invoice{
		ID:            "inv-1",
		CourseID:      courseID,
		InvoiceNumber: models.InvoiceNumberFor(invoiceDate, courseID),
		Amount:        decimal.RequireFromString("450.00"),
		AttendedCount: 9,
		InvoiceDate:   invoiceDate,
		DueDate:       invoiceDate.AddDate(0, 0, dueDays),
	}
	m.created = inv
	if m.invoices == nil {
		m.invoices = make(map[string]*models.Invoice)
	}
	m.invoices[inv.ID] = inv
	return inv, nil
}

func (m *mockInvoiceRepo) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	if inv, ok := m.invoices[id]; ok {
		cp := *inv
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockInvoiceRepo) FindByCourseID(ctx context.Context, courseID string) (*models.Invoice, error) {
	for _, inv := range m.invoices {
		if inv.CourseID == courseID && !inv.Voided {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockInvoiceRepo) ListDetail(ctx context.Context, organizationID string, page, size int) ([]models.InvoiceDetail, int, error) {
	m.listOrgSeen = organizationID
	return m.listDetail, len(m.listDetail), nil
}

func (m *mockInvoiceRepo) AddPayment(ctx context.Context, payment *models.Payment) error {
	if m.payments == nil {
		m.payments = make(map[string][]models.Payment)
	}
	payment.ID = "p-1"
	m.payments[payment.InvoiceID] = append(m.payments[payment.InvoiceID], *payment)
	return nil
}

func (m *mockInvoiceRepo) ListPayments(ctx context.Context, invoiceID string) ([]models.Payment, error) {
	return m.payments[invoiceID], nil
}

func (m *mockInvoiceRepo) ConfirmPaid(ctx context.Context, id string, when time.Time) (bool, error) {
	inv, ok := m.invoices[id]
	if !ok || !m.confirmOK || inv.PaidAt != nil {
		return false, nil
	}
	inv.PaidAt = &when
	return true, nil
}

type recordingNotifier struct {
	invoices []models.Invoice
}

func (r *recordingNotifier) InvoiceCreated(invoice models.Invoice) {
	r.invoices = append(r.invoices, invoice)
}

func accountingActor() models.Actor {
	return models.Actor{UserID: "acct-1", Role: models.RoleAccounting}
}

func TestBillingServiceCreateInvoice(t *testing.T) {
	repo := &mockInvoiceRepo{}
	notifier := &recordingNotifier{}
	broadcaster := &recordingBroadcaster{}
	svc := NewBillingService(repo, notifier, broadcaster, nil, 30, validator.New(), zap.NewNop())

	invoice, err := svc.CreateInvoice(context.Background(), accountingActor(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", invoice.CourseID)
	assert.Equal(t, invoice.InvoiceDate.AddDate(0, 0, 30), invoice.DueDate)

	require.Len(t, notifier.invoices, 1)
	require.Len(t, broadcaster.broadcast, 1)
	assert.Equal(t, models.EventInvoiceCreated, broadcaster.broadcast[0].Type)
}

func TestBillingServiceCreateInvoiceFeedsMetrics(t *testing.T) {
	metrics := NewMetricsService(nil)
	svc := NewBillingService(&mockInvoiceRepo{}, nil, nil, metrics, 30, validator.New(), zap.NewNop())

	_, err := svc.CreateInvoice(context.Background(), accountingActor(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.invoicesIssued))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitionTotal.WithLabelValues(string(models.CourseStatusInvoiced))))

	svc = NewBillingService(&mockInvoiceRepo{createErr: repository.ErrDuplicateInvoice}, nil, nil, metrics, 30, validator.New(), zap.NewNop())
	_, err = svc.CreateInvoice(context.Background(), accountingActor(), "c-1")
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.invoicesIssued))
}

func TestBillingServiceCreateInvoiceRoleForbidden(t *testing.T) {
	svc := NewBillingService(&mockInvoiceRepo{}, nil, nil, nil, 30, validator.New(), zap.NewNop())

	_, err := svc.CreateInvoice(context.Background(), adminActor(), "c-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBillingServiceCreateInvoiceErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		repoErr  error
		wantCode string
	}{
		{"missing course", sql.ErrNoRows, appErrors.ErrNotFound.Code},
		{"wrong status", repository.ErrStatusConflict, appErrors.ErrInvalidTransition.Code},
		{"no pricing rule", repository.ErrNoPricingRule, appErrors.ErrMissingPricingRule.Code},
		{"already invoiced", repository.ErrDuplicateInvoice, appErrors.ErrConflict.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewBillingService(&mockInvoiceRepo{createErr: tc.repoErr}, nil, nil, nil, 30, validator.New(), zap.NewNop())
			_, err := svc.CreateInvoice(context.Background(), accountingActor(), "c-1")
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, appErrors.FromError(err).Code)
		})
	}
}

func TestBillingServiceListInvoicesScopesOrganization(t *testing.T) {
	repo := &mockInvoiceRepo{}
	svc := NewBillingService(repo, nil, nil, nil, 30, validator.New(), zap.NewNop())

	actor := models.Actor{UserID: "u-1", Role: models.RoleOrganization, OrganizationID: "org-1"}
	_, _, err := svc.ListInvoices(context.Background(), actor, "org-other", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, "org-1", repo.listOrgSeen)
}

func TestBillingServiceListInvoicesDerivesStatus(t *testing.T) {
	now := time.Now().UTC()
	paid := now.Add(-time.Hour)
	repo := &mockInvoiceRepo{listDetail: []models.InvoiceDetail{
		{Invoice: models.Invoice{ID: "inv-paid", DueDate: now.AddDate(0, 0, 10), PaidAt: &paid}},
		{Invoice: models.Invoice{ID: "inv-overdue", DueDate: now.AddDate(0, 0, -1)}},
		{Invoice: models.Invoice{ID: "inv-pending", DueDate: now.AddDate(0, 0, 10)}},
	}}
	svc := NewBillingService(repo, nil, nil, nil, 30, validator.New(), zap.NewNop())

	invoices, _, err := svc.ListInvoices(context.Background(), accountingActor(), "", 1, 20)
	require.NoError(t, err)
	require.Len(t, invoices, 3)
	assert.Equal(t, models.InvoiceStatusPaid, invoices[0].DerivedStatus)
	assert.Equal(t, models.InvoiceStatusOverdue, invoices[1].DerivedStatus)
	assert.Equal(t, models.InvoiceStatusPending, invoices[2].DerivedStatus)
}

func TestBillingServiceRecordPaymentRejectsNonPositive(t *testing.T) {
	repo := &mockInvoiceRepo{invoices: map[string]*models.Invoice{
		"inv-1": {ID: "inv-1"},
	}}
	svc := NewBillingService(repo, nil, nil, nil, 30, validator.New(), zap.NewNop())

	_, err := svc.RecordPayment(context.Background(), accountingActor(), "inv-1", RecordPaymentRequest{
		Amount: decimal.Zero,
		PaidOn: time.Now(),
		Method: "transfer",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestBillingServiceRecordPaymentVoidedInvoice(t *testing.T) {
	repo := &mockInvoiceRepo{invoices: map[string]*models.Invoice{
		"inv-1": {ID: "inv-1", Voided: true},
	}}
	svc := NewBillingService(repo, nil, nil, nil, 30, validator.New(), zap.NewNop())

	_, err := svc.RecordPayment(context.Background(), accountingActor(), "inv-1", RecordPaymentRequest{
		Amount: decimal.RequireFromString("50"),
		PaidOn: time.Now(),
		Method: "transfer",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestBillingServiceRecordPartialPaymentKeepsStatus(t *testing.T) {
	repo := &mockInvoiceRepo{invoices: map[string]*models.Invoice{
		"inv-1": {ID: "inv-1", Amount: decimal.RequireFromString("450.00"), DueDate: time.Now().AddDate(0, 0, 10)},
	}}
	svc := NewBillingService(repo, nil, nil, nil, 30, validator.New(), zap.NewNop())

	payment, err := svc.RecordPayment(context.Background(), accountingActor(), "inv-1", RecordPaymentRequest{
		Amount: decimal.RequireFromString("100.00"),
		PaidOn: time.Now(),
		Method: "transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, "inv-1", payment.InvoiceID)

	invoice, err := svc.GetInvoice(context.Background(), accountingActor(), "inv-1")
	require.NoError(t, err)
	assert.Nil(t, invoice.PaidAt)
	assert.Equal(t, models.InvoiceStatusPending, invoice.Status(time.Now().UTC()))
}

func TestBillingServiceConfirmPaid(t *testing.T) {
	repo := &mockInvoiceRepo{
		invoices:  map[string]*models.Invoice{"inv-1": {ID: "inv-1"}},
		confirmOK: true,
	}
	svc := NewBillingService(repo, nil, nil, nil, 30, validator.New(), zap.NewNop())

	invoice, err := svc.ConfirmPaid(context.Background(), accountingActor(), "inv-1")
	require.NoError(t, err)
	require.NotNil(t, invoice.PaidAt)
}

func TestBillingServiceConfirmPaidTwiceConflicts(t *testing.T) {
	paid := time.Now().UTC()
	repo := &mockInvoiceRepo{
		invoices:  map[string]*models.Invoice{"inv-1": {ID: "inv-1", PaidAt: &paid}},
		confirmOK: true,
	}
	svc := NewBillingService(repo, nil, nil, nil, 30, validator.New(), zap.NewNop())

	_, err := svc.ConfirmPaid(context.Background(), accountingActor(), "inv-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "already confirmed")
}

func TestBillingServiceConfirmPaidNotFound(t *testing.T) {
	repo := &mockInvoiceRepo{confirmOK: true}
	svc := NewBillingService(repo, nil, nil, nil, 30, validator.New(), zap.NewNop())

	_, err := svc.ConfirmPaid(context.Background(), accountingActor(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
