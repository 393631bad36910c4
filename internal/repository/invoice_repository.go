package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
)

const (
	invoiceCourseConstraint = "invoices_course_id_key"
	invoiceNumberConstraint = "invoices_invoice_number_key"
)

// InvoiceRepository handles persistence of invoices and payments.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository constructs the repository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// CreateForCourse performs the entire invoicing transition as one
// transaction: lock the course row, re-verify it is BillingReady, read the
// attendance count and pricing rate inside the transaction, insert the
// invoice and flip the course to Invoiced. An attendance edit landing before
// the in-transaction count is billed; one landing after is not.
//
// Returns sql.ErrNoRows when the course does not exist, ErrDuplicateInvoice
// when it is already Invoiced (a safe retry of a committed call) or when
// another actor wins the insert race, ErrStatusConflict when it is in any
// other non-BillingReady status, and ErrNoPricingRule when the rule
// disappeared.
func (r *InvoiceRepository) CreateForCourse(ctx context.Context, courseID string, invoiceDate time.Time, dueDays int) (*models.Invoice, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create invoice: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var course struct {
		Status         models.CourseStatus `db:"status"`
		OrganizationID string              `db:"organization_id"`
		CourseTypeID   string              `db:"course_type_id"`
	}
	if err := tx.GetContext(ctx, &course,
		`SELECT status, organization_id, course_type_id FROM courses WHERE id = $1 FOR UPDATE`, courseID); err != nil {
		return nil, err
	}
	if course.Status == models.CourseStatusInvoiced {
		// A retry of an already committed invoicing must report the duplicate,
		// not a generic bad-status transition.
		return nil, ErrDuplicateInvoice
	}
	if course.Status != models.CourseStatusBillingReady {
		return nil, ErrStatusConflict
	}

	var rate decimal.Decimal
	err = tx.GetContext(ctx, &rate,
		`SELECT rate_per_student FROM pricing_rules WHERE organization_id = $1 AND course_type_id = $2`,
		course.OrganizationID, course.CourseTypeID)
	if err == sql.ErrNoRows {
		return nil, ErrNoPricingRule
	}
	if err != nil {
		return nil, fmt.Errorf("resolve rate: %w", err)
	}

	var attended int
	if err := tx.GetContext(ctx, &attended,
		`SELECT COUNT(*) FROM students WHERE course_id = $1 AND attended`, courseID); err != nil {
		return nil, fmt.Errorf("count attendance: %w", err)
	}

	// Zero attendance is valid: the invoice is created with amount 0.
	invoice := &models.Invoice{
		ID:            uuid.NewString(),
		CourseID:      courseID,
		InvoiceNumber: models.InvoiceNumberFor(invoiceDate, courseID),
		Amount:        rate.Mul(decimal.NewFromInt(int64(attended))),
		AttendedCount: attended,
		InvoiceDate:   invoiceDate,
		DueDate:       invoiceDate.AddDate(0, 0, dueDays),
		CreatedAt:     time.Now().UTC(),
	}

	const insert = `INSERT INTO invoices (id, course_id, invoice_number, amount, attended_count,
        invoice_date, due_date, paid_at, voided, created_at)
        VALUES (:id, :course_id, :invoice_number, :amount, :attended_count,
        :invoice_date, :due_date, :paid_at, :voided, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, invoice); err != nil {
		if isUniqueViolation(err, invoiceCourseConstraint) {
			return nil, ErrDuplicateInvoice
		}
		// The invoice number embeds the unique course ID; a collision here is
		// a logic error, not an expected race.
		return nil, fmt.Errorf("insert invoice: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE courses SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`,
		courseID, models.CourseStatusInvoiced, time.Now().UTC(), models.CourseStatusBillingReady)
	if err != nil {
		return nil, fmt.Errorf("transition to invoiced: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition to invoiced rows: %w", err)
	}
	if rows == 0 {
		return nil, ErrStatusConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create invoice: %w", err)
	}
	return invoice, nil
}

// FindByID returns an invoice by its ID.
func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	const query = `SELECT id, course_id, invoice_number, amount, attended_count, invoice_date,
        due_date, paid_at, voided, created_at FROM invoices WHERE id = $1`
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, id); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FindByCourseID returns the non-voided invoice for a course.
func (r *InvoiceRepository) FindByCourseID(ctx context.Context, courseID string) (*models.Invoice, error) {
	const query = `SELECT id, course_id, invoice_number, amount, attended_count, invoice_date,
        due_date, paid_at, voided, created_at FROM invoices WHERE course_id = $1 AND NOT voided`
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, courseID); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// FindDetailByID returns an invoice joined with course context and payment
// totals.
func (r *InvoiceRepository) FindDetailByID(ctx context.Context, id string) (*models.InvoiceDetail, error) {
	const query = `SELECT i.id, i.course_id, i.invoice_number, i.amount, i.attended_count,
        i.invoice_date, i.due_date, i.paid_at, i.voided, i.created_at,
        c.course_number, o.name AS organization_name, ct.name AS course_type_name,
        COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.invoice_id = i.id), 0) AS paid_total
        FROM invoices i
        JOIN courses c ON c.id = i.course_id
        JOIN organizations o ON o.id = c.organization_id
        JOIN course_types ct ON ct.id = c.course_type_id
        WHERE i.id = $1`
	var detail models.InvoiceDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListDetail returns invoices joined with course context and payment totals.
func (r *InvoiceRepository) ListDetail(ctx context.Context, organizationID string, page, size int) ([]models.InvoiceDetail, int, error) {
	base := `FROM invoices i
JOIN courses c ON c.id = i.course_id
JOIN organizations o ON o.id = c.organization_id
JOIN course_types ct ON ct.id = c.course_type_id`
	var conditions []string
	var args []interface{}
	if organizationID != "" {
		conditions = append(conditions, fmt.Sprintf("c.organization_id = $%d", len(args)+1))
		args = append(args, organizationID)
	}
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT i.id, i.course_id, i.invoice_number, i.amount, i.attended_count,
        i.invoice_date, i.due_date, i.paid_at, i.voided, i.created_at,
        c.course_number, o.name AS organization_name, ct.name AS course_type_name,
        COALESCE((SELECT SUM(p.amount) FROM payments p WHERE p.invoice_id = i.id), 0) AS paid_total
        %s%s ORDER BY i.invoice_date DESC LIMIT %d OFFSET %d`, base, clause, size, offset)

	var invoices []models.InvoiceDetail
	if err := r.db.SelectContext(ctx, &invoices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", base, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	return invoices, total, nil
}

// AddPayment records a payment against an invoice.
func (r *InvoiceRepository) AddPayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payments (id, invoice_id, amount, paid_on, method, reference, created_at)
        VALUES (:id, :invoice_id, :amount, :paid_on, :method, :reference, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// ListPayments returns payments recorded against an invoice.
func (r *InvoiceRepository) ListPayments(ctx context.Context, invoiceID string) ([]models.Payment, error) {
	const query = `SELECT id, invoice_id, amount, paid_on, method, reference, created_at
        FROM payments WHERE invoice_id = $1 ORDER BY paid_on`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, invoiceID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// ConfirmPaid stamps the invoice as paid. The null check makes a repeated
// confirmation a lost race rather than a silent success.
func (r *InvoiceRepository) ConfirmPaid(ctx context.Context, id string, when time.Time) (bool, error) {
	const query = `UPDATE invoices SET paid_at = $2 WHERE id = $1 AND paid_at IS NULL AND NOT voided`
	res, err := r.db.ExecContext(ctx, query, id, when)
	if err != nil {
		return false, fmt.Errorf("confirm paid: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("confirm paid rows: %w", err)
	}
	return rows > 0, nil
}
