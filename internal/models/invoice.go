package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is derived from paid_at and the due date, never stored.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "PENDING"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
)

// Invoice bills a course. Amount is frozen at creation: attendance count at
// invoicing time multiplied by the pricing rule rate, stored at full
// precision. Exactly one non-voided invoice may exist per course.
type Invoice struct {
	ID            string          `db:"id" json:"id"`
	CourseID      string          `db:"course_id" json:"course_id"`
	InvoiceNumber string          `db:"invoice_number" json:"invoice_number"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	AttendedCount int             `db:"attended_count" json:"attended_count"`
	InvoiceDate   time.Time       `db:"invoice_date" json:"invoice_date"`
	DueDate       time.Time       `db:"due_date" json:"due_date"`
	PaidAt        *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	Voided        bool            `db:"voided" json:"voided"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Status derives the payment status at the given instant. Paid is set only by
// explicit accounting confirmation, never by summing payments.
func (i Invoice) Status(now time.Time) InvoiceStatus {
	if i.PaidAt != nil {
		return InvoiceStatusPaid
	}
	if now.After(i.DueDate) {
		return InvoiceStatusOverdue
	}
	return InvoiceStatusPending
}

// InvoiceNumberFor builds the deterministic invoice number for a course. The
// course ID is already unique, so a collision indicates a logic error.
func InvoiceNumberFor(invoiceDate time.Time, courseID string) string {
	return fmt.Sprintf("%s-%s", invoiceDate.Format("20060102"), courseID)
}

// InvoiceDetail enriches Invoice with course context and the derived status.
type InvoiceDetail struct {
	Invoice
	CourseNumber     string          `db:"course_number" json:"course_number"`
	OrganizationName string          `db:"organization_name" json:"organization_name"`
	CourseTypeName   string          `db:"course_type_name" json:"course_type_name"`
	PaidTotal        decimal.Decimal `db:"paid_total" json:"paid_total"`
	DerivedStatus    InvoiceStatus   `db:"-" json:"status"`
}

// Payment records money received against an invoice. Partial payments are
// allowed; the sum never flips the invoice to Paid on its own.
type Payment struct {
	ID        string          `db:"id" json:"id"`
	InvoiceID string          `db:"invoice_id" json:"invoice_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	PaidOn    time.Time       `db:"paid_on" json:"paid_on"`
	Method    string          `db:"method" json:"method"`
	Reference string          `db:"reference" json:"reference"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
