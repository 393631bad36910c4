package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInvoiceStatusDerivation(t *testing.T) {
	due := time.Date(2026, 4, 19, 0, 0, 0, 0, time.UTC)
	invoice := Invoice{DueDate: due}

	assert.Equal(t, InvoiceStatusPending, invoice.Status(due.AddDate(0, 0, -5)))
	assert.Equal(t, InvoiceStatusPending, invoice.Status(due))
	assert.Equal(t, InvoiceStatusOverdue, invoice.Status(due.AddDate(0, 0, 1)))

	paidAt := due.AddDate(0, 0, 2)
	invoice.PaidAt = &paidAt
	// Confirmation wins even past the due date.
	assert.Equal(t, InvoiceStatusPaid, invoice.Status(due.AddDate(0, 0, 10)))
}

func TestInvoiceNumberFor(t *testing.T) {
	date := time.Date(2026, 3, 20, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "20260320-course-1", InvoiceNumberFor(date, "course-1"))
}
