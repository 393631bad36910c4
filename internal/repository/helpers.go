package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors surfaced by transactional repository methods. Services map
// them onto the API error taxonomy.
var (
	// ErrStatusConflict signals a compare-and-swap transition lost the race:
	// the course was no longer in the expected status at write time.
	ErrStatusConflict = errors.New("course status changed")

	// ErrNoPricingRule signals the (organization, course type) pair has no
	// pricing rule. Callers must never substitute a default rate.
	ErrNoPricingRule = errors.New("pricing rule missing")

	// ErrDuplicateInvoice signals a non-voided invoice already exists for the
	// course.
	ErrDuplicateInvoice = errors.New("invoice already exists for course")

	// ErrNumberExhausted signals all 99 course-number suffixes are taken.
	ErrNumberExhausted = errors.New("course number suffixes exhausted")

	// ErrDuplicateRule signals a pricing rule already exists for the pair.
	ErrDuplicateRule = errors.New("pricing rule already exists")
)

const pqUniqueViolation = "23505"

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation, optionally on a specific constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != pqUniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
