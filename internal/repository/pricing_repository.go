package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
)

const pricingPairConstraint = "pricing_rules_organization_id_course_type_id_key"

// PricingRepository handles persistence of pricing rules. Uniqueness of the
// (organization, course type) pair is enforced by the database.
type PricingRepository struct {
	db *sqlx.DB
}

// NewPricingRepository constructs the repository.
func NewPricingRepository(db *sqlx.DB) *PricingRepository {
	return &PricingRepository{db: db}
}

// Create persists a new pricing rule. Returns ErrDuplicateRule when a rule
// for the pair already exists.
func (r *PricingRepository) Create(ctx context.Context, rule *models.PricingRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	const query = `INSERT INTO pricing_rules (id, organization_id, course_type_id, rate_per_student, created_at, updated_at)
        VALUES (:id, :organization_id, :course_type_id, :rate_per_student, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		if isUniqueViolation(err, pricingPairConstraint) {
			return ErrDuplicateRule
		}
		return fmt.Errorf("create pricing rule: %w", err)
	}
	return nil
}

// FindByID returns a pricing rule by its ID.
func (r *PricingRepository) FindByID(ctx context.Context, id string) (*models.PricingRule, error) {
	const query = `SELECT id, organization_id, course_type_id, rate_per_student, created_at, updated_at
        FROM pricing_rules WHERE id = $1`
	var rule models.PricingRule
	if err := r.db.GetContext(ctx, &rule, query, id); err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListDetail returns all rules joined with display names.
func (r *PricingRepository) ListDetail(ctx context.Context) ([]models.PricingRuleDetail, error) {
	const query = `SELECT pr.id, pr.organization_id, pr.course_type_id, pr.rate_per_student,
        pr.created_at, pr.updated_at, o.name AS organization_name, ct.name AS course_type_name
        FROM pricing_rules pr
        JOIN organizations o ON o.id = pr.organization_id
        JOIN course_types ct ON ct.id = pr.course_type_id
        ORDER BY o.name, ct.name`
	var rules []models.PricingRuleDetail
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("list pricing rules: %w", err)
	}
	return rules, nil
}

// UpdateRate changes the per-student rate. Organization and course type are
// immutable once a rule exists.
func (r *PricingRepository) UpdateRate(ctx context.Context, id string, rate decimal.Decimal) (bool, error) {
	const query = `UPDATE pricing_rules SET rate_per_student = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, rate, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update pricing rule: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update pricing rule rows: %w", err)
	}
	return rows > 0, nil
}

// Delete removes a rule unconditionally. Courses already Completed or
// BillingReady that depended on it will fail their next billing transition
// with a missing-rule error instead.
func (r *PricingRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pricing_rules WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete pricing rule: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete pricing rule rows: %w", err)
	}
	return rows > 0, nil
}
