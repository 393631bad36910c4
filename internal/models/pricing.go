package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingRule is the per-student rate contracted between an organization and
// a course type. At most one rule exists per (organization, course type) pair.
type PricingRule struct {
	ID             string          `db:"id" json:"id"`
	OrganizationID string          `db:"organization_id" json:"organization_id"`
	CourseTypeID   string          `db:"course_type_id" json:"course_type_id"`
	RatePerStudent decimal.Decimal `db:"rate_per_student" json:"rate_per_student"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// PricingRuleDetail enriches PricingRule with display names.
type PricingRuleDetail struct {
	PricingRule
	OrganizationName string `db:"organization_name" json:"organization_name"`
	CourseTypeName   string `db:"course_type_name" json:"course_type_name"`
}
