package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
)

// OrganizationRepository is a read-side lookup for organizations and course
// types. Their management screens live outside this service.
type OrganizationRepository struct {
	db *sqlx.DB
}

// NewOrganizationRepository constructs the repository.
func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// FindOrganizationByID returns an organization by its ID.
func (r *OrganizationRepository) FindOrganizationByID(ctx context.Context, id string) (*models.Organization, error) {
	const query = `SELECT id, name, code, active, created_at FROM organizations WHERE id = $1`
	var org models.Organization
	if err := r.db.GetContext(ctx, &org, query, id); err != nil {
		return nil, err
	}
	return &org, nil
}

// FindCourseTypeByID returns a course type by its ID.
func (r *OrganizationRepository) FindCourseTypeByID(ctx context.Context, id string) (*models.CourseType, error) {
	const query = `SELECT id, name, code, active, created_at FROM course_types WHERE id = $1`
	var ct models.CourseType
	if err := r.db.GetContext(ctx, &ct, query, id); err != nil {
		return nil, err
	}
	return &ct, nil
}

// ListOrganizations returns active organizations for selection lists.
func (r *OrganizationRepository) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	const query = `SELECT id, name, code, active, created_at FROM organizations WHERE active ORDER BY name`
	var orgs []models.Organization
	if err := r.db.SelectContext(ctx, &orgs, query); err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, nil
}

// ListCourseTypes returns active course types for selection lists.
func (r *OrganizationRepository) ListCourseTypes(ctx context.Context) ([]models.CourseType, error) {
	const query = `SELECT id, name, code, active, created_at FROM course_types WHERE active ORDER BY name`
	var types []models.CourseType
	if err := r.db.SelectContext(ctx, &types, query); err != nil {
		return nil, fmt.Errorf("list course types: %w", err)
	}
	return types, nil
}
