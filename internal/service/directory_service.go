package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
)

type directoryRepository interface {
	ListOrganizations(ctx context.Context) ([]models.Organization, error)
	ListCourseTypes(ctx context.Context) ([]models.CourseType, error)
	FindOrganizationByID(ctx context.Context, id string) (*models.Organization, error)
}

// DirectoryService serves the reference data used to build course requests
// and pricing rules.
type DirectoryService struct {
	repo   directoryRepository
	logger *zap.Logger
}

// NewDirectoryService constructs DirectoryService.
func NewDirectoryService(repo directoryRepository, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{repo: repo, logger: logger}
}

// Organizations lists all organizations. Organization actors only see their
// own entry.
func (s *DirectoryService) Organizations(ctx context.Context, actor models.Actor) ([]models.Organization, error) {
	if actor.Role == models.RoleOrganization {
		org, err := s.repo.FindOrganizationByID(ctx, actor.OrganizationID)
		if err != nil {
			if isNoRows(err) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "organization not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load organization")
		}
		return []models.Organization{*org}, nil
	}
	orgs, err := s.repo.ListOrganizations(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list organizations")
	}
	return orgs, nil
}

// CourseTypes lists active course types.
func (s *DirectoryService) CourseTypes(ctx context.Context) ([]models.CourseType, error) {
	types, err := s.repo.ListCourseTypes(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course types")
	}
	return types, nil
}
