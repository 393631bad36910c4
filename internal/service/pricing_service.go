package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/repository"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
)

type pricingRepository interface {
	Create(ctx context.Context, rule *models.PricingRule) error
	FindByID(ctx context.Context, id string) (*models.PricingRule, error)
	ListDetail(ctx context.Context) ([]models.PricingRuleDetail, error)
	UpdateRate(ctx context.Context, id string, rate decimal.Decimal) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// cacheStore abstracts the redis-backed listing cache.
type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const pricingListCacheKey = "pricing:rules"

// CreatePricingRuleRequest describes a pricing rule payload.
type CreatePricingRuleRequest struct {
	OrganizationID string          `json:"organization_id" validate:"required"`
	CourseTypeID   string          `json:"course_type_id" validate:"required"`
	RatePerStudent decimal.Decimal `json:"rate_per_student"`
}

// UpdatePricingRuleRequest changes the rate only; the pair is immutable.
type UpdatePricingRuleRequest struct {
	RatePerStudent decimal.Decimal `json:"rate_per_student"`
}

// PricingService manages the pricing catalog. The listing is cached in
// redis; transition-gating rate lookups always hit the database inside the
// transition's own transaction.
type PricingService struct {
	repo      pricingRepository
	orgs      organizationReader
	cache     cacheStore
	cacheTTL  time.Duration
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPricingService constructs PricingService. cache and metrics may be nil.
func NewPricingService(repo pricingRepository, orgs organizationReader, cache cacheStore, cacheTTL time.Duration, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *PricingService {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PricingService{repo: repo, orgs: orgs, cache: cache, cacheTTL: cacheTTL, metrics: metrics, validator: validate, logger: logger}
}

// Create adds a pricing rule for an (organization, course type) pair.
func (s *PricingService) Create(ctx context.Context, actor models.Actor, req CreatePricingRuleRequest) (*models.PricingRule, error) {
	if err := requireRoles(actor, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pricing rule payload")
	}
	if req.RatePerStudent.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rate per student must not be negative")
	}
	if _, err := s.orgs.FindOrganizationByID(ctx, req.OrganizationID); err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "organization not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load organization")
	}
	if _, err := s.orgs.FindCourseTypeByID(ctx, req.CourseTypeID); err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course type")
	}

	rule := &models.PricingRule{
		OrganizationID: req.OrganizationID,
		CourseTypeID:   req.CourseTypeID,
		RatePerStudent: req.RatePerStudent,
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		if errors.Is(err, repository.ErrDuplicateRule) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a pricing rule already exists for this organization and course type")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create pricing rule")
	}
	s.invalidate(ctx)
	return rule, nil
}

// List returns all pricing rules with display names, served from cache when
// possible.
func (s *PricingService) List(ctx context.Context, actor models.Actor) ([]models.PricingRuleDetail, bool, error) {
	if err := requireRoles(actor, models.RoleAdmin, models.RoleSuperAdmin, models.RoleAccounting); err != nil {
		return nil, false, err
	}
	if s.cache != nil {
		var cached []models.PricingRuleDetail
		if err := s.cache.Get(ctx, pricingListCacheKey, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached, true, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("pricing cache read failed", zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}

	start := time.Now()
	rules, err := s.repo.ListDetail(ctx)
	s.metrics.ObserveDBQuery("pricing_list", time.Since(start))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pricing rules")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, pricingListCacheKey, rules, s.cacheTTL); err != nil {
			s.logger.Warn("pricing cache write failed", zap.Error(err))
		}
	}
	return rules, false, nil
}

// UpdateRate changes the per-student rate of an existing rule.
func (s *PricingService) UpdateRate(ctx context.Context, actor models.Actor, id string, req UpdatePricingRuleRequest) (*models.PricingRule, error) {
	if err := requireRoles(actor, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return nil, err
	}
	if req.RatePerStudent.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rate per student must not be negative")
	}
	ok, err := s.repo.UpdateRate(ctx, id, req.RatePerStudent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update pricing rule")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "pricing rule not found")
	}
	s.invalidate(ctx)
	rule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pricing rule")
	}
	return rule, nil
}

// Delete removes a rule. Deletion is permissive: in-flight courses that
// depended on it will fail their next billing transition instead.
func (s *PricingService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if err := requireRoles(actor, models.RoleAdmin, models.RoleSuperAdmin); err != nil {
		return err
	}
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete pricing rule")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "pricing rule not found")
	}
	s.invalidate(ctx)
	return nil
}

func (s *PricingService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, pricingListCacheKey); err != nil {
		s.logger.Warn("pricing cache invalidation failed", zap.Error(err))
	}
}
