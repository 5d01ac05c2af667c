package service

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

type profileRepository interface {
	Upsert(ctx context.Context, p *models.AvailabilityProfile) error
	FindByOwner(ctx context.Context, tenantID, ownerID string, kind models.ProfileOwnerKind) (*models.AvailabilityProfile, error)
}

type profileCacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// AvailabilityProfileService manages the layered rule sets slots are
// computed from.
type AvailabilityProfileService struct {
	profiles profileRepository
	cache    profileCacheInvalidator
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAvailabilityProfileService(profiles profileRepository, cache profileCacheInvalidator, validate *validator.Validate, logger *zap.Logger) *AvailabilityProfileService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityProfileService{profiles: profiles, cache: cache, validate: validate, logger: logger}
}

// Upsert validates and persists a profile, then drops any cached slot
// snapshots computed from the previous rules.
func (s *AvailabilityProfileService) Upsert(ctx context.Context, p *models.AvailabilityProfile) (*models.AvailabilityProfile, error) {
	if err := s.checkProfile(p); err != nil {
		return nil, err
	}
	normalizeWeekly(p.Weekly)

	if err := s.profiles.Upsert(ctx, p); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, "availability:"+p.TenantID+":*"); err != nil {
			s.logger.Warn("failed to invalidate availability snapshots",
				zap.String("owner_id", p.OwnerID), zap.Error(err))
		}
	}
	return p, nil
}

// Get returns a profile by owner.
func (s *AvailabilityProfileService) Get(ctx context.Context, tenantID, ownerID string, kind models.ProfileOwnerKind) (*models.AvailabilityProfile, error) {
	p, err := s.profiles.FindByOwner(ctx, tenantID, ownerID, kind)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "availability profile not found")
	}
	return p, nil
}

func (s *AvailabilityProfileService) checkProfile(p *models.AvailabilityProfile) error {
	if p.TenantID == "" || p.OwnerID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "profile owner is required")
	}
	if p.OwnerKind != models.OwnerStaff && p.OwnerKind != models.OwnerPool {
		return appErrors.Clone(appErrors.ErrValidation, "unknown profile owner kind: "+string(p.OwnerKind))
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "unknown timezone: "+p.Timezone)
	}
	for day, windows := range p.Weekly {
		if day < time.Sunday || day > time.Saturday {
			return appErrors.Clone(appErrors.ErrValidation, "invalid weekday in weekly hours")
		}
		for _, w := range windows {
			if !w.Valid() {
				return appErrors.Clone(appErrors.ErrValidation, "malformed weekly hours window")
			}
		}
	}
	for _, b := range p.RecurringBlocks {
		if !b.Window.Valid() {
			return appErrors.Clone(appErrors.ErrValidation, "malformed recurring block window")
		}
	}
	for _, d := range append(append(models.StringList{}, p.ExceptionDates...), p.CustomHolidays...) {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "dates must use YYYY-MM-DD: "+d)
		}
	}
	if p.MinNoticeMinutes < 0 || p.MaxFutureDays <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "notice and future-window settings out of range")
	}
	if p.SlotRoundingMinutes < 0 || p.MinGapMinutes < 0 || p.MaxGapMinutes < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "rounding and gap settings must not be negative")
	}
	if p.MaxGapMinutes > 0 && p.MaxGapMinutes < p.MinGapMinutes {
		return appErrors.Clone(appErrors.ErrValidation, "max gap must not be smaller than min gap")
	}
	return nil
}

// normalizeWeekly sorts each day's windows so downstream interval math can
// assume order.
func normalizeWeekly(weekly models.WeeklyHours) {
	for _, windows := range weekly {
		sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
	}
}
