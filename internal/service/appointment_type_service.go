package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

type typeRepository interface {
	Create(ctx context.Context, at *models.AppointmentType) error
	FindByID(ctx context.Context, tenantID, id string) (*models.AppointmentType, error)
	List(ctx context.Context, tenantID string, activeOnly bool) ([]models.AppointmentType, error)
	Update(ctx context.Context, at *models.AppointmentType) error
}

// AppointmentTypeService manages the bookable meeting templates.
type AppointmentTypeService struct {
	types    typeRepository
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAppointmentTypeService(types typeRepository, validate *validator.Validate, logger *zap.Logger) *AppointmentTypeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AppointmentTypeService{types: types, validate: validate, logger: logger}
}

// Create validates category-specific configuration and persists the type.
func (s *AppointmentTypeService) Create(ctx context.Context, at *models.AppointmentType) (*models.AppointmentType, error) {
	if err := s.checkType(at); err != nil {
		return nil, err
	}
	at.Active = true
	if err := s.types.Create(ctx, at); err != nil {
		return nil, err
	}
	return at, nil
}

// Get returns one type.
func (s *AppointmentTypeService) Get(ctx context.Context, tenantID, id string) (*models.AppointmentType, error) {
	at, err := s.types.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "appointment type not found")
	}
	return at, nil
}

// List returns the tenant's types.
func (s *AppointmentTypeService) List(ctx context.Context, tenantID string, activeOnly bool) ([]models.AppointmentType, error) {
	return s.types.List(ctx, tenantID, activeOnly)
}

// Update revalidates and persists changes to an existing type.
func (s *AppointmentTypeService) Update(ctx context.Context, at *models.AppointmentType) (*models.AppointmentType, error) {
	if _, err := s.Get(ctx, at.TenantID, at.ID); err != nil {
		return nil, err
	}
	if err := s.checkType(at); err != nil {
		return nil, err
	}
	if err := s.types.Update(ctx, at); err != nil {
		return nil, err
	}
	return at, nil
}

// Deactivate hides the type from booking surfaces. Existing appointments are
// untouched.
func (s *AppointmentTypeService) Deactivate(ctx context.Context, tenantID, id string) error {
	at, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	at.Active = false
	return s.types.Update(ctx, at)
}

func (s *AppointmentTypeService) checkType(at *models.AppointmentType) error {
	if at.Name == "" {
		return appErrors.Clone(appErrors.ErrValidation, "appointment type name is required")
	}
	if at.DurationMinutes <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, "duration must be positive")
	}
	if at.BufferBeforeMinutes < 0 || at.BufferAfterMinutes < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "buffers must not be negative")
	}
	if !at.Category.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown event category: "+string(at.Category))
	}
	if !at.RoutingPolicy.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, "unknown routing policy: "+string(at.RoutingPolicy))
	}

	switch at.Category {
	case models.EventCollective:
		if len(at.RequiredHostIDs) == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "collective type requires at least one required host")
		}
	case models.EventGroup:
		if at.Capacity <= 0 {
			return appErrors.Clone(appErrors.ErrValidation, "group type requires a positive capacity")
		}
	}

	switch at.RoutingPolicy {
	case models.RouteFixed:
		if at.FixedAssigneeID == nil || *at.FixedAssigneeID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "fixed routing requires an assignee")
		}
	case models.RouteRoundRobin:
		if at.RoundRobin == nil || len(at.RoundRobin.PoolIDs) == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "round robin routing requires a pool")
		}
		if !at.RoundRobin.Strategy.Valid() {
			return appErrors.Clone(appErrors.ErrValidation, "unknown round robin strategy: "+string(at.RoundRobin.Strategy))
		}
	}
	return nil
}
