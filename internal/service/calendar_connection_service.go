package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/internal/provider"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

type connectionRepository interface {
	Create(ctx context.Context, c *models.CalendarConnection) error
	FindByID(ctx context.Context, tenantID, id string) (*models.CalendarConnection, error)
	ListByStaff(ctx context.Context, tenantID, staffID string) ([]models.CalendarConnection, error)
	UpdateStatus(ctx context.Context, id string, status models.ConnectionStatus) error
	Delete(ctx context.Context, tenantID, id string) error
}

// ConnectRequest completes an OAuth handshake or registers a busy feed.
type ConnectRequest struct {
	TenantID      string          `json:"-" validate:"required"`
	StaffID       string          `json:"staff_id" validate:"required"`
	Provider      models.Provider `json:"provider" validate:"required"`
	Code          string          `json:"code"`
	CalendarEmail string          `json:"calendar_email" validate:"omitempty,email"`
	FeedURL       string          `json:"feed_url" validate:"omitempty,url"`
	TentativeBusy bool            `json:"tentative_busy"`
}

// CalendarConnectionService manages the lifecycle of per-staff provider links.
type CalendarConnectionService struct {
	connections connectionRepository
	registry    *provider.Registry
	validate    *validator.Validate
	logger      *zap.Logger
}

func NewCalendarConnectionService(connections connectionRepository, registry *provider.Registry, validate *validator.Validate, logger *zap.Logger) *CalendarConnectionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarConnectionService{
		connections: connections,
		registry:    registry,
		validate:    validate,
		logger:      logger,
	}
}

// AuthorizationURL returns the provider consent URL for a new connection.
// The state parameter round-trips through the provider untouched.
func (s *CalendarConnectionService) AuthorizationURL(p models.Provider, state string) (string, error) {
	adapter, err := s.registry.Get(p)
	if err != nil {
		return "", err
	}
	return adapter.GetAuthorizationURL(state), nil
}

// Connect exchanges the OAuth code (or accepts a feed URL for read-only
// providers) and persists the resulting connection as active.
func (s *CalendarConnectionService) Connect(ctx context.Context, req *ConnectRequest) (*models.CalendarConnection, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if !req.Provider.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown calendar provider: "+string(req.Provider))
	}

	conn := &models.CalendarConnection{
		TenantID:      req.TenantID,
		StaffID:       req.StaffID,
		Provider:      req.Provider,
		CalendarEmail: req.CalendarEmail,
		TentativeBusy: req.TentativeBusy,
		Status:        models.ConnectionActive,
	}

	if req.Provider == models.ProviderBusyFeed {
		if req.FeedURL == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "busy feed connection requires a feed url")
		}
		feedURL := req.FeedURL
		conn.FeedURL = &feedURL
	} else {
		if req.Code == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "oauth connection requires an authorization code")
		}
		adapter, err := s.registry.Get(req.Provider)
		if err != nil {
			return nil, err
		}
		token, err := adapter.ExchangeCode(ctx, req.Code)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "authorization code exchange failed")
		}
		conn.AccessToken = token.AccessToken
		conn.RefreshToken = token.RefreshToken
		if !token.Expiry.IsZero() {
			expiry := token.Expiry
			conn.TokenExpiresAt = &expiry
		}
	}

	if err := s.connections.Create(ctx, conn); err != nil {
		return nil, err
	}
	s.logger.Info("calendar connection established",
		zap.String("connection_id", conn.ID),
		zap.String("staff_id", conn.StaffID),
		zap.String("provider", string(conn.Provider)))
	return conn, nil
}

// List returns a staff member's connections.
func (s *CalendarConnectionService) List(ctx context.Context, tenantID, staffID string) ([]models.CalendarConnection, error) {
	return s.connections.ListByStaff(ctx, tenantID, staffID)
}

// Get returns a single connection.
func (s *CalendarConnectionService) Get(ctx context.Context, tenantID, id string) (*models.CalendarConnection, error) {
	conn, err := s.connections.FindByID(ctx, tenantID, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "calendar connection not found")
	}
	return conn, nil
}

// Disconnect revokes the link. Appointments already mirrored keep their
// external references; they simply stop syncing.
func (s *CalendarConnectionService) Disconnect(ctx context.Context, tenantID, id string) error {
	if _, err := s.connections.FindByID(ctx, tenantID, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "calendar connection not found")
	}
	return s.connections.Delete(ctx, tenantID, id)
}
