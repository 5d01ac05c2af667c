package provider

import (
	"context"
	"time"

	"github.com/novacal/novacal-api/internal/models"
	appErrors "github.com/novacal/novacal-api/pkg/errors"
)

// Event is a provider calendar entry normalized to UTC.
type Event struct {
	ID        string
	Title     string
	Start     time.Time
	End       time.Time
	AllDay    bool
	Tentative bool
	Cancelled bool
	Version   string
}

// ListResult is a page of provider events plus the cursor for the next fetch.
type ListResult struct {
	Events     []Event
	NextCursor string
}

// EventInput describes the provider-side event to create or update for an
// appointment.
type EventInput struct {
	// AppointmentID keys provider-side idempotency: adapters must guarantee a
	// retried create for the same appointment does not duplicate the event.
	AppointmentID string
	Title         string
	Description   string
	Start         time.Time
	End           time.Time
	InviteeEmail  string
}

// Token is the OAuth credential bundle returned by code exchange or refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenSaver persists a refreshed token back onto its connection so a
// renewed credential survives the process.
type TokenSaver func(ctx context.Context, connectionID string, token *Token) error

// ErrReadOnly is returned by adapters that expose busy data only.
var ErrReadOnly = appErrors.New("PROVIDER_READ_ONLY", 400, "provider connection is read-only")

// Adapter is the narrow surface the sync engine and conflict checker consume.
// Implementations must be safe for concurrent use.
type Adapter interface {
	Provider() models.Provider
	GetAuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Token, error)
	ListEvents(ctx context.Context, conn *models.CalendarConnection, window models.Slot, cursor string) (*ListResult, error)
	CreateEvent(ctx context.Context, conn *models.CalendarConnection, input EventInput) (string, error)
	UpdateEvent(ctx context.Context, conn *models.CalendarConnection, externalID string, input EventInput) error
	DeleteEvent(ctx context.Context, conn *models.CalendarConnection, externalID string) error
}

// Registry maps the closed provider enum to its adapter.
type Registry struct {
	adapters map[models.Provider]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Get resolves the adapter for a provider.
func (r *Registry) Get(p models.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown calendar provider: "+string(p))
	}
	return a, nil
}
