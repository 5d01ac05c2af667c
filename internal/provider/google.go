package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/pkg/config"
)

const googleCalendarID = "primary"

// GoogleAdapter talks to Google Calendar through the official API client.
type GoogleAdapter struct {
	oauth *oauth2.Config
	saver TokenSaver

	// endpoint overrides the Calendar API base URL in tests.
	endpoint string
}

// NewGoogleAdapter builds the adapter from application OAuth credentials.
func NewGoogleAdapter(cfg config.ProvidersConfig, saver TokenSaver) *GoogleAdapter {
	return &GoogleAdapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarEventsScope},
		},
		saver: saver,
	}
}

// Provider identifies this adapter.
func (g *GoogleAdapter) Provider() models.Provider {
	return models.ProviderGoogle
}

// GetAuthorizationURL returns the consent URL for the OAuth handshake.
func (g *GoogleAdapter) GetAuthorizationURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode swaps an authorization code for tokens.
func (g *GoogleAdapter) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google exchange code: %w", err)
	}
	return fromOAuthToken(tok), nil
}

// RefreshToken renews an access token from the stored refresh token.
func (g *GoogleAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	src := g.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("google refresh token: %w", err)
	}
	return fromOAuthToken(tok), nil
}

// ListEvents fetches events for the window, or changes since the cursor when
// one is present. Result pages are walked in here with page tokens; the
// returned cursor is only ever Google's incremental sync token, which arrives
// on the final page. Page tokens and sync tokens are not interchangeable, so
// a page token must never be persisted as the connection cursor.
func (g *GoogleAdapter) ListEvents(ctx context.Context, conn *models.CalendarConnection, window models.Slot, cursor string) (*ListResult, error) {
	svc, err := g.service(ctx, conn)
	if err != nil {
		return nil, err
	}

	result := &ListResult{}
	pageToken := ""
	for {
		call := svc.Events.List(googleCalendarID).
			SingleEvents(true).
			ShowDeleted(true).
			MaxResults(250).
			Context(ctx)
		if cursor != "" {
			call = call.SyncToken(cursor)
		} else {
			call = call.
				TimeMin(window.Start.UTC().Format(time.RFC3339)).
				TimeMax(window.End.UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("google list events: %w", err)
		}

		for _, item := range resp.Items {
			ev, ok := mapGoogleEvent(item)
			if !ok {
				continue
			}
			result.Events = append(result.Events, ev)
		}

		if resp.NextPageToken == "" {
			result.NextCursor = resp.NextSyncToken
			return result, nil
		}
		pageToken = resp.NextPageToken
	}
}

// CreateEvent inserts the provider event. The event id is derived from the
// appointment id, so a retried create collides with the first one instead of
// duplicating it.
func (g *GoogleAdapter) CreateEvent(ctx context.Context, conn *models.CalendarConnection, input EventInput) (string, error) {
	svc, err := g.service(ctx, conn)
	if err != nil {
		return "", err
	}

	eventID := googleEventID(input.AppointmentID)
	ev := googleEventBody(input)
	ev.Id = eventID

	if _, err := svc.Events.Insert(googleCalendarID, ev).Context(ctx).Do(); err != nil {
		var gErr *googleapi.Error
		if isGoogleStatus(err, &gErr, http.StatusConflict) {
			// Already created by an earlier attempt.
			return eventID, nil
		}
		return "", fmt.Errorf("google create event: %w", err)
	}
	return eventID, nil
}

// UpdateEvent rewrites the provider event in place.
func (g *GoogleAdapter) UpdateEvent(ctx context.Context, conn *models.CalendarConnection, externalID string, input EventInput) error {
	svc, err := g.service(ctx, conn)
	if err != nil {
		return err
	}
	if _, err := svc.Events.Update(googleCalendarID, externalID, googleEventBody(input)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("google update event: %w", err)
	}
	return nil
}

// DeleteEvent removes the provider event; an already-gone event is success.
func (g *GoogleAdapter) DeleteEvent(ctx context.Context, conn *models.CalendarConnection, externalID string) error {
	svc, err := g.service(ctx, conn)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(googleCalendarID, externalID).Context(ctx).Do(); err != nil {
		var gErr *googleapi.Error
		if isGoogleStatus(err, &gErr, http.StatusNotFound) || isGoogleStatus(err, &gErr, http.StatusGone) {
			return nil
		}
		return fmt.Errorf("google delete event: %w", err)
	}
	return nil
}

func (g *GoogleAdapter) service(ctx context.Context, conn *models.CalendarConnection) (*gcal.Service, error) {
	src := savingSource(ctx, g.oauth, conn, g.saver)
	opts := []option.ClientOption{option.WithTokenSource(src)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google calendar client: %w", err)
	}
	return svc, nil
}

func mapGoogleEvent(item *gcal.Event) (Event, bool) {
	// Transparent events do not block time and never count as busy.
	if item.Transparency == "transparent" {
		return Event{}, false
	}

	ev := Event{
		ID:        item.Id,
		Title:     item.Summary,
		Tentative: item.Status == "tentative",
		Cancelled: item.Status == "cancelled",
		Version:   item.Updated,
	}
	if item.Start != nil {
		if item.Start.Date != "" {
			ev.AllDay = true
			start, err := time.Parse("2006-01-02", item.Start.Date)
			if err != nil {
				return Event{}, false
			}
			ev.Start = start
		} else if t, err := time.Parse(time.RFC3339, item.Start.DateTime); err == nil {
			ev.Start = t.UTC()
		}
	}
	if item.End != nil {
		if item.End.Date != "" {
			end, err := time.Parse("2006-01-02", item.End.Date)
			if err != nil {
				return Event{}, false
			}
			ev.End = end
		} else if t, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
			ev.End = t.UTC()
		}
	}
	if !ev.Cancelled && !ev.End.After(ev.Start) {
		return Event{}, false
	}
	return ev, true
}

func googleEventBody(input EventInput) *gcal.Event {
	ev := &gcal.Event{
		Summary:     input.Title,
		Description: input.Description,
		Start:       &gcal.EventDateTime{DateTime: input.Start.UTC().Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: input.End.UTC().Format(time.RFC3339)},
	}
	if input.InviteeEmail != "" {
		ev.Attendees = []*gcal.EventAttendee{{Email: input.InviteeEmail}}
	}
	return ev
}

// googleEventID maps an appointment id onto Google's allowed event id
// alphabet (base32hex). UUID hex with dashes stripped already fits.
func googleEventID(appointmentID string) string {
	return strings.ToLower(strings.ReplaceAll(appointmentID, "-", ""))
}

func isGoogleStatus(err error, gErr **googleapi.Error, status int) bool {
	if errors.As(err, gErr) {
		return (*gErr).Code == status
	}
	return false
}
