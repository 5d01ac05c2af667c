package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/pkg/config"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// MicrosoftAdapter talks to Outlook calendars through Microsoft Graph.
type MicrosoftAdapter struct {
	oauth *oauth2.Config
	saver TokenSaver
}

// NewMicrosoftAdapter builds the adapter from application OAuth credentials.
func NewMicrosoftAdapter(cfg config.ProvidersConfig, saver TokenSaver) *MicrosoftAdapter {
	tenant := cfg.MicrosoftTenant
	if tenant == "" {
		tenant = "common"
	}
	return &MicrosoftAdapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", tenant),
				TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenant),
			},
			Scopes: []string{"offline_access", "Calendars.ReadWrite"},
		},
		saver: saver,
	}
}

// Provider identifies this adapter.
func (m *MicrosoftAdapter) Provider() models.Provider {
	return models.ProviderMicrosoft
}

// GetAuthorizationURL returns the consent URL for the OAuth handshake.
func (m *MicrosoftAdapter) GetAuthorizationURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode swaps an authorization code for tokens.
func (m *MicrosoftAdapter) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("microsoft exchange code: %w", err)
	}
	return fromOAuthToken(tok), nil
}

// RefreshToken renews an access token from the stored refresh token.
func (m *MicrosoftAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	src := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("microsoft refresh token: %w", err)
	}
	return fromOAuthToken(tok), nil
}

type graphEvent struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	IsAllDay    bool   `json:"isAllDay"`
	IsCancelled bool   `json:"isCancelled"`
	ShowAs      string `json:"showAs"`
	ChangeKey   string `json:"changeKey"`
	Removed     *struct {
		Reason string `json:"reason"`
	} `json:"@removed,omitempty"`
	Start graphDateTime `json:"start"`
	End   graphDateTime `json:"end"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEventPage struct {
	Value     []graphEvent `json:"value"`
	NextLink  string       `json:"@odata.nextLink"`
	DeltaLink string       `json:"@odata.deltaLink"`
}

// ListEvents pulls the calendar view delta. The cursor is Graph's delta link;
// an empty cursor starts a fresh window query.
func (m *MicrosoftAdapter) ListEvents(ctx context.Context, conn *models.CalendarConnection, window models.Slot, cursor string) (*ListResult, error) {
	endpoint := cursor
	if endpoint == "" {
		q := url.Values{}
		q.Set("startDateTime", window.Start.UTC().Format(time.RFC3339))
		q.Set("endDateTime", window.End.UTC().Format(time.RFC3339))
		endpoint = fmt.Sprintf("%s/me/calendarView/delta?%s", graphBaseURL, q.Encode())
	}

	var page graphEventPage
	if err := m.do(ctx, conn, http.MethodGet, endpoint, nil, &page); err != nil {
		return nil, err
	}

	result := &ListResult{NextCursor: page.DeltaLink}
	if result.NextCursor == "" {
		result.NextCursor = page.NextLink
	}
	for _, item := range page.Value {
		ev, ok := mapGraphEvent(item)
		if !ok {
			continue
		}
		result.Events = append(result.Events, ev)
	}
	return result, nil
}

// CreateEvent posts the event with a transaction id derived from the
// appointment, which Graph uses to de-duplicate retried creates.
func (m *MicrosoftAdapter) CreateEvent(ctx context.Context, conn *models.CalendarConnection, input EventInput) (string, error) {
	body := graphEventBody(input)
	body["transactionId"] = input.AppointmentID

	var created struct {
		ID string `json:"id"`
	}
	endpoint := graphBaseURL + "/me/events"
	if err := m.do(ctx, conn, http.MethodPost, endpoint, body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

// UpdateEvent patches the provider event in place.
func (m *MicrosoftAdapter) UpdateEvent(ctx context.Context, conn *models.CalendarConnection, externalID string, input EventInput) error {
	endpoint := fmt.Sprintf("%s/me/events/%s", graphBaseURL, url.PathEscape(externalID))
	return m.do(ctx, conn, http.MethodPatch, endpoint, graphEventBody(input), nil)
}

// DeleteEvent removes the provider event; an already-gone event is success.
func (m *MicrosoftAdapter) DeleteEvent(ctx context.Context, conn *models.CalendarConnection, externalID string) error {
	endpoint := fmt.Sprintf("%s/me/events/%s", graphBaseURL, url.PathEscape(externalID))
	err := m.do(ctx, conn, http.MethodDelete, endpoint, nil, nil)
	var sErr *StatusError
	if err != nil && errors.As(err, &sErr) && sErr.Status == http.StatusNotFound {
		return nil
	}
	return err
}

func (m *MicrosoftAdapter) do(ctx context.Context, conn *models.CalendarConnection, method, endpoint string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("graph marshal body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("graph build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	client := oauth2.NewClient(ctx, savingSource(ctx, m.oauth, conn, m.saver))
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("graph %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("graph %s: %w", method, &StatusError{Status: resp.StatusCode, Message: string(raw)})
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("graph decode response: %w", err)
	}
	return nil
}

func mapGraphEvent(item graphEvent) (Event, bool) {
	// "free" blocks no time; Graph's oof/workingElsewhere still occupy it.
	if item.ShowAs == "free" {
		return Event{}, false
	}

	ev := Event{
		ID:        item.ID,
		Title:     item.Subject,
		AllDay:    item.IsAllDay,
		Tentative: item.ShowAs == "tentative",
		Cancelled: item.IsCancelled || item.Removed != nil,
		Version:   item.ChangeKey,
	}

	var ok bool
	if ev.Start, ok = parseGraphTime(item.Start); !ok && !ev.Cancelled {
		return Event{}, false
	}
	if ev.End, ok = parseGraphTime(item.End); !ok && !ev.Cancelled {
		return Event{}, false
	}
	return ev, true
}

func parseGraphTime(dt graphDateTime) (time.Time, bool) {
	if dt.DateTime == "" {
		return time.Time{}, false
	}
	loc := time.UTC
	if dt.TimeZone != "" && dt.TimeZone != "UTC" {
		if l, err := time.LoadLocation(dt.TimeZone); err == nil {
			loc = l
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.0000000", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, dt.DateTime, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func graphEventBody(input EventInput) map[string]interface{} {
	body := map[string]interface{}{
		"subject": input.Title,
		"body": map[string]interface{}{
			"contentType": "text",
			"content":     input.Description,
		},
		"start": map[string]string{
			"dateTime": input.Start.UTC().Format("2006-01-02T15:04:05"),
			"timeZone": "UTC",
		},
		"end": map[string]string{
			"dateTime": input.End.UTC().Format("2006-01-02T15:04:05"),
			"timeZone": "UTC",
		},
	}
	if input.InviteeEmail != "" {
		body["attendees"] = []map[string]interface{}{
			{
				"emailAddress": map[string]string{"address": input.InviteeEmail},
				"type":         "required",
			},
		}
	}
	return body
}
