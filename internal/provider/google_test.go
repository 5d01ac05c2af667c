package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/novacal/novacal-api/internal/models"
	"github.com/novacal/novacal-api/pkg/config"
)

func googleTestConn() *models.CalendarConnection {
	expiry := time.Now().UTC().Add(time.Hour)
	return &models.CalendarConnection{
		ID:             "conn-1",
		TenantID:       "t1",
		Provider:       models.ProviderGoogle,
		Status:         models.ConnectionActive,
		AccessToken:    "access",
		RefreshToken:   "refresh",
		TokenExpiresAt: &expiry,
	}
}

func googleTestItem(id string, start time.Time) *gcal.Event {
	return &gcal.Event{
		Id:      id,
		Summary: "Planning",
		Status:  "confirmed",
		Updated: start.Format(time.RFC3339),
		Start:   &gcal.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:     &gcal.EventDateTime{DateTime: start.Add(time.Hour).Format(time.RFC3339)},
	}
}

func googleTestServer(t *testing.T, pages []*gcal.Events, queries *[]url.Values) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*queries = append(*queries, r.URL.Query())
		require.LessOrEqual(t, len(*queries), len(pages), "more requests than scripted pages")
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(pages[len(*queries)-1]))
	}))
}

func TestGoogleListEventsPaginatesWindowFetch(t *testing.T) {
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	pages := []*gcal.Events{
		{Items: []*gcal.Event{googleTestItem("ev-1", start)}, NextPageToken: "p2"},
		{Items: []*gcal.Event{googleTestItem("ev-2", start.Add(2 * time.Hour))}, NextSyncToken: "s1"},
	}
	var queries []url.Values
	srv := googleTestServer(t, pages, &queries)
	defer srv.Close()

	adapter := NewGoogleAdapter(config.ProvidersConfig{}, nil)
	adapter.endpoint = srv.URL

	window := models.Slot{Start: start.AddDate(0, 0, -1), End: start.AddDate(0, 0, 60)}
	result, err := adapter.ListEvents(context.Background(), googleTestConn(), window, "")
	require.NoError(t, err)

	require.Len(t, queries, 2)
	assert.Empty(t, queries[0].Get("pageToken"))
	assert.Equal(t, "p2", queries[1].Get("pageToken"))
	// A page token continues the same window fetch; it must never be sent as
	// a sync token.
	assert.Empty(t, queries[0].Get("syncToken"))
	assert.Empty(t, queries[1].Get("syncToken"))
	assert.NotEmpty(t, queries[1].Get("timeMin"))

	require.Len(t, result.Events, 2)
	assert.Equal(t, "ev-1", result.Events[0].ID)
	assert.Equal(t, "ev-2", result.Events[1].ID)
	assert.Equal(t, "s1", result.NextCursor, "only the sync token may become the stored cursor")
}

func TestGoogleListEventsIncrementalFetchSendsSyncToken(t *testing.T) {
	start := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	pages := []*gcal.Events{
		{Items: []*gcal.Event{googleTestItem("ev-3", start)}, NextSyncToken: "s2"},
	}
	var queries []url.Values
	srv := googleTestServer(t, pages, &queries)
	defer srv.Close()

	adapter := NewGoogleAdapter(config.ProvidersConfig{}, nil)
	adapter.endpoint = srv.URL

	window := models.Slot{Start: start.AddDate(0, 0, -1), End: start.AddDate(0, 0, 60)}
	result, err := adapter.ListEvents(context.Background(), googleTestConn(), window, "s1")
	require.NoError(t, err)

	require.Len(t, queries, 1)
	assert.Equal(t, "s1", queries[0].Get("syncToken"))
	assert.Empty(t, queries[0].Get("timeMin"), "incremental fetches drop the window bounds")

	require.Len(t, result.Events, 1)
	assert.Equal(t, "s2", result.NextCursor)
}
