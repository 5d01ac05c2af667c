package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/novacal/novacal-api/internal/models"
)

// BusyFeedAdapter reads a hosted free/busy JSON feed. It carries no OAuth
// handshake and exposes busy intervals only; every mutation is rejected.
type BusyFeedAdapter struct {
	client *http.Client
}

// NewBusyFeedAdapter builds the adapter with a bounded HTTP client.
func NewBusyFeedAdapter(timeout time.Duration) *BusyFeedAdapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BusyFeedAdapter{client: &http.Client{Timeout: timeout}}
}

// Provider identifies this adapter.
func (b *BusyFeedAdapter) Provider() models.Provider {
	return models.ProviderBusyFeed
}

// GetAuthorizationURL is empty: busy feeds are attached by URL, not OAuth.
func (b *BusyFeedAdapter) GetAuthorizationURL(string) string {
	return ""
}

// ExchangeCode is unsupported for feeds.
func (b *BusyFeedAdapter) ExchangeCode(context.Context, string) (*Token, error) {
	return nil, ErrReadOnly
}

// RefreshToken is unsupported for feeds.
func (b *BusyFeedAdapter) RefreshToken(context.Context, string) (*Token, error) {
	return nil, ErrReadOnly
}

type feedEntry struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Title     string    `json:"title,omitempty"`
	Tentative bool      `json:"tentative,omitempty"`
}

// ListEvents fetches the feed and returns busy intervals inside the window.
// Feeds have no change cursor; every call is a full window read.
func (b *BusyFeedAdapter) ListEvents(ctx context.Context, conn *models.CalendarConnection, window models.Slot, _ string) (*ListResult, error) {
	if conn.FeedURL == nil || *conn.FeedURL == "" {
		return nil, fmt.Errorf("busy feed connection %s has no feed url", conn.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *conn.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("busy feed build request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("busy feed fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("busy feed fetch: %w", &StatusError{Status: resp.StatusCode, Message: string(raw)})
	}

	var entries []feedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("busy feed decode: %w", err)
	}

	result := &ListResult{}
	for i, entry := range entries {
		slot := models.Slot{Start: entry.Start.UTC(), End: entry.End.UTC()}
		if !slot.End.After(slot.Start) || !slot.Overlaps(window) {
			continue
		}
		result.Events = append(result.Events, Event{
			ID:        fmt.Sprintf("feed-%s-%d", conn.ID, i),
			Title:     entry.Title,
			Start:     slot.Start,
			End:       slot.End,
			Tentative: entry.Tentative,
		})
	}
	return result, nil
}

// CreateEvent is unsupported for feeds.
func (b *BusyFeedAdapter) CreateEvent(context.Context, *models.CalendarConnection, EventInput) (string, error) {
	return "", ErrReadOnly
}

// UpdateEvent is unsupported for feeds.
func (b *BusyFeedAdapter) UpdateEvent(context.Context, *models.CalendarConnection, string, EventInput) error {
	return ErrReadOnly
}

// DeleteEvent is unsupported for feeds.
func (b *BusyFeedAdapter) DeleteEvent(context.Context, *models.CalendarConnection, string) error {
	return ErrReadOnly
}
