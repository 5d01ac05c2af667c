package provider

import (
	"context"
	"sync"

	"golang.org/x/oauth2"

	"github.com/novacal/novacal-api/internal/models"
)

func fromOAuthToken(tok *oauth2.Token) *Token {
	t := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	return t
}

func toOAuthToken(conn *models.CalendarConnection) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
	}
	if conn.TokenExpiresAt != nil {
		tok.Expiry = *conn.TokenExpiresAt
	}
	return tok
}

// savingTokenSource wraps an oauth2 source and pushes silently refreshed
// tokens back to storage so the connection survives process restarts.
type savingTokenSource struct {
	ctx    context.Context
	src    oauth2.TokenSource
	connID string
	save   TokenSaver

	mu      sync.Mutex
	current string
}

func savingSource(ctx context.Context, cfg *oauth2.Config, conn *models.CalendarConnection, save TokenSaver) oauth2.TokenSource {
	base := toOAuthToken(conn)
	src := cfg.TokenSource(ctx, base)
	if save == nil {
		return src
	}
	return &savingTokenSource{ctx: ctx, src: src, connID: conn.ID, save: save, current: base.AccessToken}
}

// Token implements oauth2.TokenSource.
func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := tok.AccessToken != s.current
	if changed {
		s.current = tok.AccessToken
	}
	s.mu.Unlock()

	if changed {
		// Persist in-band; losing the refreshed token forces a re-auth later.
		_ = s.save(s.ctx, s.connID, fromOAuthToken(tok))
	}
	return tok, nil
}
