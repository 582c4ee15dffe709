// Package oauth holds the OAuth2 provider configs (Twitch, Spotify), the token
// store abstraction shared by the Postgres and in-memory backends, and a
// jittered background refresher.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatqueue/backend/db"
)

// Provider keys in the oauth_tokens table.
const (
	ProviderTwitch  = "twitch"
	ProviderSpotify = "spotify"
)

// ErrNoToken means no authorization has been completed for the provider yet.
var ErrNoToken = errors.New("no stored oauth token")

// Endpoints.
var (
	TwitchEndpoint = oauth2.Endpoint{
		AuthURL:   "https://id.twitch.tv/oauth2/authorize",
		TokenURL:  "https://id.twitch.tv/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	SpotifyEndpoint = oauth2.Endpoint{
		AuthURL:   "https://accounts.spotify.com/authorize",
		TokenURL:  "https://accounts.spotify.com/api/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}
)

// SpotifyScopes are requested by the music client.
var SpotifyScopes = []string{"user-modify-playback-state", "user-read-playback-state"}

// Store persists one token per provider. *db.TokenStore and *MemoryStore implement it.
type Store interface {
	LoadToken(ctx context.Context, provider string) (db.OAuthToken, error)
	SaveToken(ctx context.Context, tok db.OAuthToken) error
}

// NewTwitchConfig builds the Twitch authorization-code config. scopes may be
// separated by spaces or commas.
func NewTwitchConfig(clientID, clientSecret, redirectURI, scopes string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint:     TwitchEndpoint,
		Scopes:       strings.Fields(strings.ReplaceAll(scopes, ",", " ")),
	}
}

// NewSpotifyConfig builds the Spotify authorization-code config.
func NewSpotifyConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint:     SpotifyEndpoint,
		Scopes:       SpotifyScopes,
	}
}

// FromOAuth2 converts a token response into a storable row. Twitch reports scope
// as a JSON array and Spotify as a space separated string; both are normalized.
func FromOAuth2(provider string, t *oauth2.Token) db.OAuthToken {
	return db.OAuthToken{
		Provider:     provider,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
		Scope:        scopeOf(t),
	}
}

// ToOAuth2 converts a stored row back into an oauth2 token.
func ToOAuth2(tok db.OAuthToken) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       tok.Expiry,
	}
}

func scopeOf(t *oauth2.Token) string {
	switch v := t.Extra("scope").(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, s := range v {
			parts = append(parts, fmt.Sprint(s))
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// Exchange trades an authorization code for a token and persists it.
func Exchange(ctx context.Context, cfg *oauth2.Config, store Store, provider, code string) (db.OAuthToken, error) {
	t, err := cfg.Exchange(ctx, code)
	if err != nil {
		return db.OAuthToken{}, fmt.Errorf("%s code exchange: %w", provider, err)
	}
	tok := FromOAuth2(provider, t)
	if err := store.SaveToken(ctx, tok); err != nil {
		return db.OAuthToken{}, err
	}
	return tok, nil
}

// storedSource serves the stored token, refreshing and persisting it when expired.
type storedSource struct {
	ctx      context.Context
	cfg      *oauth2.Config
	store    Store
	provider string

	mu sync.Mutex
}

// StoredTokenSource returns a TokenSource backed by store. Wrap it with
// oauth2.NewClient to get a client that always sends a current token.
func StoredTokenSource(ctx context.Context, cfg *oauth2.Config, store Store, provider string) oauth2.TokenSource {
	return &storedSource{ctx: ctx, cfg: cfg, store: store, provider: provider}
}

func (s *storedSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.store.LoadToken(s.ctx, s.provider)
	if err != nil {
		return nil, err
	}
	if stored.AccessToken == "" && stored.RefreshToken == "" {
		return nil, fmt.Errorf("%s: %w", s.provider, ErrNoToken)
	}
	cur := ToOAuth2(stored)
	if cur.Valid() {
		return cur, nil
	}
	fresh, err := s.cfg.TokenSource(s.ctx, cur).Token()
	if err != nil {
		return nil, fmt.Errorf("%s refresh: %w", s.provider, err)
	}
	next := FromOAuth2(s.provider, fresh)
	if next.RefreshToken == "" {
		next.RefreshToken = stored.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = stored.Scope
	}
	if err := s.store.SaveToken(s.ctx, next); err != nil {
		return nil, err
	}
	return fresh, nil
}

// MemoryStore keeps tokens in process; used with the memory store backend and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]db.OAuthToken
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]db.OAuthToken)}
}

// LoadToken returns a zero token (not an error) for an unknown provider, like the table.
func (m *MemoryStore) LoadToken(_ context.Context, provider string) (db.OAuthToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if tok, ok := m.tokens[provider]; ok {
		return tok, nil
	}
	return db.OAuthToken{Provider: provider}, nil
}

func (m *MemoryStore) SaveToken(_ context.Context, tok db.OAuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tok.Provider] = tok
	return nil
}

// expiresWithin reports whether tok expires within window of now.
func expiresWithin(tok db.OAuthToken, window time.Duration, now time.Time) bool {
	return !tok.Expiry.IsZero() && tok.Expiry.Sub(now) <= window
}
