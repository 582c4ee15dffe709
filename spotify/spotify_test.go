package spotify

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatqueue/backend/db"
	"github.com/onnwee/chatqueue/backend/dispatch"
	"github.com/onnwee/chatqueue/backend/oauth"
	"github.com/onnwee/chatqueue/backend/testutil"
)

func newClient(t *testing.T, mock *testutil.MockServer, stored *db.OAuthToken) (*Client, *oauth.MemoryStore) {
	t.Helper()
	store := oauth.NewMemoryStore()
	if stored != nil {
		stored.Provider = oauth.ProviderSpotify
		_ = store.SaveToken(context.Background(), *stored)
	}
	cfg := &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: mock.URL + "/api/token", AuthStyle: oauth2.AuthStyleInParams},
	}
	c := New(context.Background(), cfg, store)
	c.APIBase = mock.URL
	return c, store
}

func TestEnqueueTrack(t *testing.T) {
	mock := testutil.NewMockServer(t)
	mock.Handlers["POST /v1/me/player/queue"] = func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("uri"); got != "spotify:track:4uLU6hMCjMI75M1A2tKUQC" {
			t.Errorf("uri = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer live" {
			t.Errorf("Authorization = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}
	c, _ := newClient(t, mock, &db.OAuthToken{AccessToken: "live", RefreshToken: "rt", Expiry: time.Now().Add(time.Hour)})
	if err := c.EnqueueTrack(context.Background(), "4uLU6hMCjMI75M1A2tKUQC"); err != nil {
		t.Fatalf("EnqueueTrack: %v", err)
	}
}

func TestEnqueueTrackRefreshesExpiredToken(t *testing.T) {
	mock := testutil.NewMockServer(t)
	mock.MockOAuthTokenResponse("POST /api/token", "renewed", "rt2", 3600)
	mock.Handlers["POST /v1/me/player/queue"] = func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer renewed" {
			t.Errorf("Authorization = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}
	c, store := newClient(t, mock, &db.OAuthToken{AccessToken: "old", RefreshToken: "rt", Expiry: time.Now().Add(-time.Minute)})
	if err := c.EnqueueTrack(context.Background(), "abc123"); err != nil {
		t.Fatalf("EnqueueTrack: %v", err)
	}
	tok, _ := store.LoadToken(context.Background(), oauth.ProviderSpotify)
	if tok.AccessToken != "renewed" || tok.RefreshToken != "rt2" {
		t.Errorf("stored token = %+v", tok)
	}
}

func TestEnqueueTrackFailures(t *testing.T) {
	tests := []struct {
		name   string
		stored *db.OAuthToken
		status int
	}{
		{"no device", &db.OAuthToken{AccessToken: "live", Expiry: time.Now().Add(time.Hour)}, http.StatusNotFound},
		{"unauthorized", &db.OAuthToken{AccessToken: "live", Expiry: time.Now().Add(time.Hour)}, http.StatusUnauthorized},
		{"not authorized yet", nil, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockServer(t)
			mock.JSON("POST /v1/me/player/queue", tt.status, map[string]any{"error": map[string]any{"status": tt.status}})
			c, _ := newClient(t, mock, tt.stored)
			err := c.EnqueueTrack(context.Background(), "abc123")
			if !dispatch.IsClientError(err, "music") {
				t.Fatalf("expected music client error, got %v", err)
			}
			if tt.stored == nil && !errors.Is(err, oauth.ErrNoToken) {
				t.Errorf("err = %v, want ErrNoToken", err)
			}
		})
	}
}
