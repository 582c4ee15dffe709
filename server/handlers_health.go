package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/onnwee/chatqueue/backend/oauth"
	"github.com/onnwee/chatqueue/backend/queue"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz runs the readiness checks in order and reports the first failure.
// The twitch credential check runs only when the Twitch OAuth flow is configured.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.DB == nil {
				return nil
			}
			return h.DB.PingContext(ctx)
		}},
		{"queue", func() error {
			_, err := h.Queue.Count(ctx, queue.Awaiting)
			return err
		}},
		{"overlay", func() error {
			_, err := h.Overlay.Get(ctx)
			return err
		}},
		{"credentials", func() error {
			if h.Tokens == nil || h.OAuth[oauth.ProviderTwitch] == nil {
				return nil
			}
			tok, err := h.Tokens.LoadToken(ctx, oauth.ProviderTwitch)
			if err != nil {
				return err
			}
			if tok.AccessToken == "" {
				return fmt.Errorf("missing twitch oauth token")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
