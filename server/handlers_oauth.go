package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatqueue/backend/dispatch"
	"github.com/onnwee/chatqueue/backend/oauth"
)

// HandleOAuth serves /auth/{provider}/start and /auth/{provider}/callback for
// every provider in Deps.OAuth.
func (h *Handlers) HandleOAuth(w http.ResponseWriter, r *http.Request) {
	provider, step, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/auth/"), "/")
	if !ok || (step != "start" && step != "callback") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	cfg := h.OAuth[provider]
	if cfg == nil || h.Tokens == nil {
		http.Error(w, fmt.Sprintf("%s oauth not configured", provider), http.StatusBadRequest)
		return
	}
	if step == "start" {
		h.oauthStart(w, r, provider, cfg)
		return
	}
	h.oauthCallback(w, r, provider, cfg)
}

// oauthStart initiates the flow by redirecting to the provider.
func (h *Handlers) oauthStart(w http.ResponseWriter, r *http.Request, provider string, cfg *oauth2.Config) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, provider, time.Now()) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, cfg.AuthCodeURL(st, oauth2.AccessTypeOffline), http.StatusFound)
}

// oauthCallback validates state, exchanges the code, and stores the token.
func (h *Handlers) oauthCallback(w http.ResponseWriter, r *http.Request, provider string, cfg *oauth2.Config) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		http.Error(w, "authorization denied: "+e, http.StatusBadRequest)
		return
	}
	code, st := q.Get("code"), q.Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st, provider, time.Now()) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	tok, err := oauth.Exchange(r.Context(), cfg, h.Tokens, provider, code)
	if err != nil {
		writeError(w, r, dispatch.Client(provider, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"provider":              provider,
		"scope":                 tok.Scope,
		"expiry":                tok.Expiry,
		"refresh_token_present": tok.RefreshToken != "",
	})
}
