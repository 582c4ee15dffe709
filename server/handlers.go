// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/chatqueue/backend/oauth"
	"github.com/onnwee/chatqueue/backend/openai"
	"github.com/onnwee/chatqueue/backend/overlay"
	"github.com/onnwee/chatqueue/backend/queue"
	"github.com/onnwee/chatqueue/backend/responder"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// Responder produces live chat replies.
type Responder interface {
	Respond(ctx context.Context, history []openai.ChatMessage) (responder.Reply, error)
}

// ThemeLister lists the available overlay themes.
type ThemeLister interface {
	List() ([]string, error)
}

// Pinger checks database connectivity; *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP API. Optional ones may be nil:
// Themes (empty list), DB (no database checks), Tokens and OAuth (OAuth routes
// answer "not configured").
type Deps struct {
	Queue     queue.Store
	Ingestor  *queue.Ingestor
	Responder Responder
	Overlay   overlay.Store
	Themes    ThemeLister
	Tokens    oauth.Store
	OAuth     map[string]*oauth2.Config
	DB        Pinger
	Auth      AuthConfig
	// StatusLimit caps the unverified listing.
	StatusLimit int
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps

	stateStore map[string]oauthState
	stateMu    sync.Mutex
}

type oauthState struct {
	provider string
	expiry   time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	if deps.StatusLimit <= 0 {
		deps.StatusLimit = 200
	}
	return &Handlers{
		Deps:       deps,
		stateStore: make(map[string]oauthState),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates(now time.Time) {
	for state, s := range h.stateStore {
		if now.After(s.expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records state for provider. It reports false when the store is full.
func (h *Handlers) addOAuthState(state, provider string, now time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates(now)
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = oauthState{provider: provider, expiry: now.Add(oauthStateTTL)}
	return true
}

// consumeOAuthState removes state and reports whether it was valid for provider.
func (h *Handlers) consumeOAuthState(state, provider string, now time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	s, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return s.provider == provider && !now.After(s.expiry)
}
