package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockServer is an httptest server routing by "METHOD /path" or bare "/path"
// and recording every request it receives.
type MockServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []*http.Request
}

// NewMockServer starts a mock upstream closed at test cleanup.
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := &MockServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, r.Clone(r.Context()))
		m.mu.Unlock()
		if h, ok := m.Handlers[r.Method+" "+r.URL.Path]; ok {
			h(w, r)
			return
		}
		if h, ok := m.Handlers[r.URL.Path]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns the requests seen so far.
func (m *MockServer) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...)
}

// JSON registers a handler for key replying with status and body encoded as JSON.
func (m *MockServer) JSON(key string, status int, body any) {
	m.Handlers[key] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenResponse serves an OAuth2 token endpoint at path.
func (m *MockServer) MockOAuthTokenResponse(path, accessToken, refreshToken string, expiresIn int) {
	m.JSON(path, http.StatusOK, map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    expiresIn,
		"token_type":    "bearer",
	})
}

// MockChatCompletion serves an OpenAI-compatible /chat/completions endpoint
// answering with content.
func (m *MockServer) MockChatCompletion(content string) {
	m.JSON("POST /chat/completions", http.StatusOK, map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": content},
		}},
	})
}
