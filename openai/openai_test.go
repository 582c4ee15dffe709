package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/onnwee/chatqueue/backend/dispatch"
	"github.com/onnwee/chatqueue/backend/testutil"
)

func TestCompleteReturnsFirstChoice(t *testing.T) {
	srv := testutil.NewMockServer(t)
	var got struct {
		Model    string        `json:"model"`
		Messages []ChatMessage `json:"messages"`
	}
	srv.Handlers["POST /chat/completions"] = func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi chat"}}]}`))
	}

	c := New("sk-test", srv.URL, "gpt-4o")
	out, err := c.Complete(context.Background(), []ChatMessage{
		{Role: RoleSystem, Content: "be nice"},
		{Role: RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hi chat" {
		t.Errorf("content = %q", out)
	}
	if got.Model != "gpt-4o" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("request = %+v", got)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.JSON("POST /chat/completions", http.StatusOK, map[string]any{"id": "x", "choices": []any{}})
	c := New("sk-test", srv.URL, "gpt-4o")
	_, err := c.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hello"}})
	if !dispatch.IsClientError(err, "ai") {
		t.Fatalf("expected ai client error, got %v", err)
	}
}

func TestCompleteHTTPError(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.JSON("POST /chat/completions", http.StatusUnauthorized, map[string]any{
		"error": map[string]any{"message": "bad key", "type": "invalid_request_error"},
	})
	c := New("sk-bad", srv.URL, "gpt-4o")
	if _, err := c.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hello"}}); !dispatch.IsClientError(err, "ai") {
		t.Fatalf("expected ai client error, got %v", err)
	}
}

func TestMockChatCompletionHelper(t *testing.T) {
	srv := testutil.NewMockServer(t)
	srv.MockChatCompletion("from helper")
	c := New("k", srv.URL, "gpt-4o")
	out, err := c.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "x"}})
	if err != nil || out != "from helper" {
		t.Fatalf("Complete = %q %v", out, err)
	}
}
