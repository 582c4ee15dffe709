package server

import (
	"net/http"

	"github.com/onnwee/chatqueue/backend/openai"
)

type chatRequest struct {
	Messages []chatMessage `json:"messages" validate:"required,min=1,max=200,dive"`
}

type chatMessage struct {
	Role    string `json:"role" validate:"oneof=system user assistant"`
	Content string `json:"content" validate:"max=8000"`
}

type chatResponse struct {
	Response string `json:"response"`
	Source   string `json:"source"`
}

// HandleChat answers a live chat history with an AI completion or a queued reply.
// It blocks until a reply is produced or the reply timeout elapses (504).
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	history := make([]openai.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		history = append(history, openai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	reply, err := h.Responder.Respond(r.Context(), history)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply.Text, Source: reply.Source})
}
