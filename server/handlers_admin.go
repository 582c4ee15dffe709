package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatqueue/backend/command"
	"github.com/onnwee/chatqueue/backend/queue"
)

// messageView is the JSON shape of a queued message.
type messageView struct {
	ID        uuid.UUID  `json:"id"`
	Author    string     `json:"username"`
	Text      string     `json:"text"`
	Command   string     `json:"command"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

func newMessageView(m queue.Message) messageView {
	return messageView{
		ID:        m.ID,
		Author:    m.Author,
		Text:      m.Text(),
		Command:   m.Command.Kind.Name(),
		Role:      string(m.Role),
		Status:    m.Status.String(),
		CreatedAt: m.CreatedAt,
		ClaimedAt: m.ClaimedAt,
	}
}

// HandleUnverified lists messages waiting for moderator approval, oldest first.
func (h *Handlers) HandleUnverified(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	limit := parseIntQuery(r, "limit", h.StatusLimit)
	if limit <= 0 || limit > h.StatusLimit {
		limit = h.StatusLimit
	}
	msgs, err := h.Queue.List(r.Context(), queue.Unverified, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

type approveRequest struct {
	IDs []uuid.UUID `json:"ids" validate:"required,min=1,max=1000"`
}

// HandleApprove moves the given Unverified messages to Awaiting. Ids in any
// other status are skipped; the response counts the rows that moved.
func (h *Handlers) HandleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.Queue.Approve(r.Context(), req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"approved": n})
}

type enqueueRequest struct {
	Text    string `json:"text" validate:"required,max=2000"`
	Role    string `json:"role" validate:"omitempty,oneof=audience reply announcement"`
	Command string `json:"command" validate:"omitempty,max=16"`
	Author  string `json:"username" validate:"omitempty,max=64"`
}

// HandleAdminEnqueue inserts a message straight into Awaiting. Audience
// messages default to !PROMPT; reply and announcement messages carry no command.
func (h *Handlers) HandleAdminEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeError(w, r, fmt.Errorf("%w: text is blank", errBadRequest))
		return
	}
	role := queue.Role(req.Role)
	if role == "" {
		role = queue.RoleAudience
	}
	kind := command.Unknown
	switch {
	case req.Command != "":
		k, ok := command.KindFromToken(req.Command)
		if !ok {
			writeError(w, r, fmt.Errorf("%w: unknown command %q", errBadRequest, req.Command))
			return
		}
		kind = k
	case role == queue.RoleAudience:
		kind = command.StoreChatMessage
	}
	author := req.Author
	if author == "" {
		author = "admin"
	}
	cmd := command.Command{Kind: kind, Text: req.Text}
	id, err := h.Ingestor.Enqueue(r.Context(), author, role, cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "role": role, "command": kind.Name()})
}

type promptRequest struct {
	Prompt string `json:"prompt" validate:"required,max=8000"`
}

// HandleAdminPrompt replaces the live AI system prompt ("none" disables it).
func (h *Handlers) HandleAdminPrompt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	var req promptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeError(w, r, fmt.Errorf("%w: prompt is blank", errBadRequest))
		return
	}
	if err := h.Overlay.UpdatePrompt(r.Context(), prompt); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
