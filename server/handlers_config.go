package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/chatqueue/backend/overlay"
	"github.com/onnwee/chatqueue/backend/queue"
	"github.com/onnwee/chatqueue/backend/telemetry"
)

type configResponse struct {
	Sound        string `json:"sound"`
	Theme        string `json:"theme"`
	Alert        string `json:"alert"`
	Announcement string `json:"announcement,omitempty"`
}

// HandleConfig returns the overlay settings. Each poll also drains at most one
// pending announcement, which is marked Completed once returned.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	s, err := h.Overlay.Get(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := configResponse{Sound: s.Sound, Theme: s.Theme, Alert: s.Alert}
	m, err := h.Queue.Take(ctx, queue.ForRole(queue.RoleAnnouncement))
	switch {
	case err == nil:
		out.Announcement = m.Text()
	case !errors.Is(err, queue.ErrEmpty):
		// The overlay keeps polling; a missed announcement is picked up next time.
		telemetry.LoggerWithCorr(ctx).Warn("announcement lookup failed", slog.String("component", "http"), slog.Any("err", err))
	}
	writeJSON(w, http.StatusOK, out)
}

type updateConfigRequest struct {
	Sound *string `json:"sound_name" validate:"omitempty,max=200"`
	Theme *string `json:"theme" validate:"omitempty,max=200"`
	Alert *string `json:"alert" validate:"omitempty,max=200"`
}

// HandleUpdateConfig replaces sound, theme and alert; omitted fields become "none".
func (h *Handlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req updateConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.Overlay.Update(r.Context(), overlay.Update{Sound: req.Sound, Theme: req.Theme, Alert: req.Alert}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleThemes lists the theme names accepted by !SET.
func (h *Handlers) HandleThemes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	names := []string{}
	if h.Themes != nil {
		list, err := h.Themes.List()
		if err != nil {
			writeError(w, r, err)
			return
		}
		names = append(names, list...)
	}
	writeJSON(w, http.StatusOK, names)
}

type statusResponse struct {
	Counts         map[string]int `json:"counts"`
	InProcess      bool           `json:"in_process"`
	OldestAwaiting *messageView   `json:"oldest_awaiting"`
	Time           time.Time      `json:"time"`
}

// HandleStatus returns a lightweight summary: counts per status and the next
// audience message the poller will claim.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx := r.Context()
	out := statusResponse{Counts: make(map[string]int, 4), Time: time.Now().UTC()}
	for _, st := range []queue.Status{queue.Unverified, queue.Awaiting, queue.InProcess, queue.Completed} {
		n, err := h.Queue.Count(ctx, st)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out.Counts[st.String()] = n
	}
	out.InProcess = out.Counts[queue.InProcess.String()] > 0
	m, err := h.Queue.SelectOldest(ctx, queue.Awaiting, queue.ForRole(queue.RoleAudience))
	switch {
	case err == nil:
		v := newMessageView(*m)
		out.OldestAwaiting = &v
	case !errors.Is(err, queue.ErrEmpty):
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
