package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/quenby/streamwarden/bot"
	"github.com/quenby/streamwarden/platform"
)

// HandleSessionsList returns the status of every known session.
func (h *Handlers) HandleSessionsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.sessions.Statuses())
}

// HandleSessionDispatcher routes /sessions/{user} and
// /sessions/{user}/{action} requests.
func (h *Handlers) HandleSessionDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	userID := parts[0]
	if userID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}

	if len(parts) == 1 {
		h.handleSessionStatus(w, r, userID)
		return
	}

	switch parts[1] {
	case "start":
		h.handleSessionStart(w, r, userID)
	case "stop":
		h.handleSessionStop(w, r, userID)
	case "restart":
		h.handleSessionRestart(w, r, userID)
	case "post":
		h.handleSessionPost(w, r, userID)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleSessionStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := h.sessions.StatusOf(userID)
	if errors.Is(err, bot.ErrNoSession) {
		http.Error(w, "no session", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

func (h *Handlers) handleSessionStart(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := h.sessions.StartSession(r.Context(), userID)
	switch {
	case errors.Is(err, bot.ErrSessionRunning):
		http.Error(w, "session already running", http.StatusConflict)
	case errors.Is(err, bot.ErrNotConfigured):
		http.Error(w, "bot not configured", http.StatusPreconditionFailed)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeOK(w, userID)
	}
}

func (h *Handlers) handleSessionStop(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.sessions.StopSession(userID); errors.Is(err, bot.ErrNoSession) {
		http.Error(w, "no session", http.StatusNotFound)
		return
	}
	writeOK(w, userID)
}

func (h *Handlers) handleSessionRestart(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	err := h.sessions.RestartSession(r.Context(), userID)
	switch {
	case errors.Is(err, bot.ErrNotConfigured):
		http.Error(w, "bot not configured", http.StatusPreconditionFailed)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeOK(w, userID)
	}
}

// handleSessionPost triggers a manual content post, optionally limited to
// specific platforms via the "platforms" query param (comma separated).
func (h *Handlers) handleSessionPost(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var targets []platform.ID
	if raw := r.URL.Query().Get("platforms"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			p := platform.ID(strings.TrimSpace(strings.ToLower(part)))
			if !p.Valid() {
				http.Error(w, "unknown platform: "+string(p), http.StatusBadRequest)
				return
			}
			targets = append(targets, p)
		}
	}
	err := h.sessions.PostManualFact(userID, targets)
	switch {
	case errors.Is(err, bot.ErrNoSession):
		http.Error(w, "no session", http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeOK(w, userID)
	}
}

func writeOK(w http.ResponseWriter, userID string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "user_id": userID})
}
