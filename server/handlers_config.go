package server

import (
	"encoding/json"
	"net/http"

	"github.com/quenby/streamwarden/bot"
)

// configPayload is the wire shape for bot configuration.
type configPayload struct {
	UserID             string   `json:"user_id"`
	StreamerName       string   `json:"streamer_name"`
	Topic              string   `json:"topic"`
	CommandPrefix      string   `json:"command_prefix"`
	IntervalMode       string   `json:"interval_mode"`
	IntervalMinutes    int      `json:"interval_minutes"`
	MinIntervalMinutes int      `json:"min_interval_minutes"`
	MaxIntervalMinutes int      `json:"max_interval_minutes"`
	FactKeywords       []string `json:"fact_keywords"`
	ChatterChance      float64  `json:"chatter_chance"`
	GenerateRetries    int      `json:"generate_retries"`
}

func toPayload(cfg *bot.BotConfig) configPayload {
	return configPayload{
		UserID:             cfg.UserID,
		StreamerName:       cfg.StreamerName,
		Topic:              cfg.Topic,
		CommandPrefix:      cfg.CommandPrefix,
		IntervalMode:       cfg.IntervalMode,
		IntervalMinutes:    cfg.IntervalMinutes,
		MinIntervalMinutes: cfg.MinIntervalMinutes,
		MaxIntervalMinutes: cfg.MaxIntervalMinutes,
		FactKeywords:       cfg.FactKeywords,
		ChatterChance:      cfg.ChatterChance,
		GenerateRetries:    cfg.GenerateRetries,
	}
}

func (p configPayload) toConfig() *bot.BotConfig {
	return &bot.BotConfig{
		UserID:             p.UserID,
		StreamerName:       p.StreamerName,
		Topic:              p.Topic,
		CommandPrefix:      p.CommandPrefix,
		IntervalMode:       p.IntervalMode,
		IntervalMinutes:    p.IntervalMinutes,
		MinIntervalMinutes: p.MinIntervalMinutes,
		MaxIntervalMinutes: p.MaxIntervalMinutes,
		FactKeywords:       p.FactKeywords,
		ChatterChance:      p.ChatterChance,
		GenerateRetries:    p.GenerateRetries,
	}
}

// HandleConfig serves GET (fetch) and PUT (replace) for one user's bot
// configuration. The user is named by the user_id query param on GET and
// by the payload on PUT. Config changes take effect on session restart.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "missing user_id", http.StatusBadRequest)
			return
		}
		cfg, err := h.store.GetBotConfig(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if cfg == nil {
			http.Error(w, "not configured", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(toPayload(cfg))

	case http.MethodPut, http.MethodPost:
		var payload configPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if payload.UserID == "" {
			http.Error(w, "missing user_id", http.StatusBadRequest)
			return
		}
		cfg := payload.toConfig()
		cfg.Normalize()
		if err := h.store.UpdateBotConfig(r.Context(), cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(toPayload(cfg))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
