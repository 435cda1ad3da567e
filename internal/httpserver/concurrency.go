package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MirSameerIrfan/kodus-ai-sub004/internal/ratelimit"
)

type setConcurrencyRequest struct {
	Limit int64 `json:"limit"`
}

type concurrencyResponse struct {
	Destination string `json:"destination"`
	Limit       int64  `json:"limit"`
	Inflight    int64  `json:"inflight"`
}

// getConcurrencyHandler reports a destination's configured limit and
// current inflight count.
func (a *App) getConcurrencyHandler(w http.ResponseWriter, r *http.Request) {
	dest := chi.URLParam(r, "destination")

	limit, err := ratelimit.ConcurrencyLimit(r.Context(), a.Redis, dest)
	if err != nil {
		a.Logger.Error("concurrency limit load failed", "destination", dest, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load concurrency limit")
		return
	}
	inflight, err := ratelimit.InflightCount(r.Context(), a.Redis, dest)
	if err != nil {
		a.Logger.Error("inflight count load failed", "destination", dest, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load inflight count")
		return
	}

	writeJSON(w, http.StatusOK, concurrencyResponse{
		Destination: dest,
		Limit:       limit,
		Inflight:    inflight,
	})
}

// setConcurrencyHandler tunes a destination's concurrency limit at
// runtime. Takes effect on the next claim; running executions are not
// interrupted.
func (a *App) setConcurrencyHandler(w http.ResponseWriter, r *http.Request) {
	dest := chi.URLParam(r, "destination")

	var req setConcurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be positive")
		return
	}

	if err := ratelimit.SetConcurrencyLimit(r.Context(), a.Redis, dest, req.Limit); err != nil {
		a.Logger.Error("concurrency limit update failed", "destination", dest, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to update concurrency limit")
		return
	}

	a.Logger.Info("concurrency limit updated", "destination", dest, "limit", req.Limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"destination": dest,
		"limit":       req.Limit,
	})
}
