package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tablesync/internal/hub"
	"github.com/DoyleJ11/tablesync/internal/session"
)

func CreateGame(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := h.Create(r.Context())
		if err != nil || s == nil {
			log.Error("failed to create game", zap.Error(err))
			http.Error(w, "failed to create game", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			Code string `json:"code"`
		}{Code: s.Code()})
	}
}

// GetGame reports roster size and the live entries of one game.
func GetGame(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		s, err := h.Get(r.Context(), code)
		if err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if s == nil {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		view, err := s.State(r.Context())
		if errors.Is(err, session.ErrSessionClosed) {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
