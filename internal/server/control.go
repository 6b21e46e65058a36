package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nholik/freshness-sentinel/internal/session"
	"github.com/rs/zerolog"
)

type controlHandler struct {
	logger  zerolog.Logger
	targets Targets
}

type checkResponse struct {
	Target    string         `json:"target"`
	HasUpdate bool           `json:"has_update"`
	Status    session.Status `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *controlHandler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.targets.Statuses())
}

func (h *controlHandler) target(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

func (h *controlHandler) check(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	updated, err := s.CheckNow(r.Context())
	if err != nil {
		h.writeActionError(w, s.Target(), "check", err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{Target: s.Target(), HasUpdate: updated, Status: s.Status()})
}

func (h *controlHandler) dismiss(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Dismiss(); err != nil {
		h.writeActionError(w, s.Target(), "dismiss", err)
		return
	}
	writeJSON(w, http.StatusOK, s.Status())
}

func (h *controlHandler) refresh(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Refresh(); err != nil {
		h.writeActionError(w, s.Target(), "refresh", err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.Status())
}

func (h *controlHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	name := mux.Vars(r)["name"]
	s, ok := h.targets.Lookup(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown target " + name})
		return nil, false
	}
	return s, true
}

func (h *controlHandler) writeActionError(w http.ResponseWriter, target, action string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, session.ErrNotLoaded) {
		status = http.StatusConflict
	}
	h.logger.Warn().Err(err).Str("target", target).Str("action", action).Msg("control action failed")
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
