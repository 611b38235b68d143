package handler

import (
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/notifyhub/internal/api/middleware"
	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/service"
)

// PreferenceHandler serves the caller's own delivery preferences.
type PreferenceHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

func NewPreferenceHandler(engine *service.Engine, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{engine: engine, logger: logger}
}

// Get handles GET /api/v1/preferences
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.GetUserPreferences(r.Context(), apimw.GetUserID(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Update handles PUT /api/v1/preferences. Omitted fields keep their value.
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var u domain.PreferenceUpdate
	if err := decode(r, &u); err != nil {
		mapError(w, err)
		return
	}
	p, err := h.engine.UpdateUserPreferences(r.Context(), apimw.GetUserID(r.Context()), u)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Debug("update preferences failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
