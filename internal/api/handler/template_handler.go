package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/notifyhub/internal/api/middleware"
	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/service"
)

type TemplateHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

func NewTemplateHandler(engine *service.Engine, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{engine: engine, logger: logger}
}

// Create handles POST /api/v1/templates
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTemplateRequest
	if err := decode(r, &req); err != nil {
		mapError(w, err)
		return
	}
	t, err := h.engine.CreateTemplate(r.Context(), req, apimw.GetUserID(r.Context()))
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Debug("create template failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// List handles GET /api/v1/templates?active=true
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if s := r.URL.Query().Get("active"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			mapError(w, badParam("active", "must be true or false"))
			return
		}
		activeOnly = b
	}
	ts, err := h.engine.ListTemplates(r.Context(), activeOnly)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ts)
}

// Get handles GET /api/v1/templates/{id}
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// SetActive handles PATCH /api/v1/templates/{id} with {"is_active": bool}.
func (h *TemplateHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if err := decode(r, &req); err != nil {
		mapError(w, err)
		return
	}
	if req.IsActive == nil {
		mapError(w, badParam("is_active", "is required"))
		return
	}
	t, err := h.engine.SetTemplateActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}
