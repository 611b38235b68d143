package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/notifyhub/internal/api/middleware"
	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/realtime"
)

// Announcer broadcasts operator messages; *realtime.Broadcaster satisfies it.
type Announcer interface {
	SendSystemNotification(msg realtime.SystemMessage) int
	SendMaintenanceNotification(msg realtime.SystemMessage) int
}

// Presence answers who is connected; *realtime.Registry satisfies it.
type Presence interface {
	ListConnections(userID string) []string
	Counts() (connections, users int)
}

type RealtimeHandler struct {
	announcer Announcer
	presence  Presence
	validate  *validator.Validate
	logger    *zap.Logger
}

func NewRealtimeHandler(a Announcer, p Presence, logger *zap.Logger) *RealtimeHandler {
	return &RealtimeHandler{announcer: a, presence: p, validate: validator.New(), logger: logger}
}

// System handles POST /api/v1/realtime/system
func (h *RealtimeHandler) System(w http.ResponseWriter, r *http.Request) {
	h.announce(w, r, h.announcer.SendSystemNotification)
}

// Maintenance handles POST /api/v1/realtime/maintenance
func (h *RealtimeHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	h.announce(w, r, h.announcer.SendMaintenanceNotification)
}

func (h *RealtimeHandler) announce(w http.ResponseWriter, r *http.Request, send func(realtime.SystemMessage) int) {
	var msg realtime.SystemMessage
	if err := decode(r, &msg); err != nil {
		mapError(w, err)
		return
	}
	if err := h.validate.Struct(msg); err != nil {
		mapError(w, &domain.ValidationError{Message: err.Error(), Err: domain.ErrInvalidInput})
		return
	}
	n := send(msg)
	apimw.Logger(r.Context(), h.logger).Info("announcement sent",
		zap.String("title", msg.Title), zap.Int("connections", n))
	respondJSON(w, http.StatusAccepted, map[string]int{"delivered": n})
}

// Presence handles GET /api/v1/realtime/presence/{userID}
func (h *RealtimeHandler) Presence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	conns := h.presence.ListConnections(userID)
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"online":      len(conns) > 0,
		"connections": len(conns),
	})
}
