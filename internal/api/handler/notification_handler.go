package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/notifyhub/internal/api/middleware"
	"github.com/notifyhub/notifyhub/internal/domain"
	"github.com/notifyhub/notifyhub/internal/service"
)

// notificationView renders a notification with its derived analytics.
type notificationView struct {
	*domain.Notification
	Analytics domain.Analytics `json:"analytics"`
}

func view(n *domain.Notification) notificationView {
	return notificationView{Notification: n, Analytics: n.Analytics()}
}

func views(ns []*domain.Notification) []notificationView {
	out := make([]notificationView, len(ns))
	for i, n := range ns {
		out[i] = view(n)
	}
	return out
}

type searchResult struct {
	Notifications []notificationView `json:"notifications"`
	Pagination    domain.Page        `json:"pagination"`
}

type readRequest struct {
	Channel domain.Channel `json:"channel,omitempty"`
}

type clickRequest struct {
	Channel domain.Channel `json:"channel,omitempty"`
	URL     string         `json:"url,omitempty"`
}

// NotificationHandler serves the notification lifecycle endpoints.
type NotificationHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

func NewNotificationHandler(engine *service.Engine, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{engine: engine, logger: logger}
}

// Create handles POST /api/v1/notifications
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateNotificationRequest
	if err := decode(r, &req); err != nil {
		mapError(w, err)
		return
	}
	n, err := h.engine.CreateNotification(r.Context(), req, apimw.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, "create notification failed", err)
		return
	}
	respondJSON(w, http.StatusCreated, view(n))
}

// Search handles GET /api/v1/notifications
func (h *NotificationHandler) Search(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		mapError(w, err)
		return
	}
	ns, page, err := h.engine.SearchNotifications(r.Context(), f, apimw.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, "search notifications failed", err)
		return
	}
	respondJSON(w, http.StatusOK, searchResult{Notifications: views(ns), Pagination: page})
}

// Get handles GET /api/v1/notifications/{id}
func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.GetNotification(r.Context(), chi.URLParam(r, "id"), apimw.GetUserID(r.Context()))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view(n))
}

// Update handles PATCH /api/v1/notifications/{id}
func (h *NotificationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateNotificationRequest
	if err := decode(r, &req); err != nil {
		mapError(w, err)
		return
	}
	n, err := h.engine.UpdateNotification(r.Context(), chi.URLParam(r, "id"), req, apimw.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, "update notification failed", err)
		return
	}
	respondJSON(w, http.StatusOK, view(n))
}

// Delete handles DELETE /api/v1/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.DeleteNotification(r.Context(), id, apimw.GetUserID(r.Context())); err != nil {
		h.fail(w, r, "delete notification failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Cancel handles POST /api/v1/notifications/{id}/cancel
func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.CancelNotification(r.Context(), chi.URLParam(r, "id"), apimw.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, "cancel notification failed", err)
		return
	}
	respondJSON(w, http.StatusOK, view(n))
}

// MarkRead handles POST /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if err := decode(r, &req); err != nil {
		mapError(w, err)
		return
	}
	n, err := h.engine.MarkAsRead(r.Context(), chi.URLParam(r, "id"), apimw.GetUserID(r.Context()), req.Channel)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view(n))
}

// Click handles POST /api/v1/notifications/{id}/click
func (h *NotificationHandler) Click(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := decode(r, &req); err != nil {
		mapError(w, err)
		return
	}
	n, err := h.engine.RecordClick(r.Context(), chi.URLParam(r, "id"), apimw.GetUserID(r.Context()), req.Channel, req.URL)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view(n))
}

// DeliveryReceipt handles POST /api/v1/notifications/{id}/delivery, the
// provider callback for asynchronous delivery outcomes.
func (h *NotificationHandler) DeliveryReceipt(w http.ResponseWriter, r *http.Request) {
	var req domain.DeliveryReceipt
	if err := decode(r, &req); err != nil {
		mapError(w, err)
		return
	}
	n, err := h.engine.RecordDeliveryReceipt(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, "record delivery receipt failed", err)
		return
	}
	respondJSON(w, http.StatusOK, view(n))
}

// Bulk handles POST /api/v1/notifications/bulk
func (h *NotificationHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkNotificationRequest
	if err := decode(r, &req); err != nil {
		mapError(w, err)
		return
	}
	ns, err := h.engine.SendBulkNotifications(r.Context(), req, apimw.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, "bulk send failed", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"count":         len(ns),
		"notifications": views(ns),
	})
}

// Stats handles GET /api/v1/notifications/stats?timeframe=24h
func (h *NotificationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.GetNotificationStats(r.Context(), apimw.GetUserID(r.Context()), r.URL.Query().Get("timeframe"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// fail logs unexpected errors before mapping them. Caller mistakes are
// logged at debug only.
func (h *NotificationHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	log := apimw.Logger(r.Context(), h.logger)
	if domain.IsValidation(err) {
		log.Debug(msg, zap.Error(err))
	} else {
		log.Warn(msg, zap.Error(err))
	}
	mapError(w, err)
}

func parseFilter(q url.Values) (domain.SearchFilter, error) {
	f := domain.SearchFilter{
		Types:      list[domain.Type](q, "type"),
		Categories: list[domain.Category](q, "category"),
		Priorities: list[domain.Priority](q, "priority"),
		Statuses:   list[domain.Status](q, "status"),
		Channels:   list[domain.Channel](q, "channel"),
		Tags:       list[string](q, "tags"),
		SenderID:   q.Get("sender_id"),
		Source:     q.Get("source"),
		Query:      q.Get("q"),
		SortBy:     domain.SortField(q.Get("sort_by")),
		Order:      domain.SortOrder(q.Get("order")),
	}

	var err error
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam(q, "offset"); err != nil {
		return f, err
	}
	if f.From, err = timeParam(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = timeParam(q, "to"); err != nil {
		return f, err
	}
	if s := q.Get("read"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return f, badParam("read", "must be true or false")
		}
		f.Read = &b
	}
	return f, nil
}

// list accepts both repeated keys and comma-separated values.
func list[T ~string](q url.Values, key string) []T {
	var out []T
	for _, raw := range q[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, T(part))
			}
		}
	}
	return out
}

func intParam(q url.Values, key string) (int, error) {
	s := q.Get(key)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, badParam(key, "must be a non-negative integer")
	}
	return v, nil
}

func timeParam(q url.Values, key string) (*time.Time, error) {
	s := q.Get(key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, badParam(key, "must be an RFC 3339 timestamp")
	}
	return &t, nil
}

func badParam(field, msg string) error {
	return &domain.ValidationError{Field: field, Message: msg, Err: domain.ErrInvalidInput}
}
