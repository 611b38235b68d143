package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// envelope is the uniform response shape: {"ok":true,"data":...} or
// {"ok":false,"error":{...}}.
type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	write(w, status, envelope{OK: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	write(w, status, envelope{Error: &errorBody{Code: code, Message: msg}})
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return &domain.ValidationError{Message: "invalid JSON body", Err: domain.ErrInvalidInput}
}

// mapError translates engine errors to HTTP status codes. All mapping lives
// here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		write(w, http.StatusBadRequest, envelope{Error: &errorBody{
			Code: validationCode(ve.Err), Message: ve.Error(), Field: ve.Field,
		}})
	case errors.Is(err, domain.ErrMissingFields),
		errors.Is(err, domain.ErrNoChannels),
		errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, validationCode(err), err.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrDuplicateName):
		respondError(w, http.StatusConflict, "duplicate", err.Error())
	case errors.Is(err, domain.ErrNotEditable),
		errors.Is(err, domain.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrTemplateUnavailable):
		respondError(w, http.StatusUnprocessableEntity, "template_unavailable", err.Error())
	case errors.Is(err, domain.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, "queue_full", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func validationCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingFields):
		return "missing_fields"
	case errors.Is(err, domain.ErrNoChannels):
		return "no_channels"
	}
	return "invalid_input"
}
