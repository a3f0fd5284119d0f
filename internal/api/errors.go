package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/lorawatch/internal/command"
)

// Error is the body of every error response, wrapped as {"error": {...}}.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error Error `json:"error"`
}

// Common error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeUnknownApplication = "unknown_application"
	ErrCodeTransport          = "transport_error"
	ErrCodeUnavailable        = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: Error{
		Code:    code,
		Message: message,
	}})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCommandError maps a dispatcher error onto an HTTP status.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, command.ErrInvalidAction),
		errors.Is(err, command.ErrInvalidChannel),
		errors.Is(err, command.ErrInvalidDeviceID):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, command.ErrUnknownApplication):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnknownApplication, err.Error())
	case errors.Is(err, command.ErrTransport):
		writeError(w, http.StatusBadGateway, ErrCodeTransport, err.Error())
	default:
		writeInternalError(w, "failed to send command")
	}
}
