package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pavelanni/examengine/internal/engine"
	appI18n "github.com/pavelanni/examengine/internal/i18n"
)

type errorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

var kindStatus = map[engine.Kind]int{
	engine.KindNotPublished:          http.StatusForbidden,
	engine.KindOutOfTimeWindow:       http.StatusForbidden,
	engine.KindAttemptLimitReached:   http.StatusConflict,
	engine.KindInsufficientQuestions: http.StatusUnprocessableEntity,
	engine.KindInvalidState:          http.StatusConflict,
	engine.KindAnswerNotFound:        http.StatusNotFound,
	engine.KindNotGradable:           http.StatusConflict,
	engine.KindOutOfRange:            http.StatusUnprocessableEntity,
	engine.KindNotFound:              http.StatusNotFound,
	engine.KindInvalidConfig:         http.StatusUnprocessableEntity,
	engine.KindInvalidAnswer:         http.StatusUnprocessableEntity,
	engine.KindUnavailable:           http.StatusServiceUnavailable,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError maps an engine error to a status code and a localized message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := engine.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
			Kind:    "Internal",
			Message: appI18n.T(r.Context(), "ErrInternal"),
		}})
		return
	}
	details := engine.DetailsOf(err)
	writeJSON(w, status, errorResponse{Error: errorBody{
		Kind:    kind.String(),
		Message: appI18n.Td(r.Context(), "Err"+kind.String(), details),
		Details: details,
	}})
}

func writeBadRequest(w http.ResponseWriter, r *http.Request, reason string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
		Kind:    "BadRequest",
		Message: appI18n.T(r.Context(), "ErrBadRequest"),
		Details: map[string]any{"reason": reason},
	}})
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: errorBody{
		Kind:    "Unauthorized",
		Message: appI18n.T(r.Context(), "ErrUnauthorized"),
	}})
}

func writeForbidden(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusForbidden, errorResponse{Error: errorBody{
		Kind:    "Forbidden",
		Message: appI18n.T(r.Context(), "ErrForbidden"),
	}})
}
