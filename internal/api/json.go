package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sitemend/sitemend/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusForKind maps the failure taxonomy onto HTTP status codes.
func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidArgument:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindFailedPrecondition:
		return http.StatusServiceUnavailable
	case apperr.KindClassification, apperr.KindGeneration:
		return http.StatusBadGateway
	case apperr.KindValidation, apperr.KindPatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForKind(apperr.KindOf(err)), errorBody(err.Error()))
}
