package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: message})
}

// writeError maps service errors to HTTP responses. Anything unrecognized is
// logged and answered with a generic 500.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   string(verr.Kind),
			Message: verr.Error(),
			Details: verr.Details(),
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrTallyNotFound),
		errors.Is(err, domain.ErrTableNotFound),
		errors.Is(err, domain.ErrSchoolNotFound),
		errors.Is(err, domain.ErrAggregateNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidTallyID):
		writeBadRequest(w, err.Error())
	case errors.Is(err, domain.ErrRepairInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "repair_in_progress", Message: err.Error()})
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: domain.ErrInternal.Error()})
	}
}
