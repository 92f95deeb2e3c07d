package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"cyclecore/pkg/domain"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Validation detail, present only for validation_failed.
	Missing    []string            `json:"missing,omitempty"`
	TypeErrors []domain.FieldError `json:"type_errors,omitempty"`
	// Version detail, present only for version_conflict.
	ExpectedVersion int64 `json:"expected_version,omitempty"`
	ActualVersion   int64 `json:"actual_version,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: message})
}

// writeError translates domain errors into stable HTTP error envelopes. The
// error code strings are part of the API contract.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound   domain.ErrNotFound
		conflict   domain.ErrConcurrencyConflict
		outOfOrder domain.ErrOutOfOrder
		closed     domain.ErrCycleClosed
		invalid    domain.ErrValidationFailed
		persist    domain.ErrPersistence
	)
	switch {
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: notFound.Error()})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorBody{
			Error:           "version_conflict",
			Message:         conflict.Error(),
			ExpectedVersion: conflict.Expected,
			ActualVersion:   conflict.Actual,
		})
	case errors.As(err, &outOfOrder):
		writeJSON(w, http.StatusConflict, errorBody{Error: "out_of_order", Message: outOfOrder.Error()})
	case errors.As(err, &closed):
		writeJSON(w, http.StatusConflict, errorBody{Error: "cycle_closed", Message: closed.Error()})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:      "validation_failed",
			Message:    invalid.Error(),
			Missing:    invalid.Missing,
			TypeErrors: invalid.TypeErrors,
		})
	case errors.As(err, &persist):
		h.logger.ErrorContext(r.Context(), "persistence failure", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "storage operation failed"})
	default:
		h.logger.ErrorContext(r.Context(), "unhandled error", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
	}
}
