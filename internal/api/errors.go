package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alecgard/quotedesk/internal/cursor"
	"github.com/alecgard/quotedesk/internal/org"
	"github.com/alecgard/quotedesk/internal/quote"
	"github.com/alecgard/quotedesk/internal/session"
	"github.com/alecgard/quotedesk/internal/user"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v any) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

var validationErrors = []error{
	quote.ErrClientRequired,
	quote.ErrStatusInvalid,
	quote.ErrItemsRequired,
	quote.ErrDescriptionRequired,
	quote.ErrQuantityInvalid,
	quote.ErrUnitPriceInvalid,
	quote.ErrDiscountInvalid,
	quote.ErrTaxRateInvalid,
	quote.ErrAmountOutOfRange,
	org.ErrNameRequired,
	org.ErrTaxRateInvalid,
	org.ErrValidityInvalid,
	org.ErrStatusInvalid,
}

// writeServiceError maps domain errors onto HTTP responses. Anything
// unrecognised is logged and reported as a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, session.ErrBackendUnavailable):
		slog.Error("backend unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	case errors.Is(err, quote.ErrNotFound), errors.Is(err, org.ErrNotFound), errors.Is(err, user.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, quote.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, quote.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, quote.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, quote.ErrNotEditable):
		writeError(w, http.StatusConflict, "not_editable", err.Error())
	case errors.Is(err, org.ErrDuplicateMembership), errors.Is(err, org.ErrLastAdmin), errors.Is(err, user.ErrEmailTaken):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, cursor.ErrMalformed):
		writeError(w, http.StatusBadRequest, "invalid_cursor", "cursor is malformed")
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// TransitionOutcome labels the result of a quote status change for metrics.
func TransitionOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, quote.ErrIllegalTransition):
		return "illegal"
	case errors.Is(err, quote.ErrConflict):
		return "conflict"
	case errors.Is(err, quote.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
