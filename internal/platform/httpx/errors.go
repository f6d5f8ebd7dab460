// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound     = shared.ErrNotFound
	ErrDuplicate    = shared.ErrConflict
	ErrValidation   = shared.ErrValidation
	ErrForbidden    = shared.ErrForbidden
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var fieldErrs shared.ValidationErrors
	var fieldErr shared.ValidationError
	switch {
	case errors.As(err, &fieldErrs):
		ValidationProblem(w, fieldErrs.Fields())
	case errors.As(err, &fieldErr):
		ValidationProblem(w, map[string]string{fieldErr.Field: fieldErr.Reason})
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrReconciliationRequired):
		Problem(w, http.StatusInternalServerError, "Reconciliation Required", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
