// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

var exposeInternal atomic.Bool

// ExposeInternalErrors controls whether 500 responses carry the error text.
// It is enabled outside production so developers see storage failures.
func ExposeInternalErrors(enabled bool) {
	exposeInternal.Store(enabled)
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var fields shared.FieldErrors
	switch {
	case errors.As(err, &fields):
		JSON(w, http.StatusBadRequest, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Kind:   "validation",
			Detail: err.Error(),
			Errors: fields,
		})
	case errors.Is(err, shared.ErrValidation):
		problem(w, http.StatusBadRequest, "Validation Failed", "validation", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		problem(w, http.StatusNotFound, "Not Found", "not_found", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		problem(w, http.StatusConflict, "Invalid State", "invalid_state", err.Error())
	case errors.Is(err, shared.ErrConflict):
		problem(w, http.StatusConflict, "Conflict", "conflict", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		problem(w, http.StatusConflict, "Duplicate", "duplicate", err.Error())
	case errors.Is(err, shared.ErrBudgetUnavailable):
		problem(w, http.StatusUnprocessableEntity, "Budget Unavailable", "budget_unavailable", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		problem(w, http.StatusForbidden, "Forbidden", "forbidden", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		problem(w, http.StatusUnauthorized, "Unauthorized", "unauthorized", err.Error())
	default:
		detail := ""
		if exposeInternal.Load() && err != nil {
			detail = err.Error()
		}
		problem(w, http.StatusInternalServerError, "Internal Error", "persistence", detail)
	}
}
