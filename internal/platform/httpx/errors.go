package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/procura-erp/procura/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// IntegrityError-class failures fall through to 500 and are expected to
// be logged by the caller; everything else is user-correctable.
func RespondError(w http.ResponseWriter, err error) {
	var ownership *shared.OwnershipConflictError
	var invalid validator.ValidationErrors
	switch {
	case errors.As(err, &ownership):
		JSON(w, http.StatusConflict, ProblemDetail{
			Title:    "Ownership Conflict",
			Status:   http.StatusConflict,
			Detail:   ownership.Op,
			Conflict: ownership.POIDs,
		})
	case errors.As(err, &invalid):
		Problem(w, http.StatusBadRequest, "Validation Failed", invalid.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrStateConflict):
		Problem(w, http.StatusConflict, "State Conflict", err.Error())
	case errors.Is(err, shared.ErrNoData), errors.Is(err, shared.ErrMergeInProgress):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
