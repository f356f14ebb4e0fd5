package interfaces

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	apihttp "residence-cloud/internal/api/http"
	billing "residence-cloud/internal/billing/domain"
)

func statusFor(err error) int {
	var fields apihttp.ValidationErrors
	switch {
	case errors.As(err, &fields), errors.Is(err, apihttp.ErrEmptyBody):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrInvalidPeriod),
		errors.Is(err, billing.ErrEmptyAccount),
		errors.Is(err, billing.ErrNegativeAmount),
		errors.Is(err, billing.ErrAmountScale):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrDuplicate), errors.Is(err, billing.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, billing.ErrNoMonthlyClosings):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusBadRequest {
		apihttp.WriteBadRequest(w, err)
		return
	}
	if status == http.StatusInternalServerError {
		logger.Error("billing request failed", zap.Error(err))
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
