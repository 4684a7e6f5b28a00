package api

import (
	"errors"
	"net/http"

	"MarketGuard/internal/domain/errs"
	xhttp "MarketGuard/pkg/http"
)

// toAppError maps domain error codes onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var de *errs.Error
	if errors.As(err, &de) {
		switch de.Code {
		case errs.CodeInvalidInput, errs.CodeNotRegistered, errs.CodeInsufficientData:
			return xhttp.NewAppError("ERR_"+string(de.Code), "", de.Msg, http.StatusBadRequest).WithError(err)
		case errs.CodeNotFound:
			return xhttp.NewAppError("ERR_NOT_FOUND", "", de.Msg, http.StatusNotFound).WithError(err)
		}
	}
	return xhttp.InternalError("internal error").WithError(err)
}

func unavailable(what string) *xhttp.AppError {
	return xhttp.NewAppError("ERR_UNAVAILABLE", "", what+" is not configured", http.StatusServiceUnavailable)
}
