package types

import (
	"net/http"

	appErr "github.com/ryde/accounts/pkg/errors"
)

// StatusFor maps an application error code to an HTTP status.
func StatusFor(err error) int {
	switch appErr.CodeOf(err) {
	case appErr.CodeInvalid:
		return http.StatusBadRequest
	case appErr.CodeNotFound:
		return http.StatusNotFound
	case appErr.CodeAlreadyExists, appErr.CodeConflict:
		return http.StatusConflict
	case appErr.CodeUnauthorized, appErr.CodeProviderRejected:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
