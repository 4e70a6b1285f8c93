// Package apperr holds the error kinds shared by every service package and
// their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrInvalidOrExpiredTicket = errors.New("invalid or expired reset ticket")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrMailUnavailable        = errors.New("mail unavailable")
	ErrValidation             = errors.New("validation failed")
	ErrInternal               = errors.New("internal server error")
)

type kind struct {
	err    error
	status int
}

// Order matters: the first kind matched by errors.Is wins.
var kinds = []kind{
	{ErrInvalidCredentials, http.StatusUnauthorized},
	{ErrInvalidOrExpiredTicket, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrNotFound, http.StatusNotFound},
	{ErrConflict, http.StatusConflict},
	{ErrValidation, http.StatusBadRequest},
	{ErrStorageUnavailable, http.StatusServiceUnavailable},
	{ErrMailUnavailable, http.StatusServiceUnavailable},
	{ErrInternal, http.StatusInternalServerError},
}

// Kind returns the sentinel kind err wraps, or ErrInternal when it wraps none.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err
		}
	}
	return ErrInternal
}

// HTTPStatus maps err onto the status code of its kind.
func HTTPStatus(err error) int {
	kindErr := Kind(err)
	for _, k := range kinds {
		if k.err == kindErr {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// Message returns the text safe to show to a client. Wrapped detail is only
// exposed for validation errors.
func Message(err error) string {
	kindErr := Kind(err)
	if kindErr == ErrValidation {
		return err.Error()
	}
	return kindErr.Error()
}
