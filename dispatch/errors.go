package dispatch

import (
	"fmt"
	"net/http"

	apperrors "github.com/jrsteele09/kb-console/internal/errors"
)

// StatusError is returned when the server answered with a status of 400 or
// above. It matches apperrors.ErrUnauthorized, ErrForbidden and ErrNotFound
// for 401, 403 and 404 respectively.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case apperrors.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case apperrors.ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case apperrors.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// NetworkError is returned when the server could not be reached or did not
// answer in time. It always matches apperrors.ErrNetwork, and also
// apperrors.ErrTimeout when the request deadline elapsed.
type NetworkError struct {
	Method  string
	URL     string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: timed out: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	switch target {
	case apperrors.ErrNetwork:
		return true
	case apperrors.ErrTimeout:
		return e.Timeout
	}
	return false
}
