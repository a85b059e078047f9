package apperr

import (
	"errors"
	"net/http"
)

// Kinds of failure surfaced to API callers.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrConfiguration = errors.New("configuration error")
)

// Error pairs a kind with a client-facing message and an optional internal cause.
// errors.Is matches both the kind and anything in the cause chain.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Kind.Error() + ": " + e.Err.Error()
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newErr(kind error, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func BadRequest(msg string) *Error { return newErr(ErrBadRequest, msg, nil) }
func Unauthorized(msg string, cause error) *Error { return newErr(ErrUnauthorized, msg, cause) }
func Forbidden(msg string) *Error { return newErr(ErrForbidden, msg, nil) }
func NotFound(msg string) *Error { return newErr(ErrNotFound, msg, nil) }
func Conflict(msg string, cause error) *Error { return newErr(ErrConflict, msg, cause) }
func Configuration(msg string, cause error) *Error { return newErr(ErrConfiguration, msg, cause) }

// Status maps an error to the HTTP status code it should produce.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text that is safe to show to a client for err.
// Unrecognised failures yield a generic message.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && Status(err) != http.StatusInternalServerError {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.Error()
	}
	return "internal server error"
}
