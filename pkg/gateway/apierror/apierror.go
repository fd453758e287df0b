// Package apierror defines the JSON error envelope every non-2xx
// response of the HTTP surface carries.
package apierror

import (
	"encoding/json"
	"net/http"
)

type Type string

const (
	TypeValidation   Type = "validation_error"
	TypeUnauthorized Type = "unauthorized"
	TypeNotFound     Type = "not_found"
	TypeUnavailable  Type = "service_unavailable"
	TypeInternal     Type = "internal"
)

// Error is the wire shape of a single API error.
type Error struct {
	Type    Type   `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type Envelope struct {
	Error *Error `json:"error"`
}

func (e *Error) Error() string {
	return string(e.Type) + ": " + e.Message
}

// Status maps the error type to its HTTP status code.
func (e *Error) Status() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeUnauthorized:
		return http.StatusUnauthorized
	case TypeNotFound:
		return http.StatusNotFound
	case TypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func Validation(code, message string) *Error {
	return &Error{Type: TypeValidation, Code: code, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Type: TypeUnauthorized, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Type: TypeNotFound, Message: message}
}

func Unavailable(message string) *Error {
	return &Error{Type: TypeUnavailable, Message: message}
}

func Internal(message string) *Error {
	return &Error{Type: TypeInternal, Message: message}
}

// Write sends the envelope with the status implied by the error type.
func Write(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(Envelope{Error: e})
}
