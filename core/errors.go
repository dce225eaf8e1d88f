package core

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific form field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// APIError is a failed exchange with the backend: a non-2xx response or a
// response that could not be read. Message carries the server-supplied
// error text when one was present.
type APIError struct {
	StatusCode  int
	Message     string
	RateLimited bool
}

func NewAPIError(code int, msg string) error {
	return &APIError{StatusCode: code, Message: msg}
}

func (err APIError) Error() string {
	if err.Message != "" {
		return err.Message
	}
	return fmt.Sprintf("server error (%d)", err.StatusCode)
}

func IsRateLimited(err error) bool {
	if aerr, ok := errors.Cause(err).(*APIError); ok {
		return aerr.RateLimited
	}
	return false
}

func IsUnauthorized(err error) bool {
	if aerr, ok := errors.Cause(err).(*APIError); ok {
		return aerr.StatusCode == http.StatusUnauthorized
	}
	return false
}
