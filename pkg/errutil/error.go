package errutil

import (
	"fmt"
)

// Detail points a validation failure at one request field.
type Detail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BaseError is the typed error every service returns. Err is the cause; it is
// logged and unwrapped but never rendered to clients.
type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Details []Detail   `json:"details,omitempty"`
	Err     error      `json:"-"`
}

func (e BaseError) Status() CoreStatus {
	return e.Code
}

func (e BaseError) JSON() any {
	return map[string]any{
		"error": map[string]any{
			"code":    e.Code,
			"message": e.Message,
			"details": e.Details,
		},
	}
}

func (e BaseError) Unwrap() error {
	return e.Err
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

type Option func(*BaseError)

func WithDetails(details ...Detail) Option {
	return func(be *BaseError) { be.Details = append(be.Details, details...) }
}

// Field is shorthand for a single-field detail.
func Field(name, message string) Option {
	return WithDetails(Detail{Field: name, Message: message})
}

func New(code CoreStatus, message string, err error, opts ...Option) error {
	be := BaseError{Code: code, Message: message, Err: err}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

func NotFound(msg string, err error, options ...Option) error {
	return New(StatusNotFound, msg, err, options...)
}

// InvalidState reports an operation attempted against a resource whose
// state disallows it.
func InvalidState(msg string, err error, options ...Option) error {
	return New(StatusUnprocessableEntity, msg, err, options...)
}

func Conflict(msg string, err error, options ...Option) error {
	return New(StatusConflict, msg, err, options...)
}

func BadRequest(msg string, err error, options ...Option) error {
	return New(StatusBadRequest, msg, err, options...)
}

func Internal(msg string, err error, options ...Option) error {
	return New(StatusInternal, msg, err, options...)
}

func Unauthorized(msg string, err error, options ...Option) error {
	return New(StatusUnauthorized, msg, err, options...)
}

func Forbidden(msg string, err error, options ...Option) error {
	return New(StatusForbidden, msg, err, options...)
}

func TooManyRequest(msg string, err error, options ...Option) error {
	return New(StatusTooManyRequests, msg, err, options...)
}

// ServiceUnavailable marks a collaborator outage the caller may retry.
func ServiceUnavailable(msg string, err error, options ...Option) error {
	return New(StatusServiceUnavailable, msg, err, options...)
}
