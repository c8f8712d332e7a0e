package service

import (
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

// ErrorKind classifies failures for the HTTP edge
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation_error"
	KindNotFound            ErrorKind = "not_found"
	KindPaymentNotCompleted ErrorKind = "payment_not_completed"
	KindAlreadyPaid         ErrorKind = "already_paid"
	KindInvalidTransition   ErrorKind = "invalid_transition"
	KindGateway             ErrorKind = "gateway_error"
	KindSignature           ErrorKind = "signature_error"
	KindNotification        ErrorKind = "notification_error"
	KindRateLimited         ErrorKind = "rate_limited"
)

// FieldError describes one invalid input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a classified service failure
type Error struct {
	Kind    ErrorKind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ErrAlreadyPaid is returned when a second installment has already been collected
var ErrAlreadyPaid = &Error{Kind: KindAlreadyPaid, Message: "second payment already completed"}

// KindOf returns the kind of a service error, or "" for unclassified errors
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

func validationError(field, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: "validation failed",
		Fields:  []FieldError{{Field: field, Message: message}},
	}
}

// lookupError maps a store error to NotFound when the row is missing and
// wraps anything else.
func lookupError(what, id string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", what, id), Err: err}
	}
	return fmt.Errorf("failed to load %s %s: %w", what, id, err)
}

func gatewayError(message string, err error) *Error {
	return &Error{Kind: KindGateway, Message: message, Err: err}
}

func transitionError(field string, from, to interface{}) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("%s cannot move from %v to %v", field, from, to),
	}
}
