package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Validation errors: malformed client input, always block dispatch
	ErrValidation           = errors.New("validation failed")
	ErrMalformedEdge        = fmt.Errorf("%w: malformed edge", ErrValidation)
	ErrUnknownNode          = fmt.Errorf("%w: unknown node", ErrValidation)
	ErrNonNumeric           = fmt.Errorf("%w: non-numeric value", ErrValidation)
	ErrEmptyGraph           = fmt.Errorf("%w: graph has no edges", ErrValidation)
	ErrInvalidMethod        = fmt.Errorf("%w: unsupported discovery method", ErrValidation)
	ErrInvalidEpochs        = fmt.Errorf("%w: epochs must be positive", ErrValidation)
	ErrDuplicateObservation = fmt.Errorf("%w: observation nodes must differ", ErrValidation)
	ErrConfirmationRequired = fmt.Errorf("%w: explicit confirmation required", ErrValidation)
	ErrNoSession            = fmt.Errorf("%w: no active session", ErrValidation)
	ErrPhaseBusy            = fmt.Errorf("%w: phase already in progress", ErrValidation)

	// Remote errors: transport failures and non-success responses
	ErrRemote          = errors.New("remote inference gateway error")
	ErrMissingField    = fmt.Errorf("%w: response missing field", ErrRemote)
	ErrGatewayDegraded = fmt.Errorf("%w: gateway circuit open", ErrRemote)

	// Degraded results: the operation completed with fallback or partial data
	ErrDegraded = errors.New("degraded result")

	ErrNotFound = errors.New("resource not found")
)

// NewValidationError reports a field-level validation failure.
func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, reason)
}

// NewUnknownNodeError reports a node missing from the current registry.
func NewUnknownNodeError(field, node string) error {
	return fmt.Errorf("%w: %s %q", ErrUnknownNode, field, node)
}

// NewNonNumericError reports a value that could not be coerced to a number.
func NewNonNumericError(field, raw string) error {
	return fmt.Errorf("%w: %s %q", ErrNonNumeric, field, raw)
}

// NewMissingFieldError reports a gateway response lacking a required field.
func NewMissingFieldError(op, field string) error {
	return fmt.Errorf("%w: %s response has no %q", ErrMissingField, op, field)
}

// Error checking helpers

// IsValidationError reports a client input error. A remote error stays
// remote even when its cause is a gateway payload that failed validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation) && !errors.Is(err, ErrRemote)
}

func IsRemoteError(err error) bool {
	return errors.Is(err, ErrRemote)
}

func IsDegraded(err error) bool {
	return errors.Is(err, ErrDegraded)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
