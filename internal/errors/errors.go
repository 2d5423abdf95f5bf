// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrDataUnavailable = errors.New("market data unavailable")
	ErrOrderRejected   = errors.New("order rejected")
	ErrTradeNotFound   = errors.New("trade not found")
	ErrNoExpiry        = errors.New("no expiry available")
	ErrJournalClosed   = errors.New("journal closed")
)

// ProviderError represents an error from the Greeks/quote provider.
type ProviderError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("provider error [%s] %s: %v", e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("provider error [%s]: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(op, symbol string, err error) *ProviderError {
	return &ProviderError{Op: op, Symbol: symbol, Err: err}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}
