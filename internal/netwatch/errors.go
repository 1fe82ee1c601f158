package netwatch

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers match with errors.Is.
var (
	// ErrNotFound means a referenced entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrValidation means the input was malformed.
	ErrValidation = errors.New("validation error")
	// ErrConfig means a required secret or transport setting is missing or unknown.
	ErrConfig = errors.New("config error")
	// ErrTransientFetch means a fetch timed out even after the adapter's recovery.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrNoMatch means the page loaded but the content selector matched nothing.
	ErrNoMatch = errors.New("selector matched nothing")
	// ErrTransport means a notification transport failed to deliver.
	ErrTransport = errors.New("transport error")
	// ErrInvalidState means a lifecycle method was called in the wrong state.
	ErrInvalidState = errors.New("invalid state")
)

// NotFoundf formats an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Validationf formats an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// Configf formats an error wrapping ErrConfig.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConfig)
}
