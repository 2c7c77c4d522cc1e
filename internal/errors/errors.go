// Package errors defines the typed failures surfaced by the OHLCV pipeline and
// the helpers used to classify them.
// Input errors are caller mistakes and are never retried, provider errors carry
// the upstream HTTP status, and configuration errors name the offending key.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"    // Bad caller input
	ErrorTypeProvider      ErrorType = "provider"      // Terminal non-200 or malformed upstream payload
	ErrorTypeRateLimit     ErrorType = "rate_limit"    // 429 after the retry budget ran out
	ErrorTypeServerError   ErrorType = "server_error"  // Upstream 5xx
	ErrorTypeNetwork       ErrorType = "network"       // Transport failure
	ErrorTypeTimeout       ErrorType = "timeout"       // Deadline or cancellation
	ErrorTypeConfiguration ErrorType = "configuration" // Missing or invalid settings
	ErrorTypeUnknown       ErrorType = "unknown"
)

// InputError reports an invalid argument supplied by the caller.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewInputError creates an InputError for field.
func NewInputError(field, format string, args ...any) *InputError {
	return &InputError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ProviderError is a terminal failure reported by the market-data API.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// NewProviderError creates a ProviderError carrying status.
func NewProviderError(status int, format string, args ...any) *ProviderError {
	return &ProviderError{StatusCode: status, Message: fmt.Sprintf(format, args...)}
}

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// ConfigErrors collects every configuration problem found in one pass.
type ConfigErrors []*ConfigError

func (e ConfigErrors) Error() string {
	msg := "configuration validation failed:"
	for _, ce := range e {
		msg += "\n  - " + ce.Error()
	}
	return msg
}

// Classify maps err onto an ErrorType by inspecting its chain.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return ErrorTypeValidation
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		switch {
		case providerErr.StatusCode == http.StatusTooManyRequests:
			return ErrorTypeRateLimit
		case providerErr.StatusCode >= 500:
			return ErrorTypeServerError
		default:
			return ErrorTypeProvider
		}
	}

	var configErr *ConfigError
	var configErrs ConfigErrors
	if errors.As(err, &configErr) || errors.As(err, &configErrs) {
		return ErrorTypeConfiguration
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	return ErrorTypeUnknown
}

// StatusCode returns the HTTP status carried by a ProviderError in err's chain.
func StatusCode(err error) (int, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.StatusCode, true
	}
	return 0, false
}
