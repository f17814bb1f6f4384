package errors

import (
	"fmt"
	"strings"
)

// IsMirrorError checks if an error is of our Error type
func IsMirrorError(err error) bool {
	_, ok := err.(*Error)
	return ok
}

// GetContext extracts attached context from our errors
func GetContext(err error) map[string]string {
	if mirrorErr, ok := err.(*Error); ok {
		return mirrorErr.Context
	}
	return nil
}

// GetCode returns the error code string, or "" for foreign errors
func GetCode(err error) string {
	if mirrorErr, ok := err.(*Error); ok {
		return mirrorErr.Code.String()
	}
	return ""
}

// HasCode reports whether err carries the given code
func HasCode(err error, code Code) bool {
	if mirrorErr, ok := err.(*Error); ok {
		return mirrorErr.Code.Equals(code)
	}
	return false
}

// AsError converts any error to the internal Error format.
// Existing *Error values are returned as-is; everything else is wrapped
// as a generic internal error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if internalErr, ok := err.(*Error); ok {
		return internalErr
	}
	return New(CommonInternal, err.Error(), err)
}

// FormatError formats an error for logging
func FormatError(err error) string {
	mirrorErr, ok := err.(*Error)
	if !ok {
		return err.Error()
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("Code: %s", mirrorErr.Code))
	parts = append(parts, fmt.Sprintf("Message: %s", mirrorErr.Message))

	if len(mirrorErr.Context) > 0 {
		parts = append(parts, "Context:")
		for k, v := range mirrorErr.Context {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, v))
		}
	}

	if mirrorErr.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", mirrorErr.Cause))
	}

	return strings.Join(parts, "\n")
}
