package bybit

import (
	"errors"
	"fmt"
)

// APIError represents a non-zero retCode returned by the Bybit API
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Bybit API error %d: %s", e.Code, e.Message)
}

// Common Bybit error codes
const (
	ErrCodeInvalidAPIKey     = 10003
	ErrCodeInvalidSignature  = 10004
	ErrCodeInvalidTimestamp  = 10005
	ErrCodeRateLimitExceeded = 10006
	ErrCodeOrderNotFound     = 110001
	ErrCodeSymbolNotFound    = 110009
	ErrCodePositionZero      = 110017
)

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
			return true
		}
	}
	return false
}

// IsRateLimited reports whether the exchange throttled the request
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodeRateLimitExceeded
}

// isAlreadyFlat reports errors that mean the position was closed before our reduce order landed
func isAlreadyFlat(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == ErrCodePositionZero
}
