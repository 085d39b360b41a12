package dto

import "net/http"

// Error code constants exposed on the wire.
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeUnauthorized is used when authentication is required but missing/invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeConflict is used when an operation collides with one in flight
	ErrCodeConflict = "ERR_CONFLICT"
	// ErrCodeLedgerUnavailable is used when the ledger endpoint cannot be reached
	ErrCodeLedgerUnavailable = "ERR_LEDGER_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes.
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:           http.StatusInternalServerError,
	ErrCodeInternal:          http.StatusInternalServerError,
	ErrCodeBadRequest:        http.StatusBadRequest,
	ErrCodeInvalidInput:      http.StatusBadRequest,
	ErrCodeNotFound:          http.StatusNotFound,
	ErrCodeUnauthorized:      http.StatusUnauthorized,
	ErrCodeConflict:          http.StatusConflict,
	ErrCodeLedgerUnavailable: http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status for an error code, defaulting to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// domainCodeMapping translates domain error codes to wire codes.
var domainCodeMapping = map[string]string{
	"NOT_FOUND":           ErrCodeNotFound,
	"INVALID_INPUT":       ErrCodeInvalidInput,
	"LEDGER_UNAVAILABLE":  ErrCodeLedgerUnavailable,
	"ASSEMBLY_FAILED":     ErrCodeLedgerUnavailable,
	"REBUILD_IN_PROGRESS": ErrCodeConflict,
	"UNAUTHORIZED":        ErrCodeUnauthorized,
}

// NormalizeErrorCode converts a domain error code to its wire form.
func NormalizeErrorCode(domainCode string) string {
	if code, ok := domainCodeMapping[domainCode]; ok {
		return code
	}
	return ErrCodeUnknown
}
