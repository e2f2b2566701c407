package model

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Code is a stable machine-readable reason string; the HTTP status carries
// the class of failure.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error codes returned by the API, ordered by the upload precondition chain.
const (
	CodeBadRequest      = "bad_request"
	CodeUnauthenticated = "unauthenticated"
	CodeUserNotFound    = "user_not_found"
	CodeKeyMissing      = "api_key_missing"
	CodeKeyNotFound     = "api_key_not_found"
	CodeKeyInactive     = "api_key_inactive"
	CodeKeyMismatch     = "api_key_mismatch"
	CodeQuotaExceeded   = "quota_exceeded"
	CodeUpstreamFailure = "upstream_error"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "already_exists"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal_error"
)
