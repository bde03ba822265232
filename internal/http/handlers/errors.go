package handlers

// Stable error codes carried in ErrorResponse.Code. Clients branch on these
// rather than on messages.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodePayloadTooLarge  = "payload_too_large"

	// Domain-specific:
	ErrCodeLookupFailed = "lookup_failed"
	ErrCodeListFailed   = "list_failed"
)
