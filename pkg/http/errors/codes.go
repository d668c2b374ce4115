package errors

// Error kinds shared between the live channel and the REST facade.
// The same machine-readable strings appear in websocket error events
// and in REST error envelopes.
const (
	// Frame-level errors
	ErrCodeBadFrame     = "bad_frame"
	ErrCodeUnknownType  = "unknown_type"
	ErrCodeMissingField = "missing_field"

	// Session / membership errors
	ErrCodeNoSuchSession = "no_such_session"
	ErrCodeNotJoined     = "not_joined"
	ErrCodeUnauthorized  = "unauthorized"

	// Gameplay rejections
	ErrCodeAlreadyHasHost  = "already_has_host"
	ErrCodeStaleQuestion   = "stale_question"
	ErrCodeAlreadyAnswered = "already_answered"
	ErrCodePaused          = "paused"
	ErrCodeInvalidState    = "invalid_state"
	ErrCodeRateLimited     = "rate_limited"

	// Infrastructure errors
	ErrCodeGenerationFailed = "generation_failed"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeInternalError    = "internal_error"

	// REST-only validation errors
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
)
