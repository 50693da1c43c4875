package gateway

import (
	"github.com/loopwork/realtime/internal/service"
)

// Wire error codes. Security codes terminate the connection; everything
// else is answered in-band and the connection stays up.
const (
	CodeInvalidSignature  = "INVALID_SIGNATURE"
	CodeReplayAttack      = "REPLAY_ATTACK"
	CodeMessageExpired    = "MESSAGE_EXPIRED"
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodePermission        = "PERMISSION_ERROR"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeNoWorkspace       = "NO_WORKSPACE"
	CodeConflict          = "CONFLICT"
	CodeDatabase          = "DATABASE_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

const (
	errorTypeSecurity      = "security"
	errorTypeValidation    = "validation"
	errorTypeAuthorization = "authorization"
	errorTypeRateLimit     = "rate_limit"
	errorTypeBusiness      = "business"
	errorTypeInternal      = "internal"
)

// WireError is the error object embedded in a failed CommandResponse.
type WireError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	ErrorType  string `json:"error_type"`
	RetryAfter *int64 `json:"retry_after,omitempty"`
}

// Terminal reports whether this error class must close the connection.
func (e *WireError) Terminal() bool {
	switch e.Code {
	case CodeInvalidSignature, CodeReplayAttack, CodeMessageExpired:
		return true
	}
	return false
}

func securityWireError(err error) *WireError {
	switch err {
	case ErrReplayAttack:
		return &WireError{Code: CodeReplayAttack, Message: "message has already been processed", ErrorType: errorTypeSecurity}
	case ErrMessageExpired:
		return &WireError{Code: CodeMessageExpired, Message: "message timestamp is outside the allowed window", ErrorType: errorTypeSecurity}
	default:
		return &WireError{Code: CodeInvalidSignature, Message: "message signature verification failed", ErrorType: errorTypeSecurity}
	}
}

func rateLimitWireError(retryAfterSecs int64) *WireError {
	return &WireError{
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		ErrorType:  errorTypeRateLimit,
		RetryAfter: &retryAfterSecs,
	}
}

func noWorkspaceWireError() *WireError {
	return &WireError{
		Code:      CodeNoWorkspace,
		Message:   "an active workspace is required for this command",
		ErrorType: errorTypeAuthorization,
	}
}

func validationWireError(field, message string) *WireError {
	return &WireError{Code: CodeValidation, Message: message, Field: field, ErrorType: errorTypeValidation}
}

// serviceWireError maps a collaborator failure onto the wire taxonomy.
// Database and internal detail stays server-side; the client sees a
// generic message for those classes.
func serviceWireError(err error) *WireError {
	svcErr := service.AsError(err)
	switch svcErr.Kind {
	case service.KindValidation:
		return &WireError{Code: CodeValidation, Message: svcErr.Message, Field: svcErr.Field, ErrorType: errorTypeValidation}
	case service.KindNotFound:
		return &WireError{Code: CodeNotFound, Message: svcErr.Message, ErrorType: errorTypeBusiness}
	case service.KindConflict:
		return &WireError{Code: CodeConflict, Message: svcErr.Message, ErrorType: errorTypeBusiness}
	case service.KindPermission:
		return &WireError{Code: CodePermission, Message: svcErr.Message, ErrorType: errorTypeAuthorization}
	case service.KindDatabase:
		retryAfter := int64(5)
		return &WireError{Code: CodeDatabase, Message: "a storage error occurred", ErrorType: errorTypeInternal, RetryAfter: &retryAfter}
	default:
		retryAfter := int64(5)
		return &WireError{Code: CodeInternal, Message: "an internal error occurred", ErrorType: errorTypeInternal, RetryAfter: &retryAfter}
	}
}
