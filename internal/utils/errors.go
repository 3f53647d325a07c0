package utils

import (
	"fmt"

	"github.com/dl-alexandre/drivews/internal/types"
)

// Exit codes
const (
	ExitSuccess = 0
	// Auth errors (10-19)
	ExitAuthRequired = 10
	ExitAuthExpired  = 11
	ExitAuthInvalid  = 12
	// Local file errors (20-29)
	ExitFileNotFound     = 20
	ExitPermissionDenied = 21
	ExitLocalIO          = 22
	// Network errors (30-39)
	ExitNetworkError = 30
	ExitTimeout      = 31
	ExitRateLimited  = 32
	// Validation errors (40-49)
	ExitInvalidArgument = 40
	ExitInvalidPath     = 41
	// Batch errors
	ExitBatchPartialFailure = 60
	// Workspace state
	ExitConflict        = 70
	ExitStoreCorruption = 80
	// Unknown
	ExitUnknown = 99
)

// Error codes (tool-owned, stable)
const (
	ErrCodeAuthRequired        = "AUTH_REQUIRED"
	ErrCodeAuthExpired         = "AUTH_EXPIRED"
	ErrCodeAuthInvalid         = "AUTH_INVALID"
	ErrCodeFileNotFound        = "FILE_NOT_FOUND"
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeLocalIO             = "LOCAL_IO"
	ErrCodeNetworkError        = "NETWORK_ERROR"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInvalidArgument     = "INVALID_ARGUMENT"
	ErrCodeInvalidPath         = "INVALID_PATH"
	ErrCodeBatchPartialFailure = "BATCH_PARTIAL_FAILURE"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeStoreCorruption     = "STORE_CORRUPTION"
	ErrCodeCancelled           = "CANCELLED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeUnknown             = "UNKNOWN"
)

// CLIErrorBuilder helps construct CLIError instances
type CLIErrorBuilder struct {
	err types.CLIError
}

// NewCLIError creates a new error builder
func NewCLIError(code, message string) *CLIErrorBuilder {
	return &CLIErrorBuilder{
		err: types.CLIError{
			Code:    code,
			Message: message,
		},
	}
}

func (b *CLIErrorBuilder) WithHTTPStatus(status int) *CLIErrorBuilder {
	b.err.HTTPStatus = status
	return b
}

func (b *CLIErrorBuilder) WithPath(path string) *CLIErrorBuilder {
	b.err.Path = path
	return b
}

func (b *CLIErrorBuilder) WithRetryable(retryable bool) *CLIErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *CLIErrorBuilder) WithContext(key string, value interface{}) *CLIErrorBuilder {
	if b.err.Context == nil {
		b.err.Context = make(map[string]interface{})
	}
	b.err.Context[key] = value
	return b
}

func (b *CLIErrorBuilder) Build() types.CLIError {
	return b.err
}

var exitCodes = map[string]int{
	ErrCodeAuthRequired:        ExitAuthRequired,
	ErrCodeAuthExpired:         ExitAuthExpired,
	ErrCodeAuthInvalid:         ExitAuthInvalid,
	ErrCodeFileNotFound:        ExitFileNotFound,
	ErrCodePermissionDenied:    ExitPermissionDenied,
	ErrCodeLocalIO:             ExitLocalIO,
	ErrCodeNetworkError:        ExitNetworkError,
	ErrCodeTimeout:             ExitTimeout,
	ErrCodeRateLimited:         ExitRateLimited,
	ErrCodeInvalidArgument:     ExitInvalidArgument,
	ErrCodeInvalidPath:         ExitInvalidPath,
	ErrCodeBatchPartialFailure: ExitBatchPartialFailure,
	ErrCodeConflict:            ExitConflict,
	ErrCodeStoreCorruption:     ExitStoreCorruption,
}

// GetExitCode returns the exit code for an error code
func GetExitCode(errorCode string) int {
	if code, ok := exitCodes[errorCode]; ok {
		return code
	}
	return ExitUnknown
}

// AppError is a custom error type that carries CLI error info
type AppError struct {
	CLIError types.CLIError
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.CLIError.Code, e.CLIError.Message)
}

// NewAppError creates an AppError from a CLIError
func NewAppError(cliErr types.CLIError) *AppError {
	return &AppError{CLIError: cliErr}
}
