// Package errors defines the workspace error kinds and how they surface to
// the CLI.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/dl-alexandre/drivews/internal/types"
	"github.com/dl-alexandre/drivews/internal/utils"
)

// Kind classifies a failure for propagation purposes.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuth is a credential or session failure. Fatal for the command.
	KindAuth
	// KindNetwork is a per-path remote failure; retryable when Retryable is set.
	KindNetwork
	// KindConflict is a classification outcome that needs user resolution.
	KindConflict
	// KindLocalIO is a per-path local read/write failure.
	KindLocalIO
	// KindStoreCorruption means persisted metadata is unreadable. Fatal.
	KindStoreCorruption
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "AuthError"
	case KindNetwork:
		return "NetworkError"
	case KindConflict:
		return "ConflictError"
	case KindLocalIO:
		return "LocalIOError"
	case KindStoreCorruption:
		return "StoreCorruptionError"
	default:
		return "Error"
	}
}

// Error is a kinded failure, optionally scoped to one workspace path.
type Error struct {
	Kind      Kind
	Op        string
	Path      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += " [" + e.Path + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind so callers can test against the
// sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrAuth            = &Error{Kind: KindAuth}
	ErrNetwork         = &Error{Kind: KindNetwork}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrLocalIO         = &Error{Kind: KindLocalIO}
	ErrStoreCorruption = &Error{Kind: KindStoreCorruption}
)

func New(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func Auth(op string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

func Network(op, path string, retryable bool, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Path: path, Retryable: retryable, Err: err}
}

func Conflict(op, path string, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Op: op, Path: path, Err: fmt.Errorf(format, args...)}
}

func LocalIO(op, path string, err error) *Error {
	return &Error{Kind: KindLocalIO, Op: op, Path: path, Err: err}
}

func StoreCorruption(op string, err error) *Error {
	return &Error{Kind: KindStoreCorruption, Op: op, Err: err}
}

// KindOf reports the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err must abort the whole command.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindStoreCorruption:
		return true
	}
	return false
}

// IsRetryable reports whether err is a transient remote failure.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind == KindNetwork && e.Retryable
	}
	return false
}

// ToCLIError converts any error into the CLI envelope shape.
func ToCLIError(err error) types.CLIError {
	var appErr *utils.AppError
	if stderrors.As(err, &appErr) {
		return appErr.CLIError
	}
	if stderrors.Is(err, context.Canceled) {
		return utils.NewCLIError(utils.ErrCodeCancelled, "operation cancelled").Build()
	}

	var e *Error
	if !stderrors.As(err, &e) {
		return utils.NewCLIError(utils.ErrCodeUnknown, err.Error()).Build()
	}

	var code string
	switch e.Kind {
	case KindAuth:
		code = utils.ErrCodeAuthRequired
	case KindNetwork:
		code = utils.ErrCodeNetworkError
	case KindConflict:
		code = utils.ErrCodeConflict
	case KindLocalIO:
		code = utils.ErrCodeLocalIO
	case KindStoreCorruption:
		code = utils.ErrCodeStoreCorruption
	default:
		code = utils.ErrCodeUnknown
	}

	builder := utils.NewCLIError(code, err.Error()).
		WithPath(e.Path).
		WithRetryable(e.Retryable).
		WithContext("kind", e.Kind.String())
	switch e.Kind {
	case KindAuth:
		builder.WithContext("suggestedAction", "run 'drivews login' to re-authenticate")
	case KindStoreCorruption:
		builder.WithContext("suggestedAction", "run 'drivews reset' to discard workspace state, then 'drivews sync'")
	case KindConflict:
		builder.WithContext("suggestedAction", "run 'drivews resolve <path> -s local|remote'")
	}
	return builder.Build()
}
