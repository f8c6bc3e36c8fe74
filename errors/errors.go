package errors

import (
	goerrors "errors"
	"fmt"
)

var (
	ErrProtocol         = fmt.Errorf("protocol error")
	ErrInvalidRoom      = fmt.Errorf("%w: invalid room id", ErrProtocol)
	ErrInvalidFrame     = fmt.Errorf("%w: malformed frame", ErrProtocol)
	ErrRateLimited      = fmt.Errorf("%w: too many frames", ErrProtocol)
	ErrUnauthenticated  = fmt.Errorf("unauthenticated")
	ErrStorage          = fmt.Errorf("storage error")
	ErrDelivery         = fmt.Errorf("delivery error")
	ErrQueueFull        = fmt.Errorf("%w: outbound queue is full", ErrDelivery)
	ErrConnectionClosed = fmt.Errorf("%w: connection is closed", ErrDelivery)
	ErrTransport        = fmt.Errorf("transport error")
	ErrEmptyContent     = fmt.Errorf("message content is empty")
	ErrContentTooLong   = fmt.Errorf("message content is too long")
	ErrHistoryBusy      = fmt.Errorf("history page deferred: outbound queue is busy")

	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrUserNotFound       = fmt.Errorf("user not found")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidPassword    = fmt.Errorf("password does not match the complexity rules")
	ErrInvalidSignup      = fmt.Errorf("invalid signup request")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")

	ErrWorkerPanic     = fmt.Errorf("worker panic")
	ErrEmptyWords      = fmt.Errorf("no words have been found")
	ErrUnknownStorage  = fmt.Errorf("unknown storage backend")
	ErrInvalidHashForm = fmt.Errorf("invalid password hash format")
)

// Codes carried by error frames.
const (
	CodeProtocol          = "PROTOCOL_ERROR"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeStorage           = "STORAGE_ERROR"
	CodeInvalidArgument   = "INVALID_ARGUMENT"
	CodeResourceExhausted = "RESOURCE_EXHAUSTED"
	CodeInternal          = "INTERNAL"
)

// Code maps an error onto the code sent to clients.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case goerrors.Is(err, ErrRateLimited):
		return CodeResourceExhausted
	case goerrors.Is(err, ErrProtocol):
		return CodeProtocol
	case goerrors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case goerrors.Is(err, ErrStorage):
		return CodeStorage
	case goerrors.Is(err, ErrEmptyContent), goerrors.Is(err, ErrContentTooLong):
		return CodeInvalidArgument
	case goerrors.Is(err, ErrQueueFull), goerrors.Is(err, ErrHistoryBusy):
		return CodeResourceExhausted
	default:
		return CodeInternal
	}
}

// Retryable reports whether the client may send the same frame again:
// nothing was stored or delivered.
func Retryable(err error) bool {
	return goerrors.Is(err, ErrStorage) || goerrors.Is(err, ErrHistoryBusy)
}

// Fatal reports whether the gateway must close the connection after err.
func Fatal(err error) bool {
	switch {
	case err == nil:
		return false
	case goerrors.Is(err, ErrStorage),
		goerrors.Is(err, ErrEmptyContent),
		goerrors.Is(err, ErrContentTooLong),
		goerrors.Is(err, ErrHistoryBusy):
		return false
	default:
		return true
	}
}
