package db

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

type ErrCode uint64

const (
	ErrCUnavailable      ErrCode = iota + 1 // 1: Backend busy or locked, retryable.
	ErrCConflict                            // 2: Optimistic transaction conflict, retry the whole unit.
	ErrCCorruption                          // 3: Stored bytes could not be decoded.
	ErrCIo                                  // 4: Underlying I/O failure.
	ErrCScopeUnavailable                    // 5: The backend for a storage scope could not be opened.
	ErrCTxClosed                            // 6: Operation on a committed or rolled back transaction.
	ErrCReadOnly                            // 7: Write operation on a read transaction.
	ErrCInvalidValue                        // 8: A value could not be encoded.
)

func (c ErrCode) String() string {
	switch c {
	case ErrCUnavailable:
		return "Unavailable"
	case ErrCConflict:
		return "Conflict"
	case ErrCCorruption:
		return "Corruption"
	case ErrCIo:
		return "Io"
	case ErrCScopeUnavailable:
		return "ScopeUnavailable"
	case ErrCTxClosed:
		return "TxClosed"
	case ErrCReadOnly:
		return "ReadOnly"
	case ErrCInvalidValue:
		return "InvalidValue"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by every backend and by the layers above it.
// Two errors match under errors.Is when their codes are equal, so callers
// can test against the sentinel values below:
//
//	if errors.Is(err, db.ErrConflict) { ... }
type Error struct {
	Code ErrCode // The error code
	Msg  string  // The error message
	Err  error   // The wrapped cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("StorageError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("StorageError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// WrapError creates a new Error with the given code and message wrapping cause.
func WrapError(code ErrCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Sentinels for errors.Is.
var (
	ErrUnavailable      = NewError(ErrCUnavailable, "backend unavailable")
	ErrConflict         = NewError(ErrCConflict, "transaction conflict")
	ErrCorruption       = NewError(ErrCCorruption, "corrupt data")
	ErrIo               = NewError(ErrCIo, "i/o failure")
	ErrScopeUnavailable = NewError(ErrCScopeUnavailable, "storage scope unavailable")
	ErrTxClosed         = NewError(ErrCTxClosed, "transaction closed")
	ErrReadOnly         = NewError(ErrCReadOnly, "read-only transaction")
	ErrInvalidValue     = NewError(ErrCInvalidValue, "invalid value")
)

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) ErrCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsRetryable reports whether the failed unit of work may succeed when retried.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCUnavailable, ErrCConflict:
		return true
	}
	return false
}
