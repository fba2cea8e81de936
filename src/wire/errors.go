package wire

import (
	"errors"
	"fmt"
)

// ErrorCode is a Maelstrom protocol error code, carried by error bodies.
type ErrorCode int

// Codes this runtime emits or reacts to. 0-999 are reserved by the
// protocol.
const (
	ErrTimeout                ErrorCode = 0
	ErrNotSupported           ErrorCode = 10
	ErrTemporarilyUnavailable ErrorCode = 11
	ErrMalformedRequest       ErrorCode = 12
	ErrCrash                  ErrorCode = 13
	ErrAbort                  ErrorCode = 14
	ErrKeyDoesNotExist        ErrorCode = 20
	ErrKeyAlreadyExists       ErrorCode = 21
	ErrPreconditionFailed     ErrorCode = 22
	ErrTxnConflict            ErrorCode = 30
)

// String returns the protocol name of the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrTimeout:
		return "timeout"
	case ErrNotSupported:
		return "not-supported"
	case ErrTemporarilyUnavailable:
		return "temporarily-unavailable"
	case ErrMalformedRequest:
		return "malformed-request"
	case ErrCrash:
		return "crash"
	case ErrAbort:
		return "abort"
	case ErrKeyDoesNotExist:
		return "key-does-not-exist"
	case ErrKeyAlreadyExists:
		return "key-already-exists"
	case ErrPreconditionFailed:
		return "precondition-failed"
	case ErrTxnConflict:
		return "txn-conflict"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

var errMissingType = errors.New("missing body type")

// DecodeError reports a line that could not be parsed into an envelope.
type DecodeError struct {
	Err error
}

func (e DecodeError) Error() string { return fmt.Sprintf("wire: decode: %v", e.Err) }

func (e DecodeError) Unwrap() error { return e.Err }

// UnknownKindError reports a well-formed envelope whose body type is not a
// known kind.
type UnknownKindError struct {
	Type Kind
}

func (e UnknownKindError) Error() string {
	return fmt.Sprintf("wire: unknown message type %q", string(e.Type))
}
