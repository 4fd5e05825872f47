// Package apperr defines the error kinds shared by the session, store and
// remote layers. Callers branch on the kind, never on message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNetwork
	KindAuth
	KindPermission
	KindRemoteWrite
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindRemoteWrite:
		return "remote_write"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified error. Op names the operation that failed and Msg is
// safe to show to a user.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of err, falling back to err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func Validation(op, msg string) error { return newError(KindValidation, op, msg, nil) }

func Network(op string, err error) error {
	return newError(KindNetwork, op, "network error, check your connection and try again", err)
}

func Auth(op, msg string, err error) error { return newError(KindAuth, op, msg, err) }

func Permission(op, msg string) error { return newError(KindPermission, op, msg, nil) }

func RemoteWrite(op string, err error) error {
	return newError(KindRemoteWrite, op, "remote service rejected the write", err)
}

func NotFound(op, what string) error {
	return newError(KindNotFound, op, what+" not found", nil)
}
