package port

import (
	"errors"
	"fmt"
)

// ErrorKind classifies synchronous port errors.
type ErrorKind int

const (
	// KindLifecycle is an operation called in the wrong connection state.
	KindLifecycle ErrorKind = iota + 1
	// KindRegistration is a duplicate handler or an invalid service name.
	KindRegistration
)

func (k ErrorKind) String() string {
	switch k {
	case KindLifecycle:
		return "lifecycle"
	case KindRegistration:
		return "registration"
	default:
		return "unknown"
	}
}

// Error is returned synchronously when a port operation's precondition fails.
// It unwraps to one of the sentinels in pkg/errors.
type Error struct {
	Kind   ErrorKind
	Op     string
	Key    string
	Err    error
	Detail string
}

func (e *Error) Error() string {
	op := e.Op
	if e.Key != "" {
		op = fmt.Sprintf("%s(%q)", e.Op, e.Key)
	}
	if e.Detail != "" {
		return fmt.Sprintf("port: %s: %v: %s", op, e.Err, e.Detail)
	}
	return fmt.Sprintf("port: %s: %v", op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func lifecycleError(op, key string, err error) *Error {
	return &Error{Kind: KindLifecycle, Op: op, Key: key, Err: err}
}

func registrationError(op, key string, err error, detail string) *Error {
	return &Error{Kind: KindRegistration, Op: op, Key: key, Err: err, Detail: detail}
}

// IsLifecycle reports whether err is a lifecycle violation.
func IsLifecycle(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindLifecycle
}

// IsRegistration reports whether err is a registration conflict.
func IsRegistration(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindRegistration
}

// RemoteError is the resolution of a request whose remote handler failed.
type RemoteError struct {
	Key     string
	ID      string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %q (%s): %s", e.Key, e.ID, e.Message)
}
