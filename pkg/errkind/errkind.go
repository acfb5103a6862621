// Package errkind defines the closed set of error kinds that the cache
// protocol can raise, and a wrapper type that carries one of them.
//
// Every layer of the cache protocol (remote path lookups, the distributed
// lock, the cache-fn/cache-call wrappers, the dispatch front-end) returns
// errors through this package so that callers can distinguish "retry me",
// "somebody else is already doing this", and "this is a fatal
// configuration mistake" using errors.Is/errors.As instead of string
// matching.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is a closed taxonomy of error conditions raised by the cache
// protocol. The zero value is not a valid Kind.
type Kind int

const (
	// NotInStore means an artifact was expected at a remote path but is
	// absent. Retryable by the caller's runtime; the core never retries
	// internally.
	NotInStore Kind = iota + 1

	// TaskRunning means a distributed lock for this fingerprint is held
	// by another worker. The caller should back off and retry.
	TaskRunning

	// FileDisappeared means a local file vanished between being produced
	// and being installed into the remote store. Fatal for the call.
	FileDisappeared

	// RetryGenerateTaskQueue means a task-graph builder observed a
	// retryable error from a downstream call while constructing the
	// graph. Retryable.
	RetryGenerateTaskQueue

	// UnsupportedScheme means a remote path's scheme is not in the
	// configured allow-list. Fatal.
	UnsupportedScheme

	// UnauthorizedMethod means a dispatched method name did not match
	// any entry in the configured allow-list. Fatal.
	UnauthorizedMethod

	// MalformedArgument means a caller-supplied argument (or a
	// configuration value) could not be coerced to the type the target
	// expects. Fatal.
	MalformedArgument
)

var names = map[Kind]string{
	NotInStore:             "NOT_IN_STORE",
	TaskRunning:            "TASK_RUNNING",
	FileDisappeared:        "FILE_DISAPPEARED",
	RetryGenerateTaskQueue: "RETRY_GENERATE_TASK_QUEUE",
	UnsupportedScheme:      "UNSUPPORTED_SCHEME",
	UnauthorizedMethod:     "UNAUTHORIZED_METHOD",
	MalformedArgument:      "MALFORMED_ARGUMENT",
}

// String returns the kind's wire name, e.g. "TASK_RUNNING".
func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_KIND(%d)", int(k))
}

// Error carries a Kind, a human-readable message, and an optional wrapped
// cause. It implements Unwrap so errors.Is/errors.As see through to the
// cause, and it supports errors.Is against Sentinel(kind) via Is.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, errkind.Sentinel(errkind.NotInStore)) match on
// the kind alone, without requiring callers to construct an *Error to
// compare against.
func (e *Error) Is(target error) bool {
	if k, ok := target.(kindSentinel); ok {
		return e.Kind == k.kind
	}
	return false
}

// kindSentinel lets a bare Kind be used as an errors.Is target.
type kindSentinel struct{ kind Kind }

func (s kindSentinel) Error() string { return s.kind.String() }

// Sentinel returns an error value suitable as the target of
// errors.Is(err, errkind.Sentinel(errkind.NotInStore)).
func Sentinel(k Kind) error { return kindSentinel{k} }

// New builds an *Error with no wrapped cause.
func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

// Wrap builds an *Error wrapping cause. If cause is nil, Wrap returns nil.
func Wrap(k Kind, msg string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Cause: cause}
}

// Of reports the Kind carried by err, if any, via errors.As.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err is (or wraps) an *Error of kind k.
func Is(err error, k Kind) bool {
	got, ok := Of(err)
	return ok && got == k
}
