// Package ierr models the error kinds a repository host core can return,
// distinct from Go error *types*: callers switch on Kind, not on a concrete
// struct, mirroring the sentinel-error idiom in modules/plumbing/error.go
// and modules/lfs/error.go.
package ierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for protocol-level reporting (side-band channel,
// HTTP status, report-status line) without binding callers to a concrete type.
type Kind int

const (
	KindUnknown Kind = iota
	KindMalformedInput
	KindCorruption
	KindNotFound
	KindConflict
	KindPermission
	KindCapacity
	KindTimeout
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindMalformedInput:
		return "malformed-input"
	case KindCorruption:
		return "corruption"
	case KindNotFound:
		return "not-found"
	case KindConflict:
		return "conflict"
	case KindPermission:
		return "permission"
	case KindCapacity:
		return "capacity"
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// E is the concrete error carrying a Kind, wrapping an optional cause.
type E struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *E) Unwrap() error { return e.Err }

func (e *E) Is(target error) bool {
	var o *E
	if errors.As(target, &o) {
		return o.Kind == e.Kind
	}
	return false
}

func New(kind Kind, msg string) error {
	return &E{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &E{Kind: kind, Msg: msg, Err: err}
}

func Of(kind Kind) error {
	return &E{Kind: kind, Msg: kind.String()}
}

// KindOf extracts the Kind of err, or KindUnknown if err is not an *E.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func MalformedInput(format string, args ...any) error {
	return New(KindMalformedInput, fmt.Sprintf(format, args...))
}

func Corruption(format string, args ...any) error {
	return New(KindCorruption, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Permission(format string, args ...any) error {
	return New(KindPermission, fmt.Sprintf(format, args...))
}

func Capacity(format string, args ...any) error {
	return New(KindCapacity, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...any) error {
	return New(KindTimeout, fmt.Sprintf(format, args...))
}

func Transient(format string, args ...any) error {
	return New(KindTransient, fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...any) error {
	return New(KindFatal, fmt.Sprintf(format, args...))
}
