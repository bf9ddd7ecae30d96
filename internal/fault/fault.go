// Package fault carries the error kind taxonomy shared by workers and the
// API surface. Workers retry Transient faults; everything else bubbles out
// and marks the owning run failed. The API maps kinds to stable HTTP codes.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig    Kind = "config_error"
	KindTransient Kind = "transient_io"
	KindSchema    Kind = "source_schema"
	KindAuth      Kind = "auth_error"
	KindRateLimit Kind = "rate_limited"
	KindNotFound  Kind = "not_found"
	KindConflict  Kind = "conflict"
	KindForbidden Kind = "forbidden"
)

// Fault wraps a cause with a kind. Message is user-safe; the cause is not.
type Fault struct {
	Kind    Kind
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Fault {
	return &Fault{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// treated as transient so the queue gets a chance to retry them.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransient
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the queue should retry a job that failed with err.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}
