// Package faults defines the engine's error taxonomy and the
// retryable/permanent classification that drives retry policy.
package faults

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the failure taxonomy. Classification works on kinds, never on
// message text.
type Kind string

const (
	// Transient kinds — safe to retry.
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
	KindRateLimit   Kind = "rate_limit"

	// Permanent kinds — retrying cannot help.
	KindValidation   Kind = "validation"
	KindConfig       Kind = "config"
	KindAuth         Kind = "auth"
	KindBusinessRule Kind = "business_rule"

	// KindUnknown is assigned to errors that carry no kind.
	KindUnknown Kind = "unknown"
)

// Class is the retry decision for a failure.
type Class string

const (
	Retryable Class = "retryable"
	Permanent Class = "permanent"
)

// Error tags an underlying error with a Kind.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// New builds a tagged error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Cause: fmt.Errorf(format, args...)}
}

// Wrap tags an existing error. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: err}
}

// KindOf extracts the Kind from an error chain. Context deadline errors
// are treated as timeouts even when untagged.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

var classTable = map[Kind]Class{
	KindNetwork:      Retryable,
	KindTimeout:      Retryable,
	KindUnavailable:  Retryable,
	KindRateLimit:    Retryable,
	KindValidation:   Permanent,
	KindConfig:       Permanent,
	KindAuth:         Permanent,
	KindBusinessRule: Permanent,
}

// Classify maps a failure to its retry class. Unrecognized errors are
// retryable: maxRetries caps the cost of misreading a permanent fault,
// while misreading a transient one as permanent drops work silently.
func Classify(err error) Class {
	if c, ok := classTable[KindOf(err)]; ok {
		return c
	}
	return Retryable
}
