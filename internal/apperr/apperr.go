package apperr

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Kind classifies pipeline failures so callers can react without parsing messages.
type Kind string

const (
	KindDuplicate          Kind = "duplicate"
	KindValidation         Kind = "validation"
	KindExternalCapability Kind = "external_capability"
	KindLimitExceeded      Kind = "limit_exceeded"
	KindManualNeeded       Kind = "manual_needed"
	KindNotReady           Kind = "not_ready"
	KindNotFound           Kind = "not_found"
	KindBusy               Kind = "busy"
	KindInternal           Kind = "internal"
)

// Error is the typed error returned across component boundaries.
type Error struct {
	Kind   Kind
	Reason string
	// Transient marks failures worth a bounded retry (timeouts, 5xx, flaky navigation).
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func Duplicate(reason string) *Error { return New(KindDuplicate, reason) }

func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func NotReady(format string, args ...any) *Error {
	return New(KindNotReady, fmt.Sprintf(format, args...))
}

func LimitExceeded(format string, args ...any) *Error {
	return New(KindLimitExceeded, fmt.Sprintf(format, args...))
}

func ManualNeeded(format string, args ...any) *Error {
	return New(KindManualNeeded, fmt.Sprintf(format, args...))
}

func Busy(format string, args ...any) *Error {
	return New(KindBusy, fmt.Sprintf(format, args...))
}

// ExternalCapability wraps a failed call to a generation or automation backend.
func ExternalCapability(reason string, err error, transient bool) *Error {
	return &Error{Kind: KindExternalCapability, Reason: reason, Transient: transient, Err: err}
}

// KindOf returns the kind of the first *Error in the chain or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether err is worth a bounded retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}

// FromStorage translates gorm errors at a component boundary so raw driver
// errors never reach callers.
func FromStorage(err error, what string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound("%s not found", what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return Duplicate(fmt.Sprintf("%s already exists", what))
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return Validation("%s references a missing record", what)
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return Validation("%s violates a storage constraint", what)
	default:
		return Wrap(KindInternal, fmt.Sprintf("storing %s", what), err)
	}
}
