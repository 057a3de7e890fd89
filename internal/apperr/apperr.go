// Package apperr defines the typed failures surfaced by the order, stock and
// design components. Stores wrap SDK errors in an *Error so callers can branch
// on the Kind without inspecting AWS error types.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidationFailed
	KindInsufficientStock
	KindProductNotFound
	KindOrderNotFound
	KindDesignNotFound
	KindInvalidTransition
	KindPersistenceFailed
	KindConflict
	KindDuplicate
	KindTimeout
	KindUnauthorized
	KindUpstreamFailed
)

func (k Kind) String() string {
	switch k {
	case KindValidationFailed:
		return "ValidationFailed"
	case KindInsufficientStock:
		return "InsufficientStock"
	case KindProductNotFound:
		return "ProductNotFound"
	case KindOrderNotFound:
		return "OrderNotFound"
	case KindDesignNotFound:
		return "DesignNotFound"
	case KindInvalidTransition:
		return "InvalidTransition"
	case KindPersistenceFailed:
		return "PersistenceFailed"
	case KindConflict:
		return "Conflict"
	case KindDuplicate:
		return "Duplicate"
	case KindTimeout:
		return "Timeout"
	case KindUnauthorized:
		return "Unauthorized"
	case KindUpstreamFailed:
		return "UpstreamFailed"
	default:
		return "Unknown"
	}
}

// Error is a classified failure. Op names the operation that failed
// (e.g. "orders.PlaceOrder"); Fields carries per-field validation messages.
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Fields map[string]string
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error. A context deadline in err is reported as KindTimeout
// regardless of the requested kind.
func E(kind Kind, op string, err error) *Error {
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation builds a KindValidationFailed error with field messages.
func Validation(op string, fields map[string]string) *Error {
	return &Error{Kind: KindValidationFailed, Op: op, Err: errors.New("invalid input"), Fields: fields}
}

// KindOf returns the Kind of the first *Error in err's chain.
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

// FieldsOf returns validation field messages, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}
