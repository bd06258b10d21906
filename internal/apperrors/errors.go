// Package apperrors defines the failure taxonomy shared by the portal client,
// the review store and the reservation workflow.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and messaging decisions.
type Kind int

const (
	// Transport covers network faults and timeouts. Retryable.
	Transport Kind = iota + 1
	// Protocol means the external system answered with an unexpected shape.
	Protocol
	// NotAuthenticated is a precondition violation: no live portal session.
	NotAuthenticated
	// Validation is a bad user-supplied value.
	Validation
	// Store is a local persistence failure.
	Store
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	case NotAuthenticated:
		return "not authenticated"
	case Validation:
		return "validation"
	case Store:
		return "store"
	default:
		return "unknown"
	}
}

// Error carries a Kind, the failing operation and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the sentinels below work with
// errors.Is regardless of Op and cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrTransport        = &Error{Kind: Transport}
	ErrProtocol         = &Error{Kind: Protocol}
	ErrNotAuthenticated = &Error{Kind: NotAuthenticated}
	ErrValidation       = &Error{Kind: Validation}
	ErrStore            = &Error{Kind: Store}
)

// New builds an *Error. A context deadline or cancellation cause is always
// reported as Transport.
func New(kind Kind, op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = Transport
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func NewTransport(op string, err error) *Error { return New(Transport, op, err) }

func Protocolf(op, format string, args ...any) *Error {
	return New(Protocol, op, fmt.Errorf(format, args...))
}

func NewNotAuthenticated(op string) *Error { return New(NotAuthenticated, op, nil) }

func Validationf(op, format string, args ...any) *Error {
	return New(Validation, op, fmt.Errorf(format, args...))
}

func NewStore(op string, err error) *Error { return New(Store, op, err) }

// KindOf reports the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Retryable is true only for transport failures.
func Retryable(err error) bool {
	return KindOf(err) == Transport
}
