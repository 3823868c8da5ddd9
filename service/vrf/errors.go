package vrf

import (
	"errors"
	"fmt"
)

// Kind classifies every error produced by this package. The set is closed:
// callers can switch on KindOf(err) and handle each case.
type Kind uint8

const (
	// KindTransport is a failure reported by the RPC transport. It is surfaced
	// unchanged and never retried here.
	KindTransport Kind = iota + 1
	// KindNotFound means an account or a qualifying fulfillment transaction
	// does not exist.
	KindNotFound
	// KindDecode means account or instruction bytes were malformed.
	KindDecode
	// KindVerify means a signature check failed or the evidence needed to
	// run it was missing.
	KindVerify
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport error"
	case KindNotFound:
		return "not found"
	case KindDecode:
		return "decode error"
	case KindVerify:
		return "verify error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is the concrete error type returned by this package.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the bare sentinel for e's kind, so that
// errors.Is(err, ErrNotFound) matches every not-found error regardless of
// the reason it wraps.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels.
var (
	ErrTransport = &Error{Kind: KindTransport}
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrDecode    = &Error{Kind: KindDecode}
	ErrVerify    = &Error{Kind: KindVerify}
)

// Reasons. Each one matches its kind sentinel as well as itself.
var (
	// ErrAccountNotFound is returned when a derived account does not exist.
	ErrAccountNotFound = &Error{Kind: KindNotFound, Err: errors.New("account does not exist")}
	// ErrNoHistory is returned when the randomness account has no
	// transactions at all.
	ErrNoHistory = &Error{Kind: KindNotFound, Err: errors.New("no transactions reference the randomness account")}
	// ErrNoFulfillment is returned when the randomness account has
	// transactions but none of them is a successful fulfillment.
	ErrNoFulfillment = &Error{Kind: KindNotFound, Err: errors.New("no fulfillment transaction found")}
	// ErrNotFulfilled is returned when verification is attempted on a
	// randomness account that carries no signature yet. Like a missing
	// account it can resolve by waiting, so it is a not-found reason.
	ErrNotFulfilled = &Error{Kind: KindNotFound, Err: errors.New("randomness is not fulfilled")}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func transportError(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func notFound(op string, reason error) error {
	return &Error{Kind: KindNotFound, Op: op, Err: reason}
}

func decodeErrorf(op, format string, args ...any) error {
	return &Error{Kind: KindDecode, Op: op, Err: fmt.Errorf(format, args...)}
}

func verifyErrorf(op, format string, args ...any) error {
	return &Error{Kind: KindVerify, Op: op, Err: fmt.Errorf(format, args...)}
}
