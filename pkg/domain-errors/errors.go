// Package domainerrors provides coded errors shared by every bounded context.
//
// Services return *Error values so transports can map failures without string
// matching. Codes are grouped into kinds:
//   - KindValidation: malformed input, rejected before any state is touched
//   - KindAuthorization: the caller lacks a role or relationship
//   - KindStateConflict: current state forbids the transition
//   - KindExternalTransfer: the token transfer primitive refused the movement
//   - KindInternal: infrastructure failures
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a specific failure class.
type Code string

const (
	CodeBadRequest          Code = "bad_request"
	CodeValidation          Code = "validation_error"
	CodeInvalidInput        Code = "invalid_input"
	CodeInvalidAmount       Code = "invalid_amount"
	CodeUnauthorized        Code = "unauthorized"
	CodeForbidden           Code = "forbidden"
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodeInvalidState        Code = "invalid_state"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeInvariantViolation  Code = "invariant_violation"
	CodeTransferFailed      Code = "transfer_failed"
	CodeInternal            Code = "internal_error"
	CodeTimeout             Code = "timeout"
)

// Kind is the coarse taxonomy a Code belongs to.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuthorization    Kind = "authorization"
	KindStateConflict    Kind = "state_conflict"
	KindExternalTransfer Kind = "external_transfer"
	KindInternal         Kind = "internal"
)

var codeKinds = map[Code]Kind{
	CodeBadRequest:          KindValidation,
	CodeValidation:          KindValidation,
	CodeInvalidInput:        KindValidation,
	CodeInvalidAmount:       KindValidation,
	CodeUnauthorized:        KindAuthorization,
	CodeForbidden:           KindAuthorization,
	CodeNotFound:            KindStateConflict,
	CodeConflict:            KindStateConflict,
	CodeInvalidState:        KindStateConflict,
	CodeInsufficientBalance: KindStateConflict,
	CodeInvariantViolation:  KindStateConflict,
	CodeTransferFailed:      KindExternalTransfer,
	CodeInternal:            KindInternal,
	CodeTimeout:             KindInternal,
}

// Kind returns the taxonomy bucket for the code. Unknown codes are internal.
func (c Code) Kind() Kind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return KindInternal
}

// Error is a coded failure with a human-readable message and optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error

	origin *Error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the exported error value this one was derived from via Because.
func (e *Error) Is(target error) bool {
	return e.origin != nil && target == error(e.origin)
}

// Because returns a copy of e carrying cause. The copy still satisfies
// errors.Is(copy, e), so package-level error values keep working as match
// targets when a cause is attached.
func (e *Error) Because(cause error) *Error {
	origin := e
	if e.origin != nil {
		origin = e.origin
	}
	return &Error{Code: e.Code, Message: e.Message, Err: cause, origin: origin}
}

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. Wrapping nil returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// chain carries no domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any error in the chain carries the code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// KindOf classifies err by its outermost code.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return CodeOf(err).Kind()
}

// Message returns the outermost domain message, falling back to err.Error().
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
