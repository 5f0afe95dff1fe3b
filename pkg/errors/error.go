/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package errors

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	errorId = atomic.Uint64{}

	// Missing or invalid upstream/listen configuration. Fatal.
	ErrConfiguration = New("configuration error")

	// The listening endpoint could not be bound. Fatal.
	ErrBind = New("bind error")

	// A per-session dial to the upstream endpoint failed. The client
	// connection is closed and the accept loop continues.
	ErrUpstreamUnreachable = New("upstream unreachable")

	// I/O failure in the middle of a session.
	ErrRelay = New("relay error")

	// The readiness signal could not be delivered. Logged, never fatal.
	ErrNotify = New("notify failure")
)

// Error is an identity-comparable error. Values produced by Wrap share the
// identity of the sentinel they were wrapped from, so errors.Is(wrapped,
// sentinel) holds regardless of the cause.
type Error struct {
	id      uint64
	Message string
	Cause   error
}

func (err *Error) Wrap(cause error) *Error {
	return &Error{
		id:      err.id,
		Message: err.Message,
		Cause:   cause,
	}
}

// Wrapf wraps a formatted cause, preserving %w semantics for the cause chain.
func (err *Error) Wrapf(format string, a ...any) *Error {
	return err.Wrap(fmt.Errorf(format, a...))
}

func (err *Error) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("%s: %s", err.Message, err.Cause.Error())
	}

	return err.Message
}

func (err *Error) Unwrap() error {
	return err.Cause
}

func (err *Error) Is(target error) bool {
	if castTarget, ok := target.(*Error); ok {
		if err.id == castTarget.id {
			return true
		}
	}

	return errors.Is(err.Cause, target)
}

func New(a ...any) *Error {
	return &Error{
		id:      errorId.Add(1) - 1,
		Message: fmt.Sprint(a...),
		Cause:   nil,
	}
}

func Newf(format string, a ...any) *Error {
	return New(fmt.Sprintf(format, a...))
}

func Join(errs ...error) error {
	return errors.Join(errs...)
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func Is(err error, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsFatal reports whether err belongs to a class that must stop the
// process at startup.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrBind)
}
