package seat

import "errors"

// Code is the stable, client-visible classification of a decision failure.
type Code string

const (
	CodeNotFound          Code = "NotFound"
	CodeOrgMismatch       Code = "OrgMismatch"
	CodeInactive          Code = "Inactive"
	CodeExpired           Code = "Expired"
	CodeSeatLimitExceeded Code = "SeatLimitExceeded"
	CodeNoAllocation      Code = "NoAllocation"
	CodeTransientStorage  Code = "TransientStorageFailure"
)

// Retryable reports whether a client may retry the same request later and
// expect a different outcome without administrative action.
func (c Code) Retryable() bool {
	return c == CodeSeatLimitExceeded || c == CodeTransientStorage
}

// Error is a typed decision failure. Two Errors match under errors.Is when
// their codes are equal, so callers can test against the sentinels below
// regardless of the exact message.
type Error struct {
	Code    Code
	Message string
	// Details carries non-sensitive context for audit and logs. It is never
	// sent to clients.
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	// ErrNotFound indicates no entitlement has the requested license key.
	ErrNotFound = &Error{Code: CodeNotFound, Message: "License not found"}
	// ErrAllocationNotFound indicates a release target that does not exist.
	ErrAllocationNotFound = &Error{Code: CodeNotFound, Message: "No seat allocation found for this device"}
	// ErrOrgMismatch indicates the caller's organization does not own the license.
	ErrOrgMismatch = &Error{Code: CodeOrgMismatch, Message: "Organization does not match license"}
	// ErrInactive indicates a suspended or revoked entitlement.
	ErrInactive = &Error{Code: CodeInactive, Message: "License is not active"}
	// ErrExpired indicates the request time is past the entitlement's validity window.
	ErrExpired = &Error{Code: CodeExpired, Message: "License has expired"}
	// ErrNotYetValid indicates the request time precedes the validity window.
	ErrNotYetValid = &Error{Code: CodeExpired, Message: "License is not yet valid"}
	// ErrSeatLimitExceeded indicates every seat is held by a fresh allocation.
	ErrSeatLimitExceeded = &Error{Code: CodeSeatLimitExceeded, Message: "No seats available. Maximum active seats in use."}
	// ErrNoAllocation indicates a heartbeat for a device without a live seat.
	ErrNoAllocation = &Error{Code: CodeNoAllocation, Message: "No active seat allocation for this device. Call validate first."}
	// ErrTransientStorage indicates a ledger failure; the whole decision is safe to retry.
	ErrTransientStorage = &Error{Code: CodeTransientStorage, Message: "Storage temporarily unavailable, please retry"}
)

// withDetails returns a copy of e carrying details.
func (e *Error) withDetails(details map[string]any) *Error {
	c := *e
	c.Details = details
	return &c
}

// transient wraps a storage error so it carries the transient code while
// keeping the cause available to logs through errors.Unwrap.
func transient(err error) error {
	return &Error{Code: CodeTransientStorage, Message: ErrTransientStorage.Message, Err: err}
}

// CodeOf classifies err. Errors that are not decision errors are treated as
// transient storage failures. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeTransientStorage
}
