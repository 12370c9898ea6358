// Package apperr defines the error kinds returned by the session and organization services.
// Every error crossing a service boundary carries a stable machine-readable Kind and a message
// that is safe to show to the caller.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable error category.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindInvalidToken       Kind = "invalid_token"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindBadRequest         Kind = "bad_request"
	KindDependency         Kind = "dependency_error"
	KindPartialFailure     Kind = "partial_failure"
	KindInternal           Kind = "internal"
)

// Sentinels for errors.Is checks. They match any *Error of the same kind.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrInvalidToken       = &Error{Kind: KindInvalidToken}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrBadRequest         = &Error{Kind: KindBadRequest}
	ErrDependency         = &Error{Kind: KindDependency}
	ErrPartialFailure     = &Error{Kind: KindPartialFailure}
	ErrInternal           = &Error{Kind: KindInternal}
)

// Error is a categorized error with a caller-safe message.
// Err holds the internal cause and is never rendered into Message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind that keeps err as its cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Dependency wraps a store or cache failure.
func Dependency(err error) *Error {
	return &Error{Kind: KindDependency, Message: "a backing service is unavailable", Err: err}
}

// Step names the sub-step of a multi-write operation that did not complete.
type Step string

const (
	// StepLinkUser: the organization id was not added to the user's membership list.
	StepLinkUser Step = "link_user"
	// StepUnlinkUser: the organization id was not removed from the user's membership list.
	StepUnlinkUser Step = "unlink_user"
	// StepUnlinkMembers: the deleted organization id was not retracted from its former members.
	StepUnlinkMembers Step = "unlink_members"
)

// PartialFailure reports a multi-write operation whose earlier write committed
// while a later dependent write failed.
type PartialFailure struct {
	Step           Step
	OrganizationID string
	UserID         string
	Email          string
	Err            error
}

func (p *PartialFailure) Error() string {
	return fmt.Sprintf("operation partially applied (%s); reconciliation is pending", p.Step)
}

func (p *PartialFailure) Unwrap() error { return p.Err }

func (p *PartialFailure) Is(target error) bool { return target == ErrPartialFailure }

// KindOf returns the kind of err, or "" when err is not categorized.
func KindOf(err error) Kind {
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return KindPartialFailure
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Message returns the caller-safe message for err.
func Message(err error) string {
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return pf.Error()
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "internal error"
}
