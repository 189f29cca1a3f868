// Package apperr defines the named failures surfaced by every domain
// component. Each failure carries a kind from the four-way taxonomy, a stable
// code, and the offending entity so a caller can decide whether to retry,
// correct its input, or give up.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure class.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindValidation    Kind = "validation"
	KindEconomic      Kind = "economic"
)

// Code names a specific failure.
type Code string

// Authorization.
const (
	Unauthorized       Code = "unauthorized"
	NotOwner           Code = "not_owner"
	UnauthorizedModule Code = "unauthorized_module"
	NotJuror           Code = "not_juror"
	NotAssigned        Code = "not_assigned"
)

// State.
const (
	DuplicateID        Code = "duplicate_id"
	NotFound           Code = "not_found"
	ArchivedImmutable  Code = "archived_immutable"
	SameStatus         Code = "same_status"
	InvalidTransition  Code = "invalid_transition"
	InvalidPauseState  Code = "invalid_pause_state"
	AlreadyFulfilled   Code = "already_fulfilled"
	NotFulfilled       Code = "not_fulfilled"
	AlreadyReversed    Code = "already_reversed"
	AlreadyVoted       Code = "already_voted"
	AlreadyAttested    Code = "already_attested"
	AlreadyResolved    Code = "already_resolved"
	AlreadyDeprecated  Code = "already_deprecated"
	Deprecated         Code = "deprecated"
	ProjectNotActive   Code = "project_not_active"
	InvalidMethodology Code = "invalid_methodology"
	MethodologyInUse   Code = "methodology_in_use"
	ReentrantCall      Code = "reentrant_call"
	DisputeNotReady    Code = "dispute_not_ready"
	ClaimNotDisputable Code = "claim_not_disputable"
	VotingClosed       Code = "voting_closed"
	TaskClosed         Code = "task_closed"
	UnknownModule      Code = "unknown_module"
	NotDelegator       Code = "not_delegator"
)

// Validation.
const (
	ZeroOwner          Code = "zero_owner"
	ZeroAddress        Code = "zero_address"
	ZeroAmount         Code = "zero_amount"
	WindowExpired      Code = "window_expired"
	MalformedReference Code = "malformed_reference"
	InvalidInput       Code = "invalid_input"
	OutOfBounds        Code = "out_of_bounds"
)

// Economic.
const (
	InsufficientStake   Code = "insufficient_stake"
	InsufficientBalance Code = "insufficient_balance"
	StaleData           Code = "stale_data"
	QuorumNotMet        Code = "quorum_not_met"
	InsufficientJurors  Code = "insufficient_jurors"
)

var kinds = map[Code]Kind{
	Unauthorized:       KindAuthorization,
	NotOwner:           KindAuthorization,
	UnauthorizedModule: KindAuthorization,
	NotJuror:           KindAuthorization,
	NotAssigned:        KindAuthorization,

	DuplicateID:        KindState,
	NotFound:           KindState,
	ArchivedImmutable:  KindState,
	SameStatus:         KindState,
	InvalidTransition:  KindState,
	InvalidPauseState:  KindState,
	AlreadyFulfilled:   KindState,
	NotFulfilled:       KindState,
	AlreadyReversed:    KindState,
	AlreadyVoted:       KindState,
	AlreadyAttested:    KindState,
	AlreadyResolved:    KindState,
	AlreadyDeprecated:  KindState,
	Deprecated:         KindState,
	ProjectNotActive:   KindState,
	InvalidMethodology: KindState,
	MethodologyInUse:   KindState,
	ReentrantCall:      KindState,
	DisputeNotReady:    KindState,
	ClaimNotDisputable: KindState,
	VotingClosed:       KindState,
	TaskClosed:         KindState,
	UnknownModule:      KindState,
	NotDelegator:       KindState,

	ZeroOwner:          KindValidation,
	ZeroAddress:        KindValidation,
	ZeroAmount:         KindValidation,
	WindowExpired:      KindValidation,
	MalformedReference: KindValidation,
	InvalidInput:       KindValidation,
	OutOfBounds:        KindValidation,

	InsufficientStake:   KindEconomic,
	InsufficientBalance: KindEconomic,
	StaleData:           KindEconomic,
	QuorumNotMet:        KindEconomic,
	InsufficientJurors:  KindEconomic,
}

// KindOf returns the taxonomy class of c. Unknown codes are state failures.
func KindOf(c Code) Kind {
	if k, ok := kinds[c]; ok {
		return k
	}
	return KindState
}

// Error is a named domain failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    Code   `json:"code"`
	Entity  string `json:"entity,omitempty"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *Error) Error() string {
	s := string(e.Kind) + ": " + string(e.Code)
	if e.Entity != "" {
		s += " " + e.Entity
		if e.ID != "" {
			s += " " + e.ID
		}
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// Is matches another *Error with the same code, so errors.Is(err,
// apperr.New(apperr.NotFound, "", "")) works regardless of entity.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the caller may retry unchanged once external
// conditions change. Only economic failures qualify.
func (e *Error) Retryable() bool {
	return e.Kind == KindEconomic
}

// New builds an error for code against entity/id.
func New(code Code, entity, id string) *Error {
	return &Error{Kind: KindOf(code), Code: code, Entity: entity, ID: id}
}

// Newf builds an error with a formatted message.
func Newf(code Code, entity, id, format string, args ...any) *Error {
	e := New(code, entity, id)
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// As extracts the *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of the domain error in err's chain, or "".
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
