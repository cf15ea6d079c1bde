package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies an error for callers that need to render or map it.
type Kind string

const (
	KindUnknown    Kind = "internal"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindPolicy     Kind = "policy"
	KindConflict   Kind = "conflict"
	KindDependency Kind = "dependency"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")

	// Authorization policy: surfaced to the caller, never retried.
	ErrAgentInactive       = errors.New("agent is not active")
	ErrMerchantNotApproved = errors.New("merchant is not approved")
	ErrAgentBlocked        = errors.New("agent is blocked by merchant")
	ErrLimitExceeded       = errors.New("spending limit exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRiskThreshold       = errors.New("risk score above policy threshold")
	ErrVelocityExceeded    = errors.New("too many transactions in the last minute")
	ErrReplayedNonce       = errors.New("nonce already used")
	ErrInvalidSignature    = errors.New("invalid request signature")

	// Conflict: the caller may retry from the top.
	ErrAlreadyResolved   = errors.New("already resolved")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("concurrent update conflict")

	ErrEmptyScope = errors.New("evaluation scope resolved to zero agents")

	ErrDependency         = errors.New("dependency failed")
	ErrNoEligibleMerchant = errors.New("no eligible merchant")
)

type LimitKind string

const (
	LimitPerTransaction LimitKind = "per_transaction"
	LimitDaily          LimitKind = "daily"
	LimitMonthly        LimitKind = "monthly"
)

// LimitExceededError carries which limit tripped and by how much.
type LimitExceededError struct {
	Limit     LimitKind
	Max       decimal.Decimal
	Attempted decimal.Decimal // amount plus what the window already holds
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %s > %s", e.Limit, e.Attempted.StringFixed(2), e.Max.StringFixed(2))
}

func (e *LimitExceededError) Is(target error) bool { return target == ErrLimitExceeded }

type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindValidation, []error{ErrValidation, ErrEmptyScope}},
	{KindNotFound, []error{ErrNotFound}},
	{KindForbidden, []error{ErrForbidden}},
	{KindPolicy, []error{ErrAgentInactive, ErrMerchantNotApproved, ErrAgentBlocked, ErrLimitExceeded, ErrInsufficientBalance, ErrRiskThreshold,
		ErrVelocityExceeded, ErrReplayedNonce, ErrInvalidSignature}},
	{KindConflict, []error{ErrAlreadyResolved, ErrInvalidTransition, ErrConflict}},
	{KindDependency, []error{ErrDependency, ErrNoEligibleMerchant}},
}

// KindOf walks the wrap chain and reports the first matching kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindUnknown
}

// Retryable reports whether the whole operation may be retried from the top.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
