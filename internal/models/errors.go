package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every error raised by the core wraps exactly one of these.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTierLimitExceeded   = errors.New("tier limit exceeded")
	ErrValidation          = errors.New("validation error")
	ErrCrossTenant         = errors.New("cross-tenant reference")
	ErrComplianceBlock     = errors.New("compliance block")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrConflict            = errors.New("conflict: concurrent modification, retry the request")
	ErrReadOnlyTransaction = errors.New("write attempted in read-only transaction")
)

// Access control.
var (
	ErrUnknownIdentity    = fmt.Errorf("%w: no identity for handle", ErrUnauthenticated)
	ErrNotAMember         = fmt.Errorf("%w: not a member of this organization", ErrUnauthorized)
	ErrMembershipInactive = fmt.Errorf("%w: membership is not active", ErrUnauthorized)
	ErrInsufficientRole   = fmt.Errorf("%w: role is not permitted to perform this action", ErrUnauthorized)
)

// Beneficiaries.
var (
	ErrInvalidAddress      = fmt.Errorf("%w: address must be 0x followed by 40 hex characters", ErrValidation)
	ErrBlankName           = fmt.Errorf("%w: name is required", ErrValidation)
	ErrEmptyList           = fmt.Errorf("%w: at least one beneficiary is required", ErrValidation)
	ErrDuplicateInBatch    = fmt.Errorf("%w: duplicate address in batch", ErrValidation)
	ErrAlreadyExists       = fmt.Errorf("%w: beneficiary with this address already exists", ErrValidation)
	ErrInvalidBeneficiary  = fmt.Errorf("%w: beneficiary not found in this organization", ErrCrossTenant)
	ErrBeneficiaryInactive = fmt.Errorf("%w: beneficiary is inactive", ErrValidation)
	ErrInvalidType         = fmt.Errorf("%w: type must be individual or business", ErrValidation)
	ErrNoChanges           = fmt.Errorf("%w: no fields to update", ErrValidation)
)

// Disbursements.
var (
	ErrNoSafeLinked         = fmt.Errorf("%w: no Safe linked to this organization", ErrValidation)
	ErrEmptyBatch           = fmt.Errorf("%w: batch must contain at least one recipient", ErrValidation)
	ErrDuplicateBeneficiary = fmt.Errorf("%w: beneficiary appears more than once in batch", ErrValidation)
	ErrInvalidAmount        = fmt.Errorf("%w: amount must be a positive decimal", ErrValidation)
	ErrInvalidStatus        = fmt.Errorf("%w: unknown disbursement status", ErrValidation)
	ErrTokenRequired        = fmt.Errorf("%w: token is required", ErrValidation)
)

// Organizations, memberships and billing.
var (
	ErrLastAdmin       = fmt.Errorf("%w: organization must keep at least one active admin (last admin)", ErrInvariantViolation)
	ErrSelfRemoval     = fmt.Errorf("%w: members cannot remove themselves", ErrInvariantViolation)
	ErrAlreadyMember   = fmt.Errorf("%w: identity is already a member", ErrValidation)
	ErrInvalidRole     = fmt.Errorf("%w: unknown role", ErrValidation)
	ErrNotInvited      = fmt.Errorf("%w: no pending invitation", ErrNotFound)
	ErrInvalidPlan     = fmt.Errorf("%w: unknown plan", ErrValidation)
	ErrInvalidSettings = fmt.Errorf("%w: invalid organization settings", ErrValidation)
	ErrBlankOrgName    = fmt.Errorf("%w: organization name is required", ErrValidation)
	ErrNoSubscription  = fmt.Errorf("%w: no paid subscription to cancel", ErrValidation)
)

// Screening and listing.
var (
	ErrInvalidVerdict = fmt.Errorf("%w: unknown screening status", ErrValidation)
	ErrInvalidCursor  = fmt.Errorf("%w: malformed cursor", ErrValidation)
	ErrInvalidFilter  = fmt.Errorf("%w: invalid list filter", ErrValidation)
)

// Kind returns the error kind wrapped by err, or nil when err is not a core error.
func Kind(err error) error {
	for _, k := range []error{
		ErrNotFound, ErrUnauthenticated, ErrUnauthorized, ErrTierLimitExceeded,
		ErrValidation, ErrCrossTenant, ErrComplianceBlock, ErrInvariantViolation, ErrConflict,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindName returns a stable machine name for the error kind of err.
func KindName(err error) string {
	switch Kind(err) {
	case ErrNotFound:
		return "NotFound"
	case ErrUnauthenticated:
		return "Unauthenticated"
	case ErrUnauthorized:
		return "Unauthorized"
	case ErrTierLimitExceeded:
		return "TierLimitExceeded"
	case ErrValidation:
		return "ValidationError"
	case ErrCrossTenant:
		return "CrossTenantReference"
	case ErrComplianceBlock:
		return "ComplianceBlock"
	case ErrInvariantViolation:
		return "InvariantViolation"
	case ErrConflict:
		return "Conflict"
	default:
		return "Internal"
	}
}
