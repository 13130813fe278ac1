// Package store defines the transactional persistence boundary shared by all
// treasury services. Every public operation runs inside exactly one Tx.
package store

import (
	"context"
	"time"

	"disbursa.org/internal/models"
)

// Store runs units of work.
type Store interface {
	// InTx runs fn in a serializable read-write transaction. Nothing fn wrote is
	// visible to others unless fn returns nil. Conflicting concurrent writers
	// fail with models.ErrConflict.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn against a consistent read-only snapshot. Writes fail with
	// models.ErrReadOnlyTransaction.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes per-record repositories bound to one transaction.
type Tx interface {
	Identities() IdentityRepo
	Organizations() OrganizationRepo
	Memberships() MembershipRepo
	Billing() BillingRepo
	Safes() SafeRepo
	Beneficiaries() BeneficiaryRepo
	Disbursements() DisbursementRepo
	Screening() ScreeningRepo
	Audit() AuditRepo
}

// Lookups return models.ErrNotFound when the record is absent.

type IdentityRepo interface {
	ByHandle(ctx context.Context, handle string) (models.Identity, error)
	ByID(ctx context.Context, id string) (models.Identity, error)
	Create(ctx context.Context, ident models.Identity) error
	Update(ctx context.Context, ident models.Identity) error
}

type OrganizationRepo interface {
	Get(ctx context.Context, id string) (models.Organization, error)
	Create(ctx context.Context, org models.Organization) error
	Update(ctx context.Context, org models.Organization) error
}

type MembershipRepo interface {
	// Get returns the membership of identityID in orgID.
	Get(ctx context.Context, orgID, identityID string) (models.Membership, error)
	ByID(ctx context.Context, id string) (models.Membership, error)
	// Create fails with models.ErrConflict when the (org, identity) pair exists.
	Create(ctx context.Context, m models.Membership) error
	Update(ctx context.Context, m models.Membership) error
	// ListByOrg returns every membership of the organization regardless of status.
	ListByOrg(ctx context.Context, orgID string) ([]models.Membership, error)
	ListByIdentity(ctx context.Context, identityID string) ([]models.Membership, error)
}

type BillingRepo interface {
	Get(ctx context.Context, orgID string) (models.BillingRecord, error)
	Put(ctx context.Context, rec models.BillingRecord) error
}

type SafeRepo interface {
	Get(ctx context.Context, orgID string) (models.Safe, error)
	// Put links s to its organization, replacing any previous link.
	Put(ctx context.Context, s models.Safe) error
}

type BeneficiaryRepo interface {
	Get(ctx context.Context, id string) (models.Beneficiary, error)
	ByAddress(ctx context.Context, orgID, address string) (models.Beneficiary, error)
	Create(ctx context.Context, b models.Beneficiary) error
	Update(ctx context.Context, b models.Beneficiary) error
	ListByOrg(ctx context.Context, orgID string, activeOnly bool) ([]models.Beneficiary, error)
	// CountByOrg counts active and inactive beneficiaries.
	CountByOrg(ctx context.Context, orgID string) (int, error)
}

// DisbursementQuery is the storage-level part of a disbursement listing.
// Zero values disable a filter.
type DisbursementQuery struct {
	Statuses []models.DisbursementStatus
	Token    string
	From     time.Time
	To       time.Time
}

type DisbursementRepo interface {
	// Get returns the disbursement with its payout, including batch recipients.
	Get(ctx context.Context, id string) (models.Disbursement, error)
	// Create writes the envelope and, for batches, one row per recipient.
	Create(ctx context.Context, d models.Disbursement) error
	UpdateStatus(ctx context.Context, id string, status models.DisbursementStatus, safeTxHash, txHash string, at time.Time) error
	// ListByOrg returns matching disbursements with payouts, oldest first.
	ListByOrg(ctx context.Context, orgID string, q DisbursementQuery) ([]models.Disbursement, error)
}

type ScreeningRepo interface {
	Get(ctx context.Context, beneficiaryID string) (models.ScreeningResult, error)
	Put(ctx context.Context, r models.ScreeningResult) error
}

type AuditRepo interface {
	Append(ctx context.Context, e models.AuditEntry) error
	// List returns entries of the organization newest first. A non-empty
	// filter cursor starts after the entry with that ID.
	List(ctx context.Context, orgID string, f models.AuditFilter) ([]models.AuditEntry, error)
}
