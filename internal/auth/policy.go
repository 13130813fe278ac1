package auth

import (
	"slices"

	"disbursa.org/internal/models"
)

// Operation names a gated action.
type Operation string

const (
	OpOrgRead            Operation = "org.read"
	OpOrgUpdateSettings  Operation = "org.updateSettings"
	OpSafeLink           Operation = "safe.link"
	OpMemberList         Operation = "member.list"
	OpMemberInvite       Operation = "member.invite"
	OpMemberUpdateRole   Operation = "member.updateRole"
	OpMemberRemove       Operation = "member.remove"
	OpBillingRead        Operation = "billing.read"
	OpBillingSubscribe   Operation = "billing.subscribe"
	OpBillingCancel      Operation = "billing.cancel"
	OpBeneficiaryRead    Operation = "beneficiary.read"
	OpBeneficiaryCreate  Operation = "beneficiary.create"
	OpBeneficiaryUpdate  Operation = "beneficiary.update"
	OpBeneficiaryBulk    Operation = "beneficiary.bulkCreate"
	OpDisbursementRead   Operation = "disbursement.read"
	OpDisbursementCreate Operation = "disbursement.create"
	OpDisbursementStatus Operation = "disbursement.updateStatus"
	OpScreeningRead      Operation = "screening.read"
	OpScreeningReview    Operation = "screening.review"
	OpAuditList          Operation = "audit.list"
	OpEventsSubscribe    Operation = "events.subscribe"
)

// Policy maps each operation to the literal set of roles allowed to perform it.
// The sets are not thresholds: approver may create disbursements but not
// beneficiaries, clerk the reverse.
type Policy map[Operation][]models.Role

var (
	anyRole    = models.AllRoles()
	adminOnly  = []models.Role{models.RoleAdmin}
	reviewers  = []models.Role{models.RoleAdmin, models.RoleApprover}
	registrars = []models.Role{models.RoleAdmin, models.RoleInitiator, models.RoleClerk}
	payers     = []models.Role{models.RoleAdmin, models.RoleApprover, models.RoleInitiator}
)

// DefaultPolicy returns the built-in permission table.
func DefaultPolicy() Policy {
	return Policy{
		OpOrgRead:            anyRole,
		OpOrgUpdateSettings:  adminOnly,
		OpSafeLink:           adminOnly,
		OpMemberList:         anyRole,
		OpMemberInvite:       adminOnly,
		OpMemberUpdateRole:   adminOnly,
		OpMemberRemove:       adminOnly,
		OpBillingRead:        anyRole,
		OpBillingSubscribe:   adminOnly,
		OpBillingCancel:      adminOnly,
		OpBeneficiaryRead:    anyRole,
		OpBeneficiaryCreate:  registrars,
		OpBeneficiaryUpdate:  registrars,
		OpBeneficiaryBulk:    registrars,
		OpDisbursementRead:   anyRole,
		OpDisbursementCreate: payers,
		OpDisbursementStatus: payers,
		OpScreeningRead:      anyRole,
		OpScreeningReview:    reviewers,
		OpAuditList:          reviewers,
		OpEventsSubscribe:    anyRole,
	}
}

// Roles returns the roles allowed to perform op. Unknown operations allow nobody.
func (p Policy) Roles(op Operation) []models.Role {
	return slices.Clone(p[op])
}

// Allows reports whether role may perform op.
func (p Policy) Allows(op Operation, role models.Role) bool {
	return slices.Contains(p[op], role)
}
