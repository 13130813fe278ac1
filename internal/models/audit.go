package models

import "time"

// AuditEntry is an append-only record of a state-changing action.
type AuditEntry struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"org_id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Audit object types.
const (
	ObjectOrganization = "organization"
	ObjectMembership   = "membership"
	ObjectBilling      = "billing"
	ObjectBeneficiary  = "beneficiary"
	ObjectDisbursement = "disbursement"
	ObjectSafe         = "safe"
	ObjectScreening    = "screening"
)

// Audit actions. Disbursement status changes use "disbursement.<status>".
const (
	ActionOrgCreated          = "org.created"
	ActionOrgSettingsUpdated  = "org.settingsUpdated"
	ActionSafeLinked          = "safe.linked"
	ActionMemberInvited       = "member.invited"
	ActionMemberJoined        = "member.joined"
	ActionMemberRoleUpdated   = "member.roleUpdated"
	ActionMemberRemoved       = "member.removed"
	ActionBillingSubscribed   = "billing.subscribed"
	ActionBillingCancelled    = "billing.cancelled"
	ActionBeneficiaryCreated  = "beneficiary.created"
	ActionBeneficiaryUpdated  = "beneficiary.updated"
	ActionDisbursementCreated = "disbursement.created"
	ActionScreeningIngested   = "screening.ingested"
	ActionScreeningReviewed   = "screening.reviewed"
)

// StatusAction returns the audit action for a move to status.
func StatusAction(status DisbursementStatus) string {
	return "disbursement." + string(status)
}

// AuditFilter narrows an audit listing. Entries come back newest first.
type AuditFilter struct {
	ObjectType string
	ObjectID   string
	Action     string
	Cursor     string
	Limit      int
}
