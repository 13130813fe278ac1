package models

import "time"

// Role is a member's role within an organization.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleApprover  Role = "approver"
	RoleInitiator Role = "initiator"
	RoleClerk     Role = "clerk"
	RoleViewer    Role = "viewer"
)

// roleRank orders roles from lowest (0) to highest.
var roleRank = map[Role]int{
	RoleViewer:    0,
	RoleClerk:     1,
	RoleInitiator: 2,
	RoleApprover:  3,
	RoleAdmin:     4,
}

// AllRoles lists every role from highest to lowest.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleApprover, RoleInitiator, RoleClerk, RoleViewer}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// RoleAtLeast reports whether actual sits at or above required in the fixed
// order admin > approver > initiator > clerk > viewer. Unknown roles never qualify.
func RoleAtLeast(actual, required Role) bool {
	a, ok := roleRank[actual]
	if !ok {
		return false
	}
	r, ok := roleRank[required]
	if !ok {
		return false
	}
	return a >= r
}

// MembershipStatus is the lifecycle status of a membership.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipInvited MembershipStatus = "invited"
	MembershipRemoved MembershipStatus = "removed"
)

// Membership links an identity to an organization with a role. At most one
// exists per (org, identity) pair.
type Membership struct {
	ID         string           `json:"id"`
	OrgID      string           `json:"org_id"`
	IdentityID string           `json:"identity_id"`
	Role       Role             `json:"role"`
	Status     MembershipStatus `json:"status"`
	InvitedBy  string           `json:"invited_by,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// IsActive reports whether the membership grants access.
func (m Membership) IsActive() bool {
	return m.Status == MembershipActive
}

// HoldsSeat reports whether the membership counts against the plan's seat limit.
func (m Membership) HoldsSeat() bool {
	return m.Status == MembershipActive || m.Status == MembershipInvited
}

// MemberView is a membership joined with its identity handle for display.
type MemberView struct {
	Membership
	Handle string `json:"handle"`
}
