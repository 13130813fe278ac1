package models

import "time"

// Plan is a subscription tier. Tiers are ordered trial < starter < team < pro.
type Plan string

const (
	PlanTrial   Plan = "trial"
	PlanStarter Plan = "starter"
	PlanTeam    Plan = "team"
	PlanPro     Plan = "pro"
)

var planRank = map[Plan]int{
	PlanTrial:   0,
	PlanStarter: 1,
	PlanTeam:    2,
	PlanPro:     3,
}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	_, ok := planRank[p]
	return ok
}

// Paid reports whether p is a purchasable tier.
func (p Plan) Paid() bool {
	return p == PlanStarter || p == PlanTeam || p == PlanPro
}

// Rank returns the plan's position in the tier order, or -1 when unknown.
func (p Plan) Rank() int {
	r, ok := planRank[p]
	if !ok {
		return -1
	}
	return r
}

// BillingStatus is the lifecycle status of a billing record.
type BillingStatus string

const (
	BillingTrial     BillingStatus = "trial"
	BillingActive    BillingStatus = "active"
	BillingExpired   BillingStatus = "expired"
	BillingCancelled BillingStatus = "cancelled"
)

// BillingRecord is the single billing record of an organization.
type BillingRecord struct {
	OrgID         string        `json:"org_id"`
	Plan          Plan          `json:"plan"`
	Status        BillingStatus `json:"status"`
	TrialEndsAt   *time.Time    `json:"trial_ends_at,omitempty"`
	PaidThroughAt *time.Time    `json:"paid_through_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Limits are the admission ceilings of a tier. Unlimited disables the check.
type Limits struct {
	MaxSeats         int `json:"max_seats"`
	MaxBeneficiaries int `json:"max_beneficiaries"`
}

// Unlimited marks a ceiling that is never enforced.
const Unlimited = -1

// Allows reports whether current+add stays within max.
func Allows(max, current, add int) bool {
	if max == Unlimited {
		return true
	}
	return current+add <= max
}
