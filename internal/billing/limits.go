// Package billing evaluates subscription tiers and manages billing records.
package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

// tierLimits is the static limit table. Trial intentionally matches team.
var tierLimits = map[models.Plan]models.Limits{
	models.PlanTrial:   {MaxSeats: 5, MaxBeneficiaries: 100},
	models.PlanStarter: {MaxSeats: 1, MaxBeneficiaries: 25},
	models.PlanTeam:    {MaxSeats: 5, MaxBeneficiaries: 100},
	models.PlanPro:     {MaxSeats: models.Unlimited, MaxBeneficiaries: models.Unlimited},
}

// PlanLimits returns the static limits of plan, or zero limits for an unknown plan.
func PlanLimits(plan models.Plan) models.Limits {
	return tierLimits[plan]
}

// Evaluator computes admission limits from the clock and the stored billing record.
// It has no side effects.
type Evaluator struct {
	now func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if fn != nil {
			e.now = fn
		}
	}
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the evaluator's current time in UTC.
func (e *Evaluator) Now() time.Time { return e.now().UTC() }

// expiry returns the marker governing rec's current status.
func expiry(rec models.BillingRecord) *time.Time {
	if rec.Status == models.BillingTrial {
		return rec.TrialEndsAt
	}
	return rec.PaidThroughAt
}

// IsActive reports whether rec grants admission at the evaluator's current
// time. A nil record is never active.
func (e *Evaluator) IsActive(rec *models.BillingRecord) bool {
	if rec == nil {
		return false
	}
	switch rec.Status {
	case models.BillingTrial, models.BillingCancelled:
		exp := expiry(*rec)
		return exp != nil && !e.Now().After(*exp)
	case models.BillingActive:
		exp := expiry(*rec)
		return exp == nil || !e.Now().After(*exp)
	}
	return false
}

// Limits returns the admission limits granted by rec. A nil record gets the
// trial limits; a lapsed record gets zero limits.
func (e *Evaluator) Limits(rec *models.BillingRecord) models.Limits {
	if rec == nil {
		return tierLimits[models.PlanTrial]
	}
	if !e.IsActive(rec) {
		return models.Limits{}
	}
	return tierLimits[rec.Plan]
}

// DaysRemaining returns the whole days left before rec lapses, rounded up and
// never negative.
func (e *Evaluator) DaysRemaining(rec *models.BillingRecord) int {
	if rec == nil || rec.Status == models.BillingExpired {
		return 0
	}
	exp := expiry(*rec)
	if exp == nil {
		return 0
	}
	left := exp.Sub(e.Now())
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// Record loads the organization's billing record; absent records are nil.
func Record(ctx context.Context, tx store.Tx, orgID string) (*models.BillingRecord, error) {
	rec, err := tx.Billing().Get(ctx, orgID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LimitsFor returns the organization's current admission limits.
func (e *Evaluator) LimitsFor(ctx context.Context, tx store.Tx, orgID string) (models.Limits, error) {
	rec, err := Record(ctx, tx, orgID)
	if err != nil {
		return models.Limits{}, err
	}
	return e.Limits(rec), nil
}

// AdmitBeneficiaries fails with models.ErrTierLimitExceeded unless add more
// beneficiaries fit. Inactive beneficiaries count.
func (e *Evaluator) AdmitBeneficiaries(ctx context.Context, tx store.Tx, orgID string, add int) error {
	limits, err := e.LimitsFor(ctx, tx, orgID)
	if err != nil {
		return err
	}
	current, err := tx.Beneficiaries().CountByOrg(ctx, orgID)
	if err != nil {
		return err
	}
	if !models.Allows(limits.MaxBeneficiaries, current, add) {
		return fmt.Errorf("%w: plan allows at most %s", models.ErrTierLimitExceeded, plural(limits.MaxBeneficiaries, "beneficiary", "beneficiaries"))
	}
	return nil
}

// AdmitSeats fails with models.ErrTierLimitExceeded unless add more seats fit.
// Active and invited memberships hold seats.
func (e *Evaluator) AdmitSeats(ctx context.Context, tx store.Tx, orgID string, add int) error {
	limits, err := e.LimitsFor(ctx, tx, orgID)
	if err != nil {
		return err
	}
	current, err := SeatsUsed(ctx, tx, orgID)
	if err != nil {
		return err
	}
	if !models.Allows(limits.MaxSeats, current, add) {
		return fmt.Errorf("%w: plan allows at most %s", models.ErrTierLimitExceeded, plural(limits.MaxSeats, "user", "users"))
	}
	return nil
}

// SeatsUsed counts memberships holding a seat.
func SeatsUsed(ctx context.Context, tx store.Tx, orgID string) (int, error) {
	ms, err := tx.Memberships().ListByOrg(ctx, orgID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range ms {
		if m.HoldsSeat() {
			n++
		}
	}
	return n, nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return fmt.Sprintf("%d %s", n, many)
}
