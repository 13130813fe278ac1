package billing

import (
	"context"
	"fmt"
	"time"

	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

const defaultPaidPeriod = 30 * 24 * time.Hour

// Status is the billing view of an organization.
type Status struct {
	Plan          models.Plan          `json:"plan,omitempty"`
	Status        models.BillingStatus `json:"status,omitempty"`
	TrialEndsAt   *time.Time           `json:"trial_ends_at,omitempty"`
	PaidThroughAt *time.Time           `json:"paid_through_at,omitempty"`
	DaysRemaining int                  `json:"days_remaining"`
	IsActive      bool                 `json:"is_active"`
	Limits        models.Limits        `json:"limits"`
	Usage         Usage                `json:"usage"`
}

// Usage counts the resources held against the limits.
type Usage struct {
	Seats         int `json:"seats"`
	Beneficiaries int `json:"beneficiaries"`
}

// Service implements billing operations.
type Service struct {
	store      store.Store
	gate       *auth.Gate
	audit      *audit.Recorder
	eval       *Evaluator
	paidPeriod time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPaidPeriod sets how long one subscription payment lasts.
func WithPaidPeriod(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.paidPeriod = d
		}
	}
}

// NewService constructs a Service.
func NewService(st store.Store, gate *auth.Gate, rec *audit.Recorder, eval *Evaluator, opts ...ServiceOption) *Service {
	s := &Service{store: st, gate: gate, audit: rec, eval: eval, paidPeriod: defaultPaidPeriod}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the organization's billing status.
func (s *Service) Get(ctx context.Context, orgID, handle string) (Status, error) {
	var out Status
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpBillingRead); err != nil {
			return err
		}
		var err error
		out, err = s.status(ctx, tx, orgID)
		return err
	})
	return out, err
}

func (s *Service) status(ctx context.Context, tx store.Tx, orgID string) (Status, error) {
	rec, err := Record(ctx, tx, orgID)
	if err != nil {
		return Status{}, err
	}
	out := Status{
		DaysRemaining: s.eval.DaysRemaining(rec),
		IsActive:      s.eval.IsActive(rec),
		Limits:        s.eval.Limits(rec),
	}
	if rec != nil {
		out.Plan, out.Status = rec.Plan, rec.Status
		out.TrialEndsAt, out.PaidThroughAt = rec.TrialEndsAt, rec.PaidThroughAt
	}
	if out.Usage.Seats, err = SeatsUsed(ctx, tx, orgID); err != nil {
		return Status{}, err
	}
	if out.Usage.Beneficiaries, err = tx.Beneficiaries().CountByOrg(ctx, orgID); err != nil {
		return Status{}, err
	}
	return out, nil
}

// Subscribe moves the organization to a paid plan for one paid period.
// Limits of the new plan apply immediately.
func (s *Service) Subscribe(ctx context.Context, orgID, handle string, plan models.Plan) (Status, error) {
	var out Status
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpBillingSubscribe)
		if err != nil {
			return err
		}
		if !plan.Paid() {
			return fmt.Errorf("%w: %q", models.ErrInvalidPlan, plan)
		}
		prev, err := Record(ctx, tx, orgID)
		if err != nil {
			return err
		}
		now := s.eval.Now()
		paidThrough := now.Add(s.paidPeriod)
		rec := models.BillingRecord{OrgID: orgID, CreatedAt: now}
		var previousPlan models.Plan
		if prev != nil {
			rec = *prev
			previousPlan = prev.Plan
		}
		rec.Plan = plan
		rec.Status = models.BillingActive
		rec.PaidThroughAt = &paidThrough
		rec.UpdatedAt = now
		if err := tx.Billing().Put(ctx, rec); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, orgID, actor.ID, models.ActionBillingSubscribed, models.ObjectBilling, orgID, map[string]any{
			"plan":          string(plan),
			"previousPlan":  string(previousPlan),
			"paidThroughAt": paidThrough,
		}); err != nil {
			return err
		}
		out, err = s.status(ctx, tx, orgID)
		return err
	})
	return out, err
}

// Cancel stops renewal. The plan's limits stay in force until paidThroughAt.
func (s *Service) Cancel(ctx context.Context, orgID, handle string) (Status, error) {
	var out Status
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpBillingCancel)
		if err != nil {
			return err
		}
		rec, err := Record(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if rec == nil || rec.Status != models.BillingActive {
			return models.ErrNoSubscription
		}
		rec.Status = models.BillingCancelled
		rec.UpdatedAt = s.eval.Now()
		if err := tx.Billing().Put(ctx, *rec); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, orgID, actor.ID, models.ActionBillingCancelled, models.ObjectBilling, orgID, map[string]any{
			"plan": string(rec.Plan),
		}); err != nil {
			return err
		}
		out, err = s.status(ctx, tx, orgID)
		return err
	})
	return out, err
}

// StartTrial writes a fresh trial record inside the caller's transaction.
func (s *Service) StartTrial(ctx context.Context, tx store.Tx, orgID string, length time.Duration) (models.BillingRecord, error) {
	now := s.eval.Now()
	ends := now.Add(length)
	rec := models.BillingRecord{
		OrgID:       orgID,
		Plan:        models.PlanTrial,
		Status:      models.BillingTrial,
		TrialEndsAt: &ends,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return rec, tx.Billing().Put(ctx, rec)
}

// Evaluator returns the tier evaluator used by the service.
func (s *Service) Evaluator() *Evaluator { return s.eval }
