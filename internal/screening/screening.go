// Package screening stores sanctions-screening verdicts produced by an external
// matcher and applies them to in-flight disbursement transitions.
package screening

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/models"
	"disbursa.org/internal/obs"
	"disbursa.org/internal/store"
)

// SystemActor is the actor recorded for verdicts written by the matcher.
const SystemActor = "system:screening"

// Flag describes one flagged beneficiary found by Check.
type Flag struct {
	BeneficiaryID string                 `json:"beneficiary_id"`
	Name          string                 `json:"name"`
	Status        models.ScreeningStatus `json:"status"`
}

// Service implements screening operations.
type Service struct {
	store store.Store
	gate  *auth.Gate
	audit *audit.Recorder
	now   func() time.Time
	log   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(st store.Store, gate *auth.Gate, rec *audit.Recorder, opts ...Option) *Service {
	s := &Service{store: st, gate: gate, audit: rec, now: time.Now, log: obs.Component("screening")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check applies the organization's enforcement mode to the given beneficiaries.
// Verdicts are read inside tx. Under block, the first flagged beneficiary
// aborts with models.ErrComplianceBlock; under warn, flags are returned.
func (s *Service) Check(ctx context.Context, tx store.Tx, org models.Organization, beneficiaryIDs []string) ([]Flag, error) {
	mode := org.Settings.Enforcement()
	if mode == models.EnforcementOff {
		return nil, nil
	}
	var flags []Flag
	for _, id := range beneficiaryIDs {
		res, err := tx.Screening().Get(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !res.Status.Flagged() {
			continue
		}
		name := id
		if b, err := tx.Beneficiaries().Get(ctx, id); err == nil {
			name = b.Name
		}
		flag := Flag{BeneficiaryID: id, Name: name, Status: res.Status}
		if mode == models.EnforcementBlock {
			obs.ComplianceBlocks.Inc()
			return nil, fmt.Errorf("%w: beneficiary %q (%s) has screening status %s", models.ErrComplianceBlock, name, id, res.Status)
		}
		flags = append(flags, flag)
	}
	if len(flags) > 0 {
		s.log.Warn().Str("org_id", org.ID).Int("flagged", len(flags)).Msg("screening flags ignored under warn enforcement")
	}
	return flags, nil
}

// Ingest stores a verdict from the external matcher. Human overrides are kept.
func (s *Service) Ingest(ctx context.Context, orgID, beneficiaryID string, status models.ScreeningStatus, matchedName string) (models.ScreeningResult, error) {
	if !status.Valid() {
		return models.ScreeningResult{}, fmt.Errorf("%w: %q", models.ErrInvalidVerdict, status)
	}
	var out models.ScreeningResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.Beneficiaries().Get(ctx, beneficiaryID)
		if errors.Is(err, models.ErrNotFound) || (err == nil && b.OrgID != orgID) {
			return fmt.Errorf("%w: %s", models.ErrInvalidBeneficiary, beneficiaryID)
		}
		if err != nil {
			return err
		}
		now := s.now().UTC()
		res, err := tx.Screening().Get(ctx, beneficiaryID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		res.BeneficiaryID, res.OrgID = beneficiaryID, orgID
		res.Status = status
		res.MatchedName = strings.TrimSpace(matchedName)
		res.CheckedAt, res.UpdatedAt = now, now
		if err := tx.Screening().Put(ctx, res); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, orgID, SystemActor, models.ActionScreeningIngested, models.ObjectScreening, beneficiaryID, map[string]any{
			"status": string(status),
		}); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// Review records a human override of a verdict.
func (s *Service) Review(ctx context.Context, orgID, handle, beneficiaryID string, status models.ScreeningStatus, note string) (models.ScreeningResult, error) {
	var out models.ScreeningResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpScreeningReview)
		if err != nil {
			return err
		}
		if !status.Valid() {
			return fmt.Errorf("%w: %q", models.ErrInvalidVerdict, status)
		}
		res, err := s.result(ctx, tx, orgID, beneficiaryID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		res.Overrides = append(res.Overrides, models.ScreeningOverride{
			ReviewerID: actor.ID,
			From:       res.Status,
			To:         status,
			Note:       strings.TrimSpace(note),
			ReviewedAt: now,
		})
		from := res.Status
		res.Status = status
		res.UpdatedAt = now
		if err := tx.Screening().Put(ctx, res); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, orgID, actor.ID, models.ActionScreeningReviewed, models.ObjectScreening, beneficiaryID, map[string]any{
			"from": string(from),
			"to":   string(status),
		}); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// Get returns the current verdict for a beneficiary of the organization.
func (s *Service) Get(ctx context.Context, orgID, handle, beneficiaryID string) (models.ScreeningResult, error) {
	var out models.ScreeningResult
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpScreeningRead); err != nil {
			return err
		}
		var err error
		out, err = s.result(ctx, tx, orgID, beneficiaryID)
		return err
	})
	return out, err
}

func (s *Service) result(ctx context.Context, tx store.Tx, orgID, beneficiaryID string) (models.ScreeningResult, error) {
	res, err := tx.Screening().Get(ctx, beneficiaryID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && res.OrgID != orgID) {
		return models.ScreeningResult{}, fmt.Errorf("%w: no screening result for beneficiary %s", models.ErrNotFound, beneficiaryID)
	}
	return res, err
}
