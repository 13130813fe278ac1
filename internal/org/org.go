// Package org manages organizations, their linked Safe, and memberships.
package org

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"disbursa.org/internal/address"
	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/beneficiary"
	"disbursa.org/internal/billing"
	"disbursa.org/internal/config"
	"disbursa.org/internal/ids"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

// Defaults are applied to every organization at creation.
type Defaults struct {
	TrialLength          time.Duration
	FeeToken             string
	FeeMode              models.FeeMode
	ScreeningEnforcement models.ScreeningEnforcement
	// SeedBeneficiary, when set, is registered in each new organization.
	SeedBeneficiary *models.BeneficiaryInput
}

// DefaultsFromConfig converts the organization config section.
func DefaultsFromConfig(c config.Organization) Defaults {
	d := Defaults{
		TrialLength:          c.TrialLength,
		FeeToken:             c.FeeToken,
		FeeMode:              models.FeeMode(c.FeeMode),
		ScreeningEnforcement: models.ScreeningEnforcement(c.ScreeningEnforcement),
	}
	if c.SeedBeneficiary != nil && c.SeedBeneficiary.Address != "" {
		d.SeedBeneficiary = &models.BeneficiaryInput{
			Name:    c.SeedBeneficiary.Name,
			Type:    models.BeneficiaryType(c.SeedBeneficiary.Type),
			Address: c.SeedBeneficiary.Address,
			Notes:   c.SeedBeneficiary.Notes,
		}
	}
	return d
}

// Service implements organization and membership operations.
type Service struct {
	store    store.Store
	gate     *auth.Gate
	billing  *billing.Service
	tiers    *billing.Evaluator
	registry *beneficiary.Registry
	audit    *audit.Recorder
	defaults Defaults
	now      func() time.Time
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
func NewService(st store.Store, gate *auth.Gate, bill *billing.Service, reg *beneficiary.Registry, rec *audit.Recorder, defaults Defaults, opts ...Option) *Service {
	if defaults.TrialLength <= 0 {
		defaults.TrialLength = 14 * 24 * time.Hour
	}
	s := &Service{
		store:    st,
		gate:     gate,
		billing:  bill,
		tiers:    bill.Evaluator(),
		registry: reg,
		audit:    rec,
		defaults: defaults,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary is an organization as seen by one of its members.
type Summary struct {
	Organization models.Organization     `json:"organization"`
	Role         models.Role             `json:"role"`
	Status       models.MembershipStatus `json:"status"`
}

// CreateOrganization creates an organization with handle as its first admin
// and starts its trial.
func (s *Service) CreateOrganization(ctx context.Context, handle, name string) (models.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Organization{}, models.ErrBlankOrgName
	}
	settings := models.OrgSettings{
		ScreeningEnforcement: s.defaults.ScreeningEnforcement,
		FeeToken:             s.defaults.FeeToken,
		FeeMode:              s.defaults.FeeMode,
	}
	if err := settings.Validate(); err != nil {
		return models.Organization{}, err
	}
	var out models.Organization
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		creator, err := s.gate.Resolver().Resolve(ctx, tx, handle)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		o := models.Organization{
			ID:        ids.New(),
			Name:      name,
			CreatedBy: creator.ID,
			Settings:  settings,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Organizations().Create(ctx, o); err != nil {
			return err
		}
		if err := tx.Memberships().Create(ctx, models.Membership{
			ID:         ids.New(),
			OrgID:      o.ID,
			IdentityID: creator.ID,
			Role:       models.RoleAdmin,
			Status:     models.MembershipActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
		trial, err := s.billing.StartTrial(ctx, tx, o.ID, s.defaults.TrialLength)
		if err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, o.ID, creator.ID, models.ActionOrgCreated, models.ObjectOrganization, o.ID, map[string]any{
			"name":        name,
			"plan":        string(trial.Plan),
			"trialEndsAt": trial.TrialEndsAt.Format(time.RFC3339),
		}); err != nil {
			return err
		}
		if seed := s.defaults.SeedBeneficiary; seed != nil {
			if _, err := s.registry.CreateInTx(ctx, tx, o.ID, creator.ID, *seed); err != nil {
				return fmt.Errorf("seed beneficiary: %w", err)
			}
		}
		out = o
		return nil
	})
	return out, err
}

// Get returns the organization.
func (s *Service) Get(ctx context.Context, orgID, handle string) (models.Organization, error) {
	var out models.Organization
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpOrgRead); err != nil {
			return err
		}
		var err error
		out, err = tx.Organizations().Get(ctx, orgID)
		return err
	})
	return out, err
}

// ListForHandle returns the organizations handle is an active or invited
// member of. Unknown handles have none.
func (s *Service) ListForHandle(ctx context.Context, handle string) ([]Summary, error) {
	out := []Summary{}
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		ident, err := s.gate.Resolver().Lookup(ctx, tx, handle)
		if errors.Is(err, models.ErrUnknownIdentity) {
			return nil
		}
		if err != nil {
			return err
		}
		ms, err := tx.Memberships().ListByIdentity(ctx, ident.ID)
		if err != nil {
			return err
		}
		for _, m := range ms {
			if !m.HoldsSeat() {
				continue
			}
			o, err := tx.Organizations().Get(ctx, m.OrgID)
			if err != nil {
				return err
			}
			out = append(out, Summary{Organization: o, Role: m.Role, Status: m.Status})
		}
		return nil
	})
	return out, err
}

// UpdateSettings applies the non-nil fields of upd.
func (s *Service) UpdateSettings(ctx context.Context, orgID, handle string, upd models.SettingsUpdate) (models.Organization, error) {
	if upd.FeeToken != nil {
		tok := strings.TrimSpace(*upd.FeeToken)
		upd.FeeToken = &tok
	}
	var out models.Organization
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpOrgUpdateSettings)
		if err != nil {
			return err
		}
		o, err := tx.Organizations().Get(ctx, orgID)
		if err != nil {
			return err
		}
		settings, applied := o.Settings.Apply(upd)
		if len(applied) == 0 {
			return models.ErrNoChanges
		}
		if err := settings.Validate(); err != nil {
			return err
		}
		o.Settings = settings
		o.UpdatedAt = s.now().UTC()
		if err := tx.Organizations().Update(ctx, o); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, orgID, actor.ID, models.ActionOrgSettingsUpdated, models.ObjectOrganization, orgID, applied); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// LinkSafe links the organization's Safe, replacing any previous link.
func (s *Service) LinkSafe(ctx context.Context, orgID, handle, safeAddress string, chainID int64) (models.Safe, error) {
	var out models.Safe
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpSafeLink)
		if err != nil {
			return err
		}
		safeAddress = address.Normalize(safeAddress)
		if !address.Valid(safeAddress) {
			return fmt.Errorf("%w: %q", models.ErrInvalidAddress, safeAddress)
		}
		if chainID <= 0 {
			return fmt.Errorf("%w: chain id must be positive", models.ErrValidation)
		}
		meta := map[string]any{"address": safeAddress, "chainId": chainID}
		prev, err := tx.Safes().Get(ctx, orgID)
		switch {
		case err == nil:
			meta["previousAddress"] = prev.Address
		case !errors.Is(err, models.ErrNotFound):
			return err
		}
		safe := models.Safe{
			ID:        ids.New(),
			OrgID:     orgID,
			Address:   safeAddress,
			ChainID:   chainID,
			LinkedBy:  actor.ID,
			CreatedAt: s.now().UTC(),
		}
		if err := tx.Safes().Put(ctx, safe); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, orgID, actor.ID, models.ActionSafeLinked, models.ObjectSafe, safe.ID, meta); err != nil {
			return err
		}
		out = safe
		return nil
	})
	return out, err
}

// Safe returns the organization's linked Safe.
func (s *Service) Safe(ctx context.Context, orgID, handle string) (models.Safe, error) {
	var out models.Safe
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpOrgRead); err != nil {
			return err
		}
		var err error
		out, err = tx.Safes().Get(ctx, orgID)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: no Safe linked to this organization", models.ErrNotFound)
		}
		return err
	})
	return out, err
}
