// Package beneficiary manages the payment recipients of an organization.
package beneficiary

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"disbursa.org/internal/address"
	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/billing"
	"disbursa.org/internal/ids"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

// Registry implements beneficiary operations.
type Registry struct {
	store store.Store
	gate  *auth.Gate
	tiers *billing.Evaluator
	audit *audit.Recorder
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry constructs a Registry.
func NewRegistry(st store.Store, gate *auth.Gate, tiers *billing.Evaluator, rec *audit.Recorder, opts ...Option) *Registry {
	r := &Registry{store: st, gate: gate, tiers: tiers, audit: rec, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListOptions narrows a beneficiary listing.
type ListOptions struct {
	ActiveOnly bool
	// Query fuzzy-matches beneficiary names, best matches first.
	Query string
}

// Create registers one beneficiary.
func (r *Registry) Create(ctx context.Context, orgID, handle string, in models.BeneficiaryInput) (models.Beneficiary, error) {
	var out models.Beneficiary
	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := r.gate.Require(ctx, tx, orgID, handle, auth.OpBeneficiaryCreate)
		if err != nil {
			return err
		}
		if err := r.tiers.AdmitBeneficiaries(ctx, tx, orgID, 1); err != nil {
			return err
		}
		in, err = normalizeInput(in)
		if err != nil {
			return err
		}
		if err := ensureUnused(ctx, tx, orgID, in.Address, ""); err != nil {
			return err
		}
		out, err = r.insert(ctx, tx, orgID, actor.ID, in)
		return err
	})
	return out, err
}

// CreateInTx registers a beneficiary on behalf of actorID inside an existing
// transaction without a role check. Used when seeding new organizations.
func (r *Registry) CreateInTx(ctx context.Context, tx store.Tx, orgID, actorID string, in models.BeneficiaryInput) (models.Beneficiary, error) {
	if err := r.tiers.AdmitBeneficiaries(ctx, tx, orgID, 1); err != nil {
		return models.Beneficiary{}, err
	}
	in, err := normalizeInput(in)
	if err != nil {
		return models.Beneficiary{}, err
	}
	if err := ensureUnused(ctx, tx, orgID, in.Address, ""); err != nil {
		return models.Beneficiary{}, err
	}
	return r.insert(ctx, tx, orgID, actorID, in)
}

// BulkCreate registers several beneficiaries. Every entry is validated before
// the first insert, so either all entries are stored or none.
func (r *Registry) BulkCreate(ctx context.Context, orgID, handle string, list []models.BeneficiaryInput) ([]models.Beneficiary, error) {
	var out []models.Beneficiary
	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := r.gate.Require(ctx, tx, orgID, handle, auth.OpBeneficiaryBulk)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			return models.ErrEmptyList
		}
		normalized := make([]models.BeneficiaryInput, len(list))
		for i, in := range list {
			n, err := normalizeInput(in)
			if err != nil {
				return fmt.Errorf("entry %d: %w", i+1, err)
			}
			normalized[i] = n
		}
		seen := make(map[string]int, len(normalized))
		for i, in := range normalized {
			if j, ok := seen[in.Address]; ok {
				return fmt.Errorf("%w: entries %d and %d share %s", models.ErrDuplicateInBatch, j+1, i+1, in.Address)
			}
			seen[in.Address] = i
		}
		for i, in := range normalized {
			if err := ensureUnused(ctx, tx, orgID, in.Address, ""); err != nil {
				return fmt.Errorf("entry %d: %w", i+1, err)
			}
		}
		if err := r.tiers.AdmitBeneficiaries(ctx, tx, orgID, len(normalized)); err != nil {
			return err
		}
		out = make([]models.Beneficiary, 0, len(normalized))
		for _, in := range normalized {
			b, err := r.insert(ctx, tx, orgID, actor.ID, in)
			if err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces the provided fields, including IsActive.
func (r *Registry) Update(ctx context.Context, orgID, handle, id string, upd models.BeneficiaryUpdate) (models.Beneficiary, error) {
	var out models.Beneficiary
	err := r.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := r.gate.Require(ctx, tx, orgID, handle, auth.OpBeneficiaryUpdate)
		if err != nil {
			return err
		}
		if upd.Empty() {
			return models.ErrNoChanges
		}
		b, err := owned(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		applied := map[string]any{}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return models.ErrBlankName
			}
			b.Name = name
			applied["name"] = name
		}
		if upd.Type != nil {
			if !upd.Type.Valid() {
				return models.ErrInvalidType
			}
			b.Type = *upd.Type
			applied["type"] = string(b.Type)
		}
		if upd.Address != nil {
			addr := address.Normalize(*upd.Address)
			if !address.Valid(addr) {
				return models.ErrInvalidAddress
			}
			if err := ensureUnused(ctx, tx, orgID, addr, b.ID); err != nil {
				return err
			}
			b.Address = addr
			applied["address"] = addr
		}
		if upd.Notes != nil {
			b.Notes = strings.TrimSpace(*upd.Notes)
			applied["notes"] = b.Notes
		}
		if upd.IsActive != nil {
			b.IsActive = *upd.IsActive
			applied["isActive"] = b.IsActive
		}
		b.UpdatedAt = r.now().UTC()
		if err := tx.Beneficiaries().Update(ctx, b); err != nil {
			return err
		}
		if _, err := r.audit.Record(ctx, tx, orgID, actor.ID, models.ActionBeneficiaryUpdated, models.ObjectBeneficiary, b.ID, applied); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// Get returns one beneficiary of the organization.
func (r *Registry) Get(ctx context.Context, orgID, handle, id string) (models.Beneficiary, error) {
	var out models.Beneficiary
	err := r.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := r.gate.Require(ctx, tx, orgID, handle, auth.OpBeneficiaryRead); err != nil {
			return err
		}
		var err error
		out, err = owned(ctx, tx, orgID, id)
		return err
	})
	return out, err
}

// List returns the organization's beneficiaries.
func (r *Registry) List(ctx context.Context, orgID, handle string, opts ListOptions) ([]models.Beneficiary, error) {
	var out []models.Beneficiary
	err := r.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := r.gate.Require(ctx, tx, orgID, handle, auth.OpBeneficiaryRead); err != nil {
			return err
		}
		list, err := tx.Beneficiaries().ListByOrg(ctx, orgID, opts.ActiveOnly)
		if err != nil {
			return err
		}
		out = search(list, opts.Query)
		return nil
	})
	if out == nil {
		out = []models.Beneficiary{}
	}
	return out, err
}

// Payable loads a beneficiary for a disbursement: it must belong to orgID and be active.
func Payable(ctx context.Context, tx store.Tx, orgID, id string) (models.Beneficiary, error) {
	b, err := owned(ctx, tx, orgID, id)
	if err != nil {
		return models.Beneficiary{}, err
	}
	if !b.IsActive {
		return models.Beneficiary{}, fmt.Errorf("%w: %s (%s)", models.ErrBeneficiaryInactive, b.Name, b.ID)
	}
	return b, nil
}

func owned(ctx context.Context, tx store.Tx, orgID, id string) (models.Beneficiary, error) {
	b, err := tx.Beneficiaries().Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) || (err == nil && b.OrgID != orgID) {
		return models.Beneficiary{}, fmt.Errorf("%w: %s", models.ErrInvalidBeneficiary, id)
	}
	if err != nil {
		return models.Beneficiary{}, err
	}
	return b, nil
}

func (r *Registry) insert(ctx context.Context, tx store.Tx, orgID, actorID string, in models.BeneficiaryInput) (models.Beneficiary, error) {
	now := r.now().UTC()
	b := models.Beneficiary{
		ID:        ids.New(),
		OrgID:     orgID,
		Name:      in.Name,
		Type:      in.Type,
		Address:   in.Address,
		Notes:     in.Notes,
		IsActive:  true,
		CreatedBy: actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Beneficiaries().Create(ctx, b); err != nil {
		return models.Beneficiary{}, err
	}
	if _, err := r.audit.Record(ctx, tx, orgID, actorID, models.ActionBeneficiaryCreated, models.ObjectBeneficiary, b.ID, map[string]any{
		"name":    b.Name,
		"address": b.Address,
		"type":    string(b.Type),
	}); err != nil {
		return models.Beneficiary{}, err
	}
	return b, nil
}

func normalizeInput(in models.BeneficiaryInput) (models.BeneficiaryInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Notes = strings.TrimSpace(in.Notes)
	in.Address = address.Normalize(in.Address)
	if in.Type == "" {
		in.Type = models.BeneficiaryIndividual
	}
	if in.Name == "" {
		return in, models.ErrBlankName
	}
	if !address.Valid(in.Address) {
		return in, fmt.Errorf("%w: %q", models.ErrInvalidAddress, in.Address)
	}
	if !in.Type.Valid() {
		return in, models.ErrInvalidType
	}
	return in, nil
}

func ensureUnused(ctx context.Context, tx store.Tx, orgID, addr, selfID string) error {
	existing, err := tx.Beneficiaries().ByAddress(ctx, orgID, addr)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID == selfID:
		return nil
	}
	return fmt.Errorf("%w: %s", models.ErrAlreadyExists, addr)
}

func search(list []models.Beneficiary, query string) []models.Beneficiary {
	query = strings.TrimSpace(query)
	if query == "" {
		return list
	}
	names := make([]string, len(list))
	for i, b := range list {
		names[i] = b.Name
	}
	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Stable(ranks)
	out := make([]models.Beneficiary, 0, len(ranks))
	for _, rk := range ranks {
		out = append(out, list[rk.OriginalIndex])
	}
	return out
}
