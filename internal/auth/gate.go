package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"disbursa.org/internal/identity"
	"disbursa.org/internal/models"
	"disbursa.org/internal/obs"
	"disbursa.org/internal/store"
)

// Gate is the access check every organization-scoped operation goes through.
type Gate struct {
	resolver *identity.Resolver
	policy   Policy
	log      zerolog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithPolicy replaces the default permission table.
func WithPolicy(p Policy) GateOption {
	return func(g *Gate) {
		if p != nil {
			g.policy = p
		}
	}
}

// NewGate constructs a Gate.
func NewGate(resolver *identity.Resolver, opts ...GateOption) *Gate {
	g := &Gate{
		resolver: resolver,
		policy:   DefaultPolicy(),
		log:      obs.Component("access_gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the permission table in use.
func (g *Gate) Policy() Policy { return g.policy }

// Resolver returns the identity resolver the gate is layered on.
func (g *Gate) Resolver() *identity.Resolver { return g.resolver }

// Authorize resolves handle to an identity and checks that it holds an active
// membership in orgID whose role is one of allowed.
func (g *Gate) Authorize(ctx context.Context, tx store.Tx, orgID, handle string, allowed []models.Role) (models.Identity, models.Membership, error) {
	ident, err := g.resolver.Lookup(ctx, tx, handle)
	if err != nil {
		return g.deny(models.Identity{}, models.Membership{}, "unknown_identity", err)
	}
	if _, err := tx.Organizations().Get(ctx, orgID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Identity{}, models.Membership{}, fmt.Errorf("%w: organization %s", models.ErrNotFound, orgID)
		}
		return models.Identity{}, models.Membership{}, err
	}
	m, err := tx.Memberships().Get(ctx, orgID, ident.ID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return g.deny(ident, m, "not_a_member", models.ErrNotAMember)
	case err != nil:
		return models.Identity{}, models.Membership{}, err
	}
	if !m.IsActive() {
		return g.deny(ident, m, "membership_inactive", models.ErrMembershipInactive)
	}
	if !slices.Contains(allowed, m.Role) {
		return g.deny(ident, m, "insufficient_role", models.ErrInsufficientRole)
	}
	return ident, m, nil
}

// Require authorizes handle for op using the gate's policy.
func (g *Gate) Require(ctx context.Context, tx store.Tx, orgID, handle string, op Operation) (models.Identity, models.Membership, error) {
	ident, m, err := g.Authorize(ctx, tx, orgID, handle, g.policy.Roles(op))
	if err != nil && errors.Is(err, models.ErrInsufficientRole) {
		return ident, m, fmt.Errorf("%w (%s requires one of %v)", err, op, g.policy.Roles(op))
	}
	return ident, m, err
}

func (g *Gate) deny(ident models.Identity, m models.Membership, reason string, err error) (models.Identity, models.Membership, error) {
	obs.AuthorizationDenied.WithLabelValues(reason).Inc()
	g.log.Debug().Str("reason", reason).Str("identity_id", ident.ID).Str("role", string(m.Role)).Msg("authorization denied")
	return models.Identity{}, models.Membership{}, err
}
