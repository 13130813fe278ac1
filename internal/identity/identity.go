// Package identity maps wallet handles to internal identities.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"disbursa.org/internal/address"
	"disbursa.org/internal/ids"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

// Resolver finds or creates identities inside the caller's transaction.
type Resolver struct {
	now func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the identity for handle, creating it on first sight.
// In a read-only transaction an unknown handle yields models.ErrUnknownIdentity.
func (r *Resolver) Resolve(ctx context.Context, tx store.Tx, handle string) (models.Identity, error) {
	handle = address.Normalize(handle)
	if handle == "" {
		return models.Identity{}, models.ErrUnknownIdentity
	}
	ident, err := tx.Identities().ByHandle(ctx, handle)
	if err == nil {
		return ident, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.Identity{}, err
	}
	now := r.now().UTC()
	ident = models.Identity{
		ID:        ids.New(),
		Handle:    handle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Identities().Create(ctx, ident); err != nil {
		if errors.Is(err, models.ErrReadOnlyTransaction) {
			return models.Identity{}, models.ErrUnknownIdentity
		}
		return models.Identity{}, err
	}
	return ident, nil
}

// Lookup returns the existing identity for handle without creating one.
func (r *Resolver) Lookup(ctx context.Context, tx store.Tx, handle string) (models.Identity, error) {
	handle = address.Normalize(handle)
	ident, err := tx.Identities().ByHandle(ctx, handle)
	if errors.Is(err, models.ErrNotFound) {
		return models.Identity{}, models.ErrUnknownIdentity
	}
	return ident, err
}

// Service exposes identity operations as standalone units of work.
type Service struct {
	store    store.Store
	resolver *Resolver
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(st store.Store, resolver *Resolver) *Service {
	return &Service{store: st, resolver: resolver, now: resolver.now}
}

// Resolve finds or creates the identity for handle in its own transaction.
func (s *Service) Resolve(ctx context.Context, handle string) (models.Identity, error) {
	var out models.Identity
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ident, err := s.resolver.Resolve(ctx, tx, handle)
		out = ident
		return err
	})
	return out, err
}

// UpdateProfile applies optional profile changes to the caller's identity.
func (s *Service) UpdateProfile(ctx context.Context, handle string, upd models.ProfileUpdate) (models.Identity, error) {
	var out models.Identity
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ident, err := s.resolver.Lookup(ctx, tx, handle)
		if err != nil {
			return err
		}
		if upd.Email != nil {
			ident.Email = strings.TrimSpace(*upd.Email)
		}
		if upd.Locale != nil {
			ident.Locale = strings.TrimSpace(*upd.Locale)
		}
		if upd.Theme != nil {
			ident.Theme = strings.TrimSpace(*upd.Theme)
		}
		ident.UpdatedAt = s.now().UTC()
		if err := tx.Identities().Update(ctx, ident); err != nil {
			return err
		}
		out = ident
		return nil
	})
	return out, err
}
