// Package memstore is an in-process store.Store. Writers are serialized and
// work on a private copy of the state that replaces the published state only
// on success. Readers get the last published state and never wait on writers.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store holds all records in memory.
type Store struct {
	writeMu sync.Mutex

	mu  sync.RWMutex
	cur *state
}

// New returns an empty store.
func New() *Store {
	return &Store{cur: newState()}
}

// InTx implements store.Store.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := s.cur.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &tx{st: next}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cur = next
	s.mu.Unlock()
	return nil
}

// View implements store.Store. Published states are never mutated, so the
// snapshot needs no lock once taken.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snap := s.cur
	s.mu.RUnlock()
	return fn(ctx, &tx{st: snap, readOnly: true})
}

type state struct {
	identities    map[string]models.Identity
	handles       map[string]string
	orgs          map[string]models.Organization
	memberships   map[string]models.Membership
	memberIdx     map[string]string
	billing       map[string]models.BillingRecord
	safes         map[string]models.Safe
	beneficiaries map[string]models.Beneficiary
	disbursements map[string]models.Disbursement
	screening     map[string]models.ScreeningResult
	audit         []models.AuditEntry
}

func newState() *state {
	return &state{
		identities:    map[string]models.Identity{},
		handles:       map[string]string{},
		orgs:          map[string]models.Organization{},
		memberships:   map[string]models.Membership{},
		memberIdx:     map[string]string{},
		billing:       map[string]models.BillingRecord{},
		safes:         map[string]models.Safe{},
		beneficiaries: map[string]models.Beneficiary{},
		disbursements: map[string]models.Disbursement{},
		screening:     map[string]models.ScreeningResult{},
	}
}

func (st *state) clone() *state {
	out := &state{
		identities:    maps.Clone(st.identities),
		handles:       maps.Clone(st.handles),
		orgs:          maps.Clone(st.orgs),
		memberships:   maps.Clone(st.memberships),
		memberIdx:     maps.Clone(st.memberIdx),
		billing:       maps.Clone(st.billing),
		safes:         maps.Clone(st.safes),
		beneficiaries: maps.Clone(st.beneficiaries),
		disbursements: make(map[string]models.Disbursement, len(st.disbursements)),
		screening:     make(map[string]models.ScreeningResult, len(st.screening)),
		audit:         slices.Clone(st.audit),
	}
	for k, d := range st.disbursements {
		out.disbursements[k] = d.Clone()
	}
	for k, r := range st.screening {
		r.Overrides = slices.Clone(r.Overrides)
		out.screening[k] = r
	}
	return out
}

type tx struct {
	st       *state
	readOnly bool
}

func (t *tx) write() error {
	if t.readOnly {
		return models.ErrReadOnlyTransaction
	}
	return nil
}

func (t *tx) Identities() store.IdentityRepo        { return identityRepo{t} }
func (t *tx) Organizations() store.OrganizationRepo { return orgRepo{t} }
func (t *tx) Memberships() store.MembershipRepo     { return membershipRepo{t} }
func (t *tx) Billing() store.BillingRepo            { return billingRepo{t} }
func (t *tx) Safes() store.SafeRepo                 { return safeRepo{t} }
func (t *tx) Beneficiaries() store.BeneficiaryRepo  { return beneficiaryRepo{t} }
func (t *tx) Disbursements() store.DisbursementRepo { return disbursementRepo{t} }
func (t *tx) Screening() store.ScreeningRepo        { return screeningRepo{t} }
func (t *tx) Audit() store.AuditRepo                { return auditRepo{t} }
