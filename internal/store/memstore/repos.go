package memstore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

type identityRepo struct{ t *tx }

func (r identityRepo) ByHandle(_ context.Context, handle string) (models.Identity, error) {
	id, ok := r.t.st.handles[handle]
	if !ok {
		return models.Identity{}, models.ErrNotFound
	}
	return r.t.st.identities[id], nil
}

func (r identityRepo) ByID(_ context.Context, id string) (models.Identity, error) {
	ident, ok := r.t.st.identities[id]
	if !ok {
		return models.Identity{}, models.ErrNotFound
	}
	return ident, nil
}

func (r identityRepo) Create(_ context.Context, ident models.Identity) error {
	if err := r.t.write(); err != nil {
		return err
	}
	if _, ok := r.t.st.handles[ident.Handle]; ok {
		return models.ErrConflict
	}
	r.t.st.identities[ident.ID] = ident
	r.t.st.handles[ident.Handle] = ident.ID
	return nil
}

func (r identityRepo) Update(_ context.Context, ident models.Identity) error {
	if err := r.t.write(); err != nil {
		return err
	}
	old, ok := r.t.st.identities[ident.ID]
	if !ok {
		return models.ErrNotFound
	}
	ident.Handle = old.Handle
	r.t.st.identities[ident.ID] = ident
	return nil
}

type orgRepo struct{ t *tx }

func (r orgRepo) Get(_ context.Context, id string) (models.Organization, error) {
	org, ok := r.t.st.orgs[id]
	if !ok {
		return models.Organization{}, models.ErrNotFound
	}
	return org, nil
}

func (r orgRepo) Create(_ context.Context, org models.Organization) error {
	if err := r.t.write(); err != nil {
		return err
	}
	if _, ok := r.t.st.orgs[org.ID]; ok {
		return models.ErrConflict
	}
	r.t.st.orgs[org.ID] = org
	return nil
}

func (r orgRepo) Update(_ context.Context, org models.Organization) error {
	if err := r.t.write(); err != nil {
		return err
	}
	if _, ok := r.t.st.orgs[org.ID]; !ok {
		return models.ErrNotFound
	}
	r.t.st.orgs[org.ID] = org
	return nil
}

type membershipRepo struct{ t *tx }

func memberKey(orgID, identityID string) string { return orgID + "/" + identityID }

func (r membershipRepo) Get(_ context.Context, orgID, identityID string) (models.Membership, error) {
	id, ok := r.t.st.memberIdx[memberKey(orgID, identityID)]
	if !ok {
		return models.Membership{}, models.ErrNotFound
	}
	return r.t.st.memberships[id], nil
}

func (r membershipRepo) ByID(_ context.Context, id string) (models.Membership, error) {
	m, ok := r.t.st.memberships[id]
	if !ok {
		return models.Membership{}, models.ErrNotFound
	}
	return m, nil
}

func (r membershipRepo) Create(_ context.Context, m models.Membership) error {
	if err := r.t.write(); err != nil {
		return err
	}
	key := memberKey(m.OrgID, m.IdentityID)
	if _, ok := r.t.st.memberIdx[key]; ok {
		return models.ErrConflict
	}
	r.t.st.memberships[m.ID] = m
	r.t.st.memberIdx[key] = m.ID
	return nil
}

func (r membershipRepo) Update(_ context.Context, m models.Membership) error {
	if err := r.t.write(); err != nil {
		return err
	}
	old, ok := r.t.st.memberships[m.ID]
	if !ok {
		return models.ErrNotFound
	}
	m.OrgID, m.IdentityID = old.OrgID, old.IdentityID
	r.t.st.memberships[m.ID] = m
	return nil
}

func (r membershipRepo) ListByOrg(_ context.Context, orgID string) ([]models.Membership, error) {
	var out []models.Membership
	for _, m := range r.t.st.memberships {
		if m.OrgID == orgID {
			out = append(out, m)
		}
	}
	sortMemberships(out)
	return out, nil
}

func (r membershipRepo) ListByIdentity(_ context.Context, identityID string) ([]models.Membership, error) {
	var out []models.Membership
	for _, m := range r.t.st.memberships {
		if m.IdentityID == identityID {
			out = append(out, m)
		}
	}
	sortMemberships(out)
	return out, nil
}

func sortMemberships(ms []models.Membership) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
}

type billingRepo struct{ t *tx }

func (r billingRepo) Get(_ context.Context, orgID string) (models.BillingRecord, error) {
	rec, ok := r.t.st.billing[orgID]
	if !ok {
		return models.BillingRecord{}, models.ErrNotFound
	}
	return rec, nil
}

func (r billingRepo) Put(_ context.Context, rec models.BillingRecord) error {
	if err := r.t.write(); err != nil {
		return err
	}
	r.t.st.billing[rec.OrgID] = rec
	return nil
}

type safeRepo struct{ t *tx }

func (r safeRepo) Get(_ context.Context, orgID string) (models.Safe, error) {
	s, ok := r.t.st.safes[orgID]
	if !ok {
		return models.Safe{}, models.ErrNotFound
	}
	return s, nil
}

func (r safeRepo) Put(_ context.Context, s models.Safe) error {
	if err := r.t.write(); err != nil {
		return err
	}
	r.t.st.safes[s.OrgID] = s
	return nil
}

type beneficiaryRepo struct{ t *tx }

func (r beneficiaryRepo) Get(_ context.Context, id string) (models.Beneficiary, error) {
	b, ok := r.t.st.beneficiaries[id]
	if !ok {
		return models.Beneficiary{}, models.ErrNotFound
	}
	return b, nil
}

func (r beneficiaryRepo) ByAddress(_ context.Context, orgID, address string) (models.Beneficiary, error) {
	for _, b := range r.t.st.beneficiaries {
		if b.OrgID == orgID && b.Address == address {
			return b, nil
		}
	}
	return models.Beneficiary{}, models.ErrNotFound
}

func (r beneficiaryRepo) Create(_ context.Context, b models.Beneficiary) error {
	if err := r.t.write(); err != nil {
		return err
	}
	if _, ok := r.t.st.beneficiaries[b.ID]; ok {
		return models.ErrConflict
	}
	r.t.st.beneficiaries[b.ID] = b
	return nil
}

func (r beneficiaryRepo) Update(_ context.Context, b models.Beneficiary) error {
	if err := r.t.write(); err != nil {
		return err
	}
	old, ok := r.t.st.beneficiaries[b.ID]
	if !ok {
		return models.ErrNotFound
	}
	b.OrgID = old.OrgID
	r.t.st.beneficiaries[b.ID] = b
	return nil
}

func (r beneficiaryRepo) ListByOrg(_ context.Context, orgID string, activeOnly bool) ([]models.Beneficiary, error) {
	var out []models.Beneficiary
	for _, b := range r.t.st.beneficiaries {
		if b.OrgID != orgID || (activeOnly && !b.IsActive) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r beneficiaryRepo) CountByOrg(_ context.Context, orgID string) (int, error) {
	n := 0
	for _, b := range r.t.st.beneficiaries {
		if b.OrgID == orgID {
			n++
		}
	}
	return n, nil
}

type disbursementRepo struct{ t *tx }

func (r disbursementRepo) Get(_ context.Context, id string) (models.Disbursement, error) {
	d, ok := r.t.st.disbursements[id]
	if !ok {
		return models.Disbursement{}, models.ErrNotFound
	}
	return d.Clone(), nil
}

func (r disbursementRepo) Create(_ context.Context, d models.Disbursement) error {
	if err := r.t.write(); err != nil {
		return err
	}
	if _, ok := r.t.st.disbursements[d.ID]; ok {
		return models.ErrConflict
	}
	r.t.st.disbursements[d.ID] = d.Clone()
	return nil
}

func (r disbursementRepo) UpdateStatus(_ context.Context, id string, status models.DisbursementStatus, safeTxHash, txHash string, at time.Time) error {
	if err := r.t.write(); err != nil {
		return err
	}
	d, ok := r.t.st.disbursements[id]
	if !ok {
		return models.ErrNotFound
	}
	d.Status = status
	if safeTxHash != "" {
		d.SafeTxHash = safeTxHash
	}
	if txHash != "" {
		d.TxHash = txHash
	}
	d.UpdatedAt = at
	r.t.st.disbursements[id] = d
	return nil
}

func (r disbursementRepo) ListByOrg(_ context.Context, orgID string, q store.DisbursementQuery) ([]models.Disbursement, error) {
	var out []models.Disbursement
	for _, d := range r.t.st.disbursements {
		if d.OrgID != orgID {
			continue
		}
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, d.Status) {
			continue
		}
		if q.Token != "" && !strings.EqualFold(q.Token, d.Token) {
			continue
		}
		if !q.From.IsZero() && d.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && d.CreatedAt.After(q.To) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type screeningRepo struct{ t *tx }

func (r screeningRepo) Get(_ context.Context, beneficiaryID string) (models.ScreeningResult, error) {
	res, ok := r.t.st.screening[beneficiaryID]
	if !ok {
		return models.ScreeningResult{}, models.ErrNotFound
	}
	res.Overrides = slices.Clone(res.Overrides)
	return res, nil
}

func (r screeningRepo) Put(_ context.Context, res models.ScreeningResult) error {
	if err := r.t.write(); err != nil {
		return err
	}
	res.Overrides = slices.Clone(res.Overrides)
	r.t.st.screening[res.BeneficiaryID] = res
	return nil
}

type auditRepo struct{ t *tx }

func (r auditRepo) Append(_ context.Context, e models.AuditEntry) error {
	if err := r.t.write(); err != nil {
		return err
	}
	r.t.st.audit = append(r.t.st.audit, e)
	return nil
}

func (r auditRepo) List(_ context.Context, orgID string, f models.AuditFilter) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	for i := len(r.t.st.audit) - 1; i >= 0; i-- {
		e := r.t.st.audit[i]
		if e.OrgID != orgID {
			continue
		}
		if f.Cursor != "" && e.ID >= f.Cursor {
			continue
		}
		if f.ObjectType != "" && e.ObjectType != f.ObjectType {
			continue
		}
		if f.ObjectID != "" && e.ObjectID != f.ObjectID {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
