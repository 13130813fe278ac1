package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

type scanner interface {
	Scan(dest ...any) error
}

type identityRepo struct{ t *tx }

const identityCols = `id, handle, email, locale, theme, created_at, updated_at`

func scanIdentity(row scanner) (models.Identity, error) {
	var i models.Identity
	err := row.Scan(&i.ID, &i.Handle, &i.Email, &i.Locale, &i.Theme, &i.CreatedAt, &i.UpdatedAt)
	return i, mapErr(err)
}

func (r identityRepo) ByHandle(ctx context.Context, handle string) (models.Identity, error) {
	return scanIdentity(r.t.q.QueryRowContext(ctx, `select `+identityCols+` from identities where handle = $1`, handle))
}

func (r identityRepo) ByID(ctx context.Context, id string) (models.Identity, error) {
	return scanIdentity(r.t.q.QueryRowContext(ctx, `select `+identityCols+` from identities where id = $1`, id))
}

func (r identityRepo) Create(ctx context.Context, i models.Identity) error {
	return r.t.exec(ctx, `
		insert into identities (id, handle, email, locale, theme, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, i.ID, i.Handle, i.Email, i.Locale, i.Theme, i.CreatedAt, i.UpdatedAt)
}

func (r identityRepo) Update(ctx context.Context, i models.Identity) error {
	return r.t.exec(ctx, `
		update identities set email = $2, locale = $3, theme = $4, updated_at = $5
		where id = $1
	`, i.ID, i.Email, i.Locale, i.Theme, i.UpdatedAt)
}

type organizationRepo struct{ t *tx }

func (r organizationRepo) Get(ctx context.Context, id string) (models.Organization, error) {
	var (
		o                    models.Organization
		enforcement, feeMode string
	)
	err := r.t.q.QueryRowContext(ctx, `
		select id, name, created_by, screening_enforcement, fee_token, fee_mode, created_at, updated_at
		from organizations where id = $1
	`, id).Scan(&o.ID, &o.Name, &o.CreatedBy, &enforcement, &o.Settings.FeeToken, &feeMode, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return models.Organization{}, mapErr(err)
	}
	o.Settings.ScreeningEnforcement = models.ScreeningEnforcement(enforcement)
	o.Settings.FeeMode = models.FeeMode(feeMode)
	return o, nil
}

func (r organizationRepo) Create(ctx context.Context, o models.Organization) error {
	return r.t.exec(ctx, `
		insert into organizations (id, name, created_by, screening_enforcement, fee_token, fee_mode, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.Name, o.CreatedBy, string(o.Settings.Enforcement()), o.Settings.FeeToken, string(o.Settings.FeeMode), o.CreatedAt, o.UpdatedAt)
}

func (r organizationRepo) Update(ctx context.Context, o models.Organization) error {
	return r.t.exec(ctx, `
		update organizations
		set name = $2, screening_enforcement = $3, fee_token = $4, fee_mode = $5, updated_at = $6
		where id = $1
	`, o.ID, o.Name, string(o.Settings.Enforcement()), o.Settings.FeeToken, string(o.Settings.FeeMode), o.UpdatedAt)
}

type membershipRepo struct{ t *tx }

const membershipCols = `id, org_id, identity_id, role, status, invited_by, created_at, updated_at`

func scanMembership(row scanner) (models.Membership, error) {
	var (
		m            models.Membership
		role, status string
	)
	if err := row.Scan(&m.ID, &m.OrgID, &m.IdentityID, &role, &status, &m.InvitedBy, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return models.Membership{}, mapErr(err)
	}
	m.Role, m.Status = models.Role(role), models.MembershipStatus(status)
	return m, nil
}

func (r membershipRepo) list(ctx context.Context, query string, arg string) ([]models.Membership, error) {
	rows, err := r.t.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r membershipRepo) Get(ctx context.Context, orgID, identityID string) (models.Membership, error) {
	return scanMembership(r.t.q.QueryRowContext(ctx, `
		select `+membershipCols+` from memberships where org_id = $1 and identity_id = $2
	`, orgID, identityID))
}

func (r membershipRepo) ByID(ctx context.Context, id string) (models.Membership, error) {
	return scanMembership(r.t.q.QueryRowContext(ctx, `select `+membershipCols+` from memberships where id = $1`, id))
}

func (r membershipRepo) Create(ctx context.Context, m models.Membership) error {
	return r.t.exec(ctx, `
		insert into memberships (id, org_id, identity_id, role, status, invited_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.OrgID, m.IdentityID, string(m.Role), string(m.Status), m.InvitedBy, m.CreatedAt, m.UpdatedAt)
}

func (r membershipRepo) Update(ctx context.Context, m models.Membership) error {
	return r.t.exec(ctx, `
		update memberships set role = $2, status = $3, invited_by = $4, updated_at = $5
		where id = $1
	`, m.ID, string(m.Role), string(m.Status), m.InvitedBy, m.UpdatedAt)
}

func (r membershipRepo) ListByOrg(ctx context.Context, orgID string) ([]models.Membership, error) {
	return r.list(ctx, `select `+membershipCols+` from memberships where org_id = $1 order by created_at, id`, orgID)
}

func (r membershipRepo) ListByIdentity(ctx context.Context, identityID string) ([]models.Membership, error) {
	return r.list(ctx, `select `+membershipCols+` from memberships where identity_id = $1 order by created_at, id`, identityID)
}

type billingRepo struct{ t *tx }

func (r billingRepo) Get(ctx context.Context, orgID string) (models.BillingRecord, error) {
	var (
		rec          models.BillingRecord
		plan, status string
		trial, paid  sql.NullTime
	)
	err := r.t.q.QueryRowContext(ctx, `
		select org_id, plan, status, trial_ends_at, paid_through_at, created_at, updated_at
		from billing_records where org_id = $1
	`, orgID).Scan(&rec.OrgID, &plan, &status, &trial, &paid, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return models.BillingRecord{}, mapErr(err)
	}
	rec.Plan, rec.Status = models.Plan(plan), models.BillingStatus(status)
	rec.TrialEndsAt, rec.PaidThroughAt = timePtr(trial), timePtr(paid)
	return rec, nil
}

func (r billingRepo) Put(ctx context.Context, rec models.BillingRecord) error {
	return r.t.exec(ctx, `
		insert into billing_records (org_id, plan, status, trial_ends_at, paid_through_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (org_id) do update set
			plan = excluded.plan,
			status = excluded.status,
			trial_ends_at = excluded.trial_ends_at,
			paid_through_at = excluded.paid_through_at,
			updated_at = excluded.updated_at
	`, rec.OrgID, string(rec.Plan), string(rec.Status), nullTime(rec.TrialEndsAt), nullTime(rec.PaidThroughAt), rec.CreatedAt, rec.UpdatedAt)
}

type safeRepo struct{ t *tx }

func (r safeRepo) Get(ctx context.Context, orgID string) (models.Safe, error) {
	var s models.Safe
	err := r.t.q.QueryRowContext(ctx, `
		select id, org_id, address, chain_id, linked_by, created_at from safes where org_id = $1
	`, orgID).Scan(&s.ID, &s.OrgID, &s.Address, &s.ChainID, &s.LinkedBy, &s.CreatedAt)
	return s, mapErr(err)
}

func (r safeRepo) Put(ctx context.Context, s models.Safe) error {
	return r.t.exec(ctx, `
		insert into safes (org_id, id, address, chain_id, linked_by, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (org_id) do update set
			id = excluded.id,
			address = excluded.address,
			chain_id = excluded.chain_id,
			linked_by = excluded.linked_by,
			created_at = excluded.created_at
	`, s.OrgID, s.ID, s.Address, s.ChainID, s.LinkedBy, s.CreatedAt)
}

type beneficiaryRepo struct{ t *tx }

const beneficiaryCols = `id, org_id, name, type, address, notes, is_active, created_by, created_at, updated_at`

func scanBeneficiary(row scanner) (models.Beneficiary, error) {
	var (
		b   models.Beneficiary
		typ string
	)
	if err := row.Scan(&b.ID, &b.OrgID, &b.Name, &typ, &b.Address, &b.Notes, &b.IsActive, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return models.Beneficiary{}, mapErr(err)
	}
	b.Type = models.BeneficiaryType(typ)
	return b, nil
}

func (r beneficiaryRepo) Get(ctx context.Context, id string) (models.Beneficiary, error) {
	return scanBeneficiary(r.t.q.QueryRowContext(ctx, `select `+beneficiaryCols+` from beneficiaries where id = $1`, id))
}

func (r beneficiaryRepo) ByAddress(ctx context.Context, orgID, address string) (models.Beneficiary, error) {
	return scanBeneficiary(r.t.q.QueryRowContext(ctx, `
		select `+beneficiaryCols+` from beneficiaries where org_id = $1 and address = $2
	`, orgID, address))
}

func (r beneficiaryRepo) Create(ctx context.Context, b models.Beneficiary) error {
	return r.t.exec(ctx, `
		insert into beneficiaries (id, org_id, name, type, address, notes, is_active, created_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.OrgID, b.Name, string(b.Type), b.Address, b.Notes, b.IsActive, b.CreatedBy, b.CreatedAt, b.UpdatedAt)
}

func (r beneficiaryRepo) Update(ctx context.Context, b models.Beneficiary) error {
	return r.t.exec(ctx, `
		update beneficiaries
		set name = $2, type = $3, address = $4, notes = $5, is_active = $6, updated_at = $7
		where id = $1
	`, b.ID, b.Name, string(b.Type), b.Address, b.Notes, b.IsActive, b.UpdatedAt)
}

func (r beneficiaryRepo) ListByOrg(ctx context.Context, orgID string, activeOnly bool) ([]models.Beneficiary, error) {
	rows, err := r.t.q.QueryContext(ctx, `
		select `+beneficiaryCols+` from beneficiaries
		where org_id = $1 and (is_active or not $2)
		order by name, id
	`, orgID, activeOnly)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r beneficiaryRepo) CountByOrg(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.t.q.QueryRowContext(ctx, `select count(*) from beneficiaries where org_id = $1`, orgID).Scan(&n)
	return n, mapErr(err)
}

type disbursementRepo struct{ t *tx }

const disbursementCols = `id, org_id, safe_id, type, token, memo, status, amount::text, coalesce(beneficiary_id, ''), safe_tx_hash, tx_hash, created_by, created_at, updated_at`

func scanDisbursement(row scanner) (models.Disbursement, error) {
	var (
		d                   models.Disbursement
		typ, status, amount string
		beneficiaryID       string
	)
	if err := row.Scan(&d.ID, &d.OrgID, &d.SafeID, &typ, &d.Token, &d.Memo, &status, &amount, &beneficiaryID,
		&d.SafeTxHash, &d.TxHash, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return models.Disbursement{}, mapErr(err)
	}
	d.Status = models.DisbursementStatus(status)
	switch models.DisbursementType(typ) {
	case models.TypeSingle:
		d.Payout = &models.SinglePayout{BeneficiaryID: beneficiaryID, Amount: amount}
	case models.TypeBatch:
		d.Payout = &models.BatchPayout{TotalAmount: amount}
	default:
		return models.Disbursement{}, fmt.Errorf("disbursement %s: unknown type %q", d.ID, typ)
	}
	return d, nil
}

const recipientCols = `r.id, r.disbursement_id, r.beneficiary_id, r.address, r.amount::text`

func scanRecipient(row scanner) (models.Recipient, error) {
	var rc models.Recipient
	err := row.Scan(&rc.ID, &rc.DisbursementID, &rc.BeneficiaryID, &rc.Address, &rc.Amount)
	return rc, mapErr(err)
}

func (r disbursementRepo) Get(ctx context.Context, id string) (models.Disbursement, error) {
	d, err := scanDisbursement(r.t.q.QueryRowContext(ctx, `select `+disbursementCols+` from disbursements where id = $1`, id))
	if err != nil {
		return models.Disbursement{}, err
	}
	batch, ok := d.Payout.(*models.BatchPayout)
	if !ok {
		return d, nil
	}
	rows, err := r.t.q.QueryContext(ctx, `
		select `+recipientCols+` from disbursement_recipients r
		where r.disbursement_id = $1 order by r.position
	`, id)
	if err != nil {
		return models.Disbursement{}, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return models.Disbursement{}, err
		}
		batch.Recipients = append(batch.Recipients, rc)
	}
	return d, rows.Err()
}

func (r disbursementRepo) Create(ctx context.Context, d models.Disbursement) error {
	var beneficiaryID sql.NullString
	switch p := d.Payout.(type) {
	case *models.SinglePayout:
		beneficiaryID = sql.NullString{String: p.BeneficiaryID, Valid: true}
	case *models.BatchPayout:
	default:
		return fmt.Errorf("disbursement %s: missing payout", d.ID)
	}
	if err := r.t.exec(ctx, `
		insert into disbursements (id, org_id, safe_id, type, token, memo, status, amount, beneficiary_id,
			safe_tx_hash, tx_hash, created_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, d.ID, d.OrgID, d.SafeID, string(d.Type()), d.Token, d.Memo, string(d.Status), d.Payout.Total(), beneficiaryID,
		d.SafeTxHash, d.TxHash, d.CreatedBy, d.CreatedAt, d.UpdatedAt); err != nil {
		return err
	}
	batch, ok := d.Payout.(*models.BatchPayout)
	if !ok {
		return nil
	}
	for i, rc := range batch.Recipients {
		if err := r.t.exec(ctx, `
			insert into disbursement_recipients (id, disbursement_id, position, beneficiary_id, address, amount)
			values ($1, $2, $3, $4, $5, $6)
		`, rc.ID, d.ID, i, rc.BeneficiaryID, rc.Address, rc.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (r disbursementRepo) UpdateStatus(ctx context.Context, id string, status models.DisbursementStatus, safeTxHash, txHash string, at time.Time) error {
	return r.t.exec(ctx, `
		update disbursements
		set status = $2,
			safe_tx_hash = coalesce(nullif($3, ''), safe_tx_hash),
			tx_hash = coalesce(nullif($4, ''), tx_hash),
			updated_at = $5
		where id = $1
	`, id, string(status), safeTxHash, txHash, at)
}

func (r disbursementRepo) ListByOrg(ctx context.Context, orgID string, q store.DisbursementQuery) ([]models.Disbursement, error) {
	where := []string{"org_id = $1"}
	args := []any{orgID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if len(q.Statuses) > 0 {
		marks := make([]string, 0, len(q.Statuses))
		for _, st := range q.Statuses {
			args = append(args, string(st))
			marks = append(marks, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "status in ("+strings.Join(marks, ", ")+")")
	}
	if q.Token != "" {
		add("lower(token) = lower($%d)", q.Token)
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at <= $%d", q.To)
	}
	rows, err := r.t.q.QueryContext(ctx, `select `+disbursementCols+` from disbursements where `+strings.Join(where, " and ")+` order by id`, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	var (
		out     []models.Disbursement
		batches = map[string]*models.BatchPayout{}
	)
	for rows.Next() {
		d, err := scanDisbursement(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if b, ok := d.Payout.(*models.BatchPayout); ok {
			batches[d.ID] = b
		}
		out = append(out, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return out, nil
	}

	rrows, err := r.t.q.QueryContext(ctx, `
		select `+recipientCols+` from disbursement_recipients r
		join disbursements d on d.id = r.disbursement_id
		where d.org_id = $1 and d.type = 'batch'
		order by r.disbursement_id, r.position
	`, orgID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rrows.Close()
	for rrows.Next() {
		rc, err := scanRecipient(rrows)
		if err != nil {
			return nil, err
		}
		if b, ok := batches[rc.DisbursementID]; ok {
			b.Recipients = append(b.Recipients, rc)
		}
	}
	return out, rrows.Err()
}

type screeningRepo struct{ t *tx }

func (r screeningRepo) Get(ctx context.Context, beneficiaryID string) (models.ScreeningResult, error) {
	var (
		res    models.ScreeningResult
		status string
		raw    []byte
	)
	err := r.t.q.QueryRowContext(ctx, `
		select beneficiary_id, org_id, status, matched_name, overrides, checked_at, updated_at
		from screening_results where beneficiary_id = $1
	`, beneficiaryID).Scan(&res.BeneficiaryID, &res.OrgID, &status, &res.MatchedName, &raw, &res.CheckedAt, &res.UpdatedAt)
	if err != nil {
		return models.ScreeningResult{}, mapErr(err)
	}
	res.Status = models.ScreeningStatus(status)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res.Overrides); err != nil {
			return models.ScreeningResult{}, fmt.Errorf("decode overrides: %w", err)
		}
	}
	return res, nil
}

func (r screeningRepo) Put(ctx context.Context, res models.ScreeningResult) error {
	overrides := res.Overrides
	if overrides == nil {
		overrides = []models.ScreeningOverride{}
	}
	raw, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("encode overrides: %w", err)
	}
	return r.t.exec(ctx, `
		insert into screening_results (beneficiary_id, org_id, status, matched_name, overrides, checked_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (beneficiary_id) do update set
			status = excluded.status,
			matched_name = excluded.matched_name,
			overrides = excluded.overrides,
			checked_at = excluded.checked_at,
			updated_at = excluded.updated_at
	`, res.BeneficiaryID, res.OrgID, string(res.Status), res.MatchedName, raw, res.CheckedAt, res.UpdatedAt)
}

type auditRepo struct{ t *tx }

func (r auditRepo) Append(ctx context.Context, e models.AuditEntry) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return r.t.exec(ctx, `
		insert into audit_log (id, org_id, actor_id, action, object_type, object_id, metadata, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.OrgID, e.ActorID, e.Action, e.ObjectType, e.ObjectID, raw, e.OccurredAt)
}

func (r auditRepo) List(ctx context.Context, orgID string, f models.AuditFilter) ([]models.AuditEntry, error) {
	where := []string{"org_id = $1"}
	args := []any{orgID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Cursor != "" {
		add("id < $%d", f.Cursor)
	}
	if f.ObjectType != "" {
		add("object_type = $%d", f.ObjectType)
	}
	if f.ObjectID != "" {
		add("object_id = $%d", f.ObjectID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	query := `select id, org_id, actor_id, action, object_type, object_id, metadata, occurred_at
		from audit_log where ` + strings.Join(where, " and ") + ` order by id desc`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	rows, err := r.t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []models.AuditEntry
	for rows.Next() {
		var (
			e   models.AuditEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.OrgID, &e.ActorID, &e.Action, &e.ObjectType, &e.ObjectID, &raw, &e.OccurredAt); err != nil {
			return nil, mapErr(err)
		}
		if len(raw) > 0 && string(raw) != "{}" {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
