package org

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/beneficiary"
	"disbursa.org/internal/billing"
	"disbursa.org/internal/config"
	"disbursa.org/internal/identity"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
	"disbursa.org/internal/store/memstore"
)

var now = time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

func handle(i int) string { return fmt.Sprintf("0x%040x", 0xabc000+i) }

type fixture struct {
	st   *memstore.Store
	svc  *Service
	bill *billing.Service
}

func newFixture(t *testing.T, defaults Defaults) *fixture {
	t.Helper()
	st := memstore.New()
	clock := func() time.Time { return now }
	gate := auth.NewGate(identity.NewResolver(identity.WithClock(clock)))
	rec := audit.NewRecorder(audit.WithClock(clock))
	eval := billing.NewEvaluator(billing.WithClock(clock))
	bill := billing.NewService(st, gate, rec, eval, billing.WithPaidPeriod(30*24*time.Hour))
	reg := beneficiary.NewRegistry(st, gate, eval, rec, beneficiary.WithClock(clock))
	return &fixture{st: st, svc: NewService(st, gate, bill, reg, rec, defaults, WithClock(clock)), bill: bill}
}

func (f *fixture) actions(t *testing.T, orgID string) []string {
	t.Helper()
	var out []string
	require.NoError(t, f.st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.Audit().List(ctx, orgID, models.AuditFilter{})
		for _, e := range entries {
			out = append(out, e.Action)
		}
		return err
	}))
	return out
}

func (f *fixture) admins(t *testing.T, orgID string) int {
	t.Helper()
	n := 0
	require.NoError(t, f.st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		ms, err := tx.Memberships().ListByOrg(ctx, orgID)
		for _, m := range ms {
			if m.IsActive() && m.Role == models.RoleAdmin {
				n++
			}
		}
		return err
	}))
	return n
}

func TestCreateOrganization(t *testing.T) {
	f := newFixture(t, Defaults{
		TrialLength:     7 * 24 * time.Hour,
		FeeToken:        "USDC",
		FeeMode:         models.FeeModeSponsored,
		SeedBeneficiary: &models.BeneficiaryInput{Name: "Treasury", Type: models.BeneficiaryBusiness, Address: "0x00000000000000000000000000000000000000FF"},
	})
	ctx := context.Background()
	o, err := f.svc.CreateOrganization(ctx, handle(1), "  Acme  ")
	require.NoError(t, err)
	assert.Equal(t, "Acme", o.Name)
	assert.Equal(t, "USDC", o.Settings.FeeToken)
	assert.Equal(t, models.EnforcementOff, o.Settings.Enforcement())

	st, err := f.bill.Get(ctx, o.ID, handle(1))
	require.NoError(t, err)
	assert.Equal(t, models.PlanTrial, st.Plan)
	assert.Equal(t, 7, st.DaysRemaining)
	assert.Equal(t, 1, st.Usage.Seats)
	assert.Equal(t, 1, st.Usage.Beneficiaries)

	members, err := f.svc.ListMembers(ctx, o.ID, handle(1))
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, models.RoleAdmin, members[0].Role)
	assert.Equal(t, handle(1), members[0].Handle)

	assert.Equal(t, []string{models.ActionBeneficiaryCreated, models.ActionOrgCreated}, f.actions(t, o.ID))

	list, err := f.svc.ListForHandle(ctx, handle(1))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, o.ID, list[0].Organization.ID)

	list, err = f.svc.ListForHandle(ctx, handle(99))
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.CreateOrganization(ctx, handle(1), " ")
	assert.ErrorIs(t, err, models.ErrBlankOrgName)
}

func TestDefaultsFromConfig(t *testing.T) {
	cfg := config.Defaults().Organization
	d := DefaultsFromConfig(cfg)
	assert.Equal(t, models.FeeModeSponsored, d.FeeMode)
	assert.Equal(t, models.EnforcementOff, d.ScreeningEnforcement)
	assert.Nil(t, d.SeedBeneficiary)

	cfg.ScreeningEnforcement = "block"
	assert.Equal(t, models.EnforcementBlock, DefaultsFromConfig(cfg).ScreeningEnforcement)

	cfg.SeedBeneficiary = &config.SeedBeneficiary{Name: "Ops", Address: "0x00000000000000000000000000000000000000aa"}
	d = DefaultsFromConfig(cfg)
	require.NotNil(t, d.SeedBeneficiary)
	assert.Equal(t, "Ops", d.SeedBeneficiary.Name)
}

func TestStarterPlanAllowsOneUser(t *testing.T) {
	f := newFixture(t, Defaults{})
	ctx := context.Background()
	o, err := f.svc.CreateOrganization(ctx, handle(1), "Acme")
	require.NoError(t, err)
	_, err = f.bill.Subscribe(ctx, o.ID, handle(1), models.PlanStarter)
	require.NoError(t, err)

	_, err = f.svc.InviteMember(ctx, o.ID, handle(1), handle(2), models.RoleViewer)
	require.ErrorIs(t, err, models.ErrTierLimitExceeded)
	assert.Contains(t, err.Error(), "1 user")
	assert.NotContains(t, err.Error(), "1 users")
}

func TestInvitationLifecycle(t *testing.T) {
	f := newFixture(t, Defaults{})
	ctx := context.Background()
	o, err := f.svc.CreateOrganization(ctx, handle(1), "Acme")
	require.NoError(t, err)

	inv, err := f.svc.InviteMember(ctx, o.ID, handle(1), handle(2), models.RoleApprover)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipInvited, inv.Status)

	// Invited members cannot act yet.
	_, err = f.svc.Get(ctx, o.ID, handle(2))
	require.ErrorIs(t, err, models.ErrMembershipInactive)

	_, err = f.svc.InviteMember(ctx, o.ID, handle(1), handle(2), models.RoleViewer)
	require.ErrorIs(t, err, models.ErrAlreadyMember)

	joined, err := f.svc.AcceptInvitation(ctx, o.ID, handle(2))
	require.NoError(t, err)
	assert.Equal(t, models.MembershipActive, joined.Status)
	_, err = f.svc.AcceptInvitation(ctx, o.ID, handle(2))
	require.ErrorIs(t, err, models.ErrNotInvited)

	_, err = f.svc.Get(ctx, o.ID, handle(2))
	require.NoError(t, err)

	// Approvers may not manage members.
	_, err = f.svc.InviteMember(ctx, o.ID, handle(2), handle(3), models.RoleViewer)
	require.ErrorIs(t, err, models.ErrInsufficientRole)

	require.NoError(t, f.svc.RemoveMember(ctx, o.ID, handle(1), inv.ID))
	_, err = f.svc.Get(ctx, o.ID, handle(2))
	require.ErrorIs(t, err, models.ErrMembershipInactive)

	again, err := f.svc.InviteMember(ctx, o.ID, handle(1), handle(2), models.RoleClerk)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, again.ID)
	assert.Equal(t, models.RoleClerk, again.Role)
	assert.Equal(t, models.MembershipInvited, again.Status)

	assert.Equal(t, []string{
		models.ActionMemberInvited,
		models.ActionMemberRemoved,
		models.ActionMemberJoined,
		models.ActionMemberInvited,
		models.ActionOrgCreated,
	}, f.actions(t, o.ID))
}

func TestLastAdminCannotBeDemoted(t *testing.T) {
	f := newFixture(t, Defaults{})
	ctx := context.Background()
	o, err := f.svc.CreateOrganization(ctx, handle(1), "Acme")
	require.NoError(t, err)
	members, err := f.svc.ListMembers(ctx, o.ID, handle(1))
	require.NoError(t, err)
	self := members[0]

	_, err = f.svc.UpdateMemberRole(ctx, o.ID, handle(1), self.ID, models.RoleApprover)
	require.ErrorIs(t, err, models.ErrLastAdmin)
	require.ErrorIs(t, err, models.ErrInvariantViolation)
	assert.Equal(t, 1, f.admins(t, o.ID))

	inv, err := f.svc.InviteMember(ctx, o.ID, handle(1), handle(2), models.RoleAdmin)
	require.NoError(t, err)
	// A pending admin does not count.
	_, err = f.svc.UpdateMemberRole(ctx, o.ID, handle(1), self.ID, models.RoleApprover)
	require.ErrorIs(t, err, models.ErrLastAdmin)

	_, err = f.svc.AcceptInvitation(ctx, o.ID, handle(2))
	require.NoError(t, err)
	upd, err := f.svc.UpdateMemberRole(ctx, o.ID, handle(1), self.ID, models.RoleApprover)
	require.NoError(t, err)
	assert.Equal(t, models.RoleApprover, upd.Role)

	err = f.svc.RemoveMember(ctx, o.ID, handle(2), inv.ID)
	require.ErrorIs(t, err, models.ErrSelfRemoval)

	var meta map[string]any
	require.NoError(t, f.st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.Audit().List(ctx, o.ID, models.AuditFilter{Action: models.ActionMemberRoleUpdated})
		require.Len(t, entries, 1)
		meta = entries[0].Metadata
		return err
	}))
	assert.Equal(t, "admin", meta["oldRole"])
	assert.Equal(t, "approver", meta["newRole"])
}

func TestAlwaysOneActiveAdmin(t *testing.T) {
	f := newFixture(t, Defaults{})
	ctx := context.Background()
	o, err := f.svc.CreateOrganization(ctx, handle(0), "Acme")
	require.NoError(t, err)
	_, err = f.bill.Subscribe(ctx, o.ID, handle(0), models.PlanPro)
	require.NoError(t, err)
	for i := 1; i <= 4; i++ {
		_, err := f.svc.InviteMember(ctx, o.ID, handle(0), handle(i), models.RoleAdmin)
		require.NoError(t, err)
		_, err = f.svc.AcceptInvitation(ctx, o.ID, handle(i))
		require.NoError(t, err)
	}

	rnd := rand.New(rand.NewSource(7))
	roles := models.AllRoles()
	for step := 0; step < 200; step++ {
		actor := f.anyAdmin(t, o.ID)
		require.NotEmpty(t, actor, "no admin left at step %d", step)
		members, err := f.svc.ListMembers(ctx, o.ID, actor)
		require.NoError(t, err)
		target := members[rnd.Intn(len(members))]
		if rnd.Intn(3) == 0 {
			_ = f.svc.RemoveMember(ctx, o.ID, actor, target.ID)
		} else {
			_, _ = f.svc.UpdateMemberRole(ctx, o.ID, actor, target.ID, roles[rnd.Intn(len(roles))])
		}
		require.GreaterOrEqual(t, f.admins(t, o.ID), 1, "step %d", step)
	}
}

// anyAdmin returns the handle of some active admin.
func (f *fixture) anyAdmin(t *testing.T, orgID string) string {
	t.Helper()
	var h string
	require.NoError(t, f.st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		ms, err := tx.Memberships().ListByOrg(ctx, orgID)
		if err != nil {
			return err
		}
		for _, m := range ms {
			if m.IsActive() && m.Role == models.RoleAdmin {
				ident, err := tx.Identities().ByID(ctx, m.IdentityID)
				h = ident.Handle
				return err
			}
		}
		return nil
	}))
	return h
}

func TestSettingsAndSafe(t *testing.T) {
	f := newFixture(t, Defaults{})
	ctx := context.Background()
	o, err := f.svc.CreateOrganization(ctx, handle(1), "Acme")
	require.NoError(t, err)

	block := models.EnforcementBlock
	updated, err := f.svc.UpdateSettings(ctx, o.ID, handle(1), models.SettingsUpdate{ScreeningEnforcement: &block})
	require.NoError(t, err)
	assert.Equal(t, models.EnforcementBlock, updated.Settings.ScreeningEnforcement)

	bogus := models.ScreeningEnforcement("strict")
	_, err = f.svc.UpdateSettings(ctx, o.ID, handle(1), models.SettingsUpdate{ScreeningEnforcement: &bogus})
	require.ErrorIs(t, err, models.ErrInvalidSettings)
	_, err = f.svc.UpdateSettings(ctx, o.ID, handle(1), models.SettingsUpdate{})
	require.ErrorIs(t, err, models.ErrNoChanges)

	_, err = f.svc.Safe(ctx, o.ID, handle(1))
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.LinkSafe(ctx, o.ID, handle(1), "0x123", 1)
	require.ErrorIs(t, err, models.ErrInvalidAddress)
	_, err = f.svc.LinkSafe(ctx, o.ID, handle(1), "0x00000000000000000000000000000000000005AF", 0)
	require.ErrorIs(t, err, models.ErrValidation)

	first, err := f.svc.LinkSafe(ctx, o.ID, handle(1), "0x00000000000000000000000000000000000005AF", 1)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000005af", first.Address)
	second, err := f.svc.LinkSafe(ctx, o.ID, handle(1), "0x00000000000000000000000000000000000005b0", 10)
	require.NoError(t, err)

	got, err := f.svc.Safe(ctx, o.ID, handle(1))
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, int64(10), got.ChainID)
}

func TestAccessCheckedBeforeInput(t *testing.T) {
	f := newFixture(t, Defaults{})
	ctx := context.Background()
	o, err := f.svc.CreateOrganization(ctx, handle(1), "Acme")
	require.NoError(t, err)
	_, err = f.svc.CreateOrganization(ctx, handle(2), "Elsewhere")
	require.NoError(t, err)
	_, err = f.svc.InviteMember(ctx, o.ID, handle(1), handle(3), models.RoleViewer)
	require.NoError(t, err)
	_, err = f.svc.AcceptInvitation(ctx, o.ID, handle(3))
	require.NoError(t, err)
	before := len(f.actions(t, o.ID))

	outsider, viewer := handle(2), handle(3)
	_, err = f.svc.InviteMember(ctx, o.ID, outsider, "not-an-address", models.Role("owner"))
	assert.ErrorIs(t, err, models.ErrNotAMember)
	_, err = f.svc.InviteMember(ctx, o.ID, viewer, "not-an-address", models.RoleViewer)
	assert.ErrorIs(t, err, models.ErrInsufficientRole)
	_, err = f.svc.UpdateMemberRole(ctx, o.ID, outsider, "missing", models.Role("owner"))
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.svc.LinkSafe(ctx, o.ID, outsider, "0x123", 0)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.svc.LinkSafe(ctx, o.ID, viewer, "0x123", 0)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	assert.Len(t, f.actions(t, o.ID), before)
}
