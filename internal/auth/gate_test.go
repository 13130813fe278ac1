package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disbursa.org/internal/identity"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
	"disbursa.org/internal/store/memstore"
)

const member = "0x52908400098527886e0f7030069857d2e4169ee7"

func seedMember(t *testing.T, st store.Store, role models.Role, status models.MembershipStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.Organizations().Create(ctx, models.Organization{ID: "org-1", Name: "Acme", CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.Identities().Create(ctx, models.Identity{ID: "id-1", Handle: member, CreatedAt: now}); err != nil {
			return err
		}
		return tx.Memberships().Create(ctx, models.Membership{
			ID: "m-1", OrgID: "org-1", IdentityID: "id-1", Role: role, Status: status,
		})
	}))
}

func authorize(st store.Store, g *Gate, orgID, handle string, allowed []models.Role) error {
	return st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, _, err := g.Authorize(ctx, tx, orgID, handle, allowed)
		return err
	})
}

func TestAuthorizeIffRoleAllowedAndActive(t *testing.T) {
	for _, role := range models.AllRoles() {
		for _, status := range []models.MembershipStatus{models.MembershipActive, models.MembershipInvited, models.MembershipRemoved} {
			for _, allowed := range [][]models.Role{
				models.AllRoles(),
				{models.RoleAdmin},
				{models.RoleAdmin, models.RoleInitiator, models.RoleClerk},
				{models.RoleAdmin, models.RoleApprover, models.RoleInitiator},
				nil,
			} {
				st := memstore.New()
				seedMember(t, st, role, status)
				g := NewGate(identity.NewResolver())

				err := authorize(st, g, "org-1", member, allowed)
				want := status == models.MembershipActive && containsRole(allowed, role)
				if want {
					assert.NoError(t, err, "role=%s status=%s allowed=%v", role, status, allowed)
					continue
				}
				require.Error(t, err)
				assert.ErrorIs(t, err, models.ErrUnauthorized)
				if status != models.MembershipActive {
					assert.ErrorIs(t, err, models.ErrMembershipInactive)
				}
			}
		}
	}
}

func containsRole(roles []models.Role, r models.Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}

func TestAuthorizeFailureKinds(t *testing.T) {
	st := memstore.New()
	seedMember(t, st, models.RoleViewer, models.MembershipActive)
	g := NewGate(identity.NewResolver())

	err := authorize(st, g, "org-1", "0x0000000000000000000000000000000000000001", models.AllRoles())
	assert.ErrorIs(t, err, models.ErrUnauthenticated)

	err = authorize(st, g, "org-missing", member, models.AllRoles())
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Organizations().Create(ctx, models.Organization{ID: "org-2"})
	}))
	err = authorize(st, g, "org-2", member, models.AllRoles())
	assert.ErrorIs(t, err, models.ErrNotAMember)

	// Handles are case-folded before lookup.
	err = authorize(st, g, "org-1", "0x52908400098527886E0F7030069857D2E4169EE7", models.AllRoles())
	assert.NoError(t, err)
}

func TestRequireUsesPolicy(t *testing.T) {
	st := memstore.New()
	seedMember(t, st, models.RoleClerk, models.MembershipActive)
	g := NewGate(identity.NewResolver())

	err := st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, m, err := g.Require(ctx, tx, "org-1", member, OpBeneficiaryCreate)
		require.NoError(t, err)
		assert.Equal(t, models.RoleClerk, m.Role)
		_, _, err = g.Require(ctx, tx, "org-1", member, OpDisbursementCreate)
		return err
	})
	assert.ErrorIs(t, err, models.ErrInsufficientRole)
}

func TestPolicyIsNotAThreshold(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.Allows(OpDisbursementCreate, models.RoleApprover))
	assert.True(t, p.Allows(OpDisbursementCreate, models.RoleInitiator))
	assert.False(t, p.Allows(OpDisbursementCreate, models.RoleClerk))
	assert.True(t, p.Allows(OpBeneficiaryCreate, models.RoleClerk))
	assert.False(t, p.Allows(OpBeneficiaryCreate, models.RoleApprover))
	assert.False(t, p.Allows(Operation("unknown"), models.RoleAdmin))
	for _, r := range models.AllRoles() {
		assert.True(t, p.Allows(OpDisbursementRead, r))
	}
}

func TestRoleAtLeast(t *testing.T) {
	order := []models.Role{models.RoleViewer, models.RoleClerk, models.RoleInitiator, models.RoleApprover, models.RoleAdmin}
	for i, a := range order {
		for j, r := range order {
			assert.Equal(t, i >= j, models.RoleAtLeast(a, r), "%s vs %s", a, r)
		}
	}
	assert.False(t, models.RoleAtLeast("owner", models.RoleViewer))
	assert.False(t, models.RoleAtLeast(models.RoleAdmin, "owner"))
}
