package screening

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/identity"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
	"disbursa.org/internal/store/memstore"
)

const (
	approver = "0xb000000000000000000000000000000000000001"
	viewer   = "0xb000000000000000000000000000000000000002"
)

func newService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.Organizations().Create(ctx, models.Organization{ID: "org-1"}); err != nil {
			return err
		}
		for id, h := range map[string]string{"id-a": approver, "id-v": viewer} {
			role := models.RoleApprover
			if h == viewer {
				role = models.RoleViewer
			}
			if err := tx.Identities().Create(ctx, models.Identity{ID: id, Handle: h}); err != nil {
				return err
			}
			if err := tx.Memberships().Create(ctx, models.Membership{ID: "m-" + id, OrgID: "org-1", IdentityID: id, Role: role, Status: models.MembershipActive}); err != nil {
				return err
			}
		}
		for _, b := range []models.Beneficiary{
			{ID: "ben-1", OrgID: "org-1", Name: "Ivan Flagged", IsActive: true},
			{ID: "ben-2", OrgID: "org-1", Name: "Clean Co", IsActive: true},
			{ID: "ben-x", OrgID: "org-2", Name: "Elsewhere", IsActive: true},
		} {
			if err := tx.Beneficiaries().Create(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))
	svc := NewService(st, auth.NewGate(identity.NewResolver()), audit.NewRecorder(),
		WithClock(func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }))
	return svc, st
}

func check(t *testing.T, svc *Service, st store.Store, mode models.ScreeningEnforcement, ids ...string) ([]Flag, error) {
	t.Helper()
	var flags []Flag
	err := st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		flags, err = svc.Check(ctx, tx, models.Organization{ID: "org-1", Settings: models.OrgSettings{ScreeningEnforcement: mode}}, ids)
		return err
	})
	return flags, err
}

func TestCheckByEnforcementMode(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	_, err := svc.Ingest(ctx, "org-1", "ben-1", models.ScreeningPotentialMatch, "IVAN FLAGGED")
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, "org-1", "ben-2", models.ScreeningClear, "")
	require.NoError(t, err)

	_, err = check(t, svc, st, models.EnforcementBlock, "ben-2", "ben-1")
	require.ErrorIs(t, err, models.ErrComplianceBlock)
	assert.Contains(t, err.Error(), "Ivan Flagged")

	flags, err := check(t, svc, st, models.EnforcementWarn, "ben-2", "ben-1")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "ben-1", flags[0].BeneficiaryID)

	flags, err = check(t, svc, st, models.EnforcementOff, "ben-1")
	require.NoError(t, err)
	assert.Empty(t, flags)

	flags, err = check(t, svc, st, "", "ben-1")
	require.NoError(t, err)
	assert.Empty(t, flags)

	// No verdict means nothing to block.
	_, err = check(t, svc, st, models.EnforcementBlock, "ben-unknown")
	assert.NoError(t, err)
}

func TestReviewOverridesVerdict(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	_, err := svc.Ingest(ctx, "org-1", "ben-1", models.ScreeningConfirmedMatch, "")
	require.NoError(t, err)

	_, err = svc.Review(ctx, "org-1", viewer, "ben-1", models.ScreeningFalsePositive, "")
	require.ErrorIs(t, err, models.ErrUnauthorized)

	res, err := svc.Review(ctx, "org-1", approver, "ben-1", models.ScreeningFalsePositive, "different person")
	require.NoError(t, err)
	assert.Equal(t, models.ScreeningFalsePositive, res.Status)
	require.Len(t, res.Overrides, 1)
	assert.Equal(t, "id-a", res.Overrides[0].ReviewerID)
	assert.Equal(t, models.ScreeningConfirmedMatch, res.Overrides[0].From)

	_, err = check(t, svc, st, models.EnforcementBlock, "ben-1")
	assert.NoError(t, err)

	// A fresh verdict keeps the review history.
	res, err = svc.Ingest(ctx, "org-1", "ben-1", models.ScreeningPotentialMatch, "")
	require.NoError(t, err)
	assert.Len(t, res.Overrides, 1)

	got, err := svc.Get(ctx, "org-1", viewer, "ben-1")
	require.NoError(t, err)
	assert.Equal(t, models.ScreeningPotentialMatch, got.Status)
}

func TestIngestValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Ingest(ctx, "org-1", "ben-1", "maybe", "")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = svc.Ingest(ctx, "org-1", "ben-x", models.ScreeningClear, "")
	assert.ErrorIs(t, err, models.ErrCrossTenant)
	_, err = svc.Get(ctx, "org-1", viewer, "ben-2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReviewChecksAccessFirst(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Review(ctx, "org-1", viewer, "ben-1", "maybe", "")
	assert.ErrorIs(t, err, models.ErrInsufficientRole)
	_, err = svc.Review(ctx, "org-1", viewer, "ben-x", models.ScreeningClear, "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
