package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disbursa.org/internal/ids"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

func TestInTxDiscardsOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Organizations().Create(ctx, models.Organization{ID: "org-1", Name: "Acme"}))
		require.NoError(t, tx.Audit().Append(ctx, models.AuditEntry{ID: ids.New(), OrgID: "org-1", Action: "org.created"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Organizations().Get(ctx, "org-1")
		assert.ErrorIs(t, err, models.ErrNotFound)
		entries, err := tx.Audit().List(ctx, "org-1", models.AuditFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)
}

func TestViewIsReadOnly(t *testing.T) {
	s := New()
	err := s.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Billing().Put(ctx, models.BillingRecord{OrgID: "org-1"})
	})
	assert.ErrorIs(t, err, models.ErrReadOnlyTransaction)
}

func TestViewSeesSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Organizations().Create(ctx, models.Organization{ID: "org-1", Name: "before"})
	}))

	inView := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.View(ctx, func(ctx context.Context, tx store.Tx) error {
			close(inView)
			<-release
			org, err := tx.Organizations().Get(ctx, "org-1")
			assert.NoError(t, err)
			assert.Equal(t, "before", org.Name)
			return nil
		})
	}()
	<-inView
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Organizations().Update(ctx, models.Organization{ID: "org-1", Name: "after"})
	}))
	close(release)
	<-done
}

func TestConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()
	const workers = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				n, err := tx.Beneficiaries().CountByOrg(ctx, "org-1")
				if err != nil {
					return err
				}
				if n >= 10 {
					return models.ErrTierLimitExceeded
				}
				return tx.Beneficiaries().Create(ctx, models.Beneficiary{ID: ids.New(), OrgID: "org-1", IsActive: true})
			})
			if err != nil {
				assert.ErrorIs(t, err, models.ErrTierLimitExceeded)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		n, err := tx.Beneficiaries().CountByOrg(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, 10, n)
		return nil
	}))
}

func TestMembershipPairIsUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Memberships().Create(ctx, models.Membership{ID: "m1", OrgID: "o", IdentityID: "i"}))
		return tx.Memberships().Create(ctx, models.Membership{ID: "m2", OrgID: "o", IdentityID: "i"})
	})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestDisbursementIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	d := models.Disbursement{
		ID: "d1", OrgID: "o", Status: models.StatusDraft, CreatedAt: now,
		Payout: &models.BatchPayout{TotalAmount: "3", Recipients: []models.Recipient{
			{BeneficiaryID: "b1", Amount: "1"}, {BeneficiaryID: "b2", Amount: "2"},
		}},
	}
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Disbursements().Create(ctx, d)
	}))
	// Mutating the caller's copy must not leak into the store.
	d.Payout.(*models.BatchPayout).Recipients[0].Amount = "999"

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.Disbursements().Get(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "1", got.Payout.(*models.BatchPayout).Recipients[0].Amount)

		list, err := tx.Disbursements().ListByOrg(ctx, "o", store.DisbursementQuery{Statuses: []models.DisbursementStatus{models.StatusExecuted}})
		require.NoError(t, err)
		assert.Empty(t, list)
		return nil
	}))
}

func TestAuditListNewestFirstWithCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	var idsInOrder []string
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < 5; i++ {
			id := ids.New()
			idsInOrder = append(idsInOrder, id)
			if err := tx.Audit().Append(ctx, models.AuditEntry{ID: id, OrgID: "o", Action: "x"}); err != nil {
				return err
			}
		}
		return tx.Audit().Append(ctx, models.AuditEntry{ID: ids.New(), OrgID: "other", Action: "x"})
	}))
	require.NoError(t, s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		page, err := tx.Audit().List(ctx, "o", models.AuditFilter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, idsInOrder[4], page[0].ID)
		assert.Equal(t, idsInOrder[3], page[1].ID)

		page, err = tx.Audit().List(ctx, "o", models.AuditFilter{Limit: 10, Cursor: page[1].ID})
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, idsInOrder[0], page[2].ID)
		return nil
	}))
}
