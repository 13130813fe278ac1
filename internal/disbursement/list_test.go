package disbursement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disbursa.org/internal/models"
)

func TestBatchName(t *testing.T) {
	assert.Equal(t, "Batch", BatchName("", 0))
	assert.Equal(t, "Alice", BatchName("Alice", 1))
	assert.Equal(t, "Alice +1 other", BatchName("Alice", 2))
	assert.Equal(t, "Alice +4 others", BatchName("Alice", 5))
}

func seedList(t *testing.T) (*fixture, []models.Disbursement) {
	t.Helper()
	f := newFixture(t, models.EnforcementOff, true)
	ctx := context.Background()
	admin := handles[models.RoleAdmin]

	a, err := f.eng.CreateSingle(ctx, "org-1", admin, "ben-alice", "USDC", "300", "payroll march")
	require.NoError(t, err)
	b, err := f.eng.CreateBatch(ctx, "org-1", admin, "USDC", []models.RecipientInput{
		{BeneficiaryID: "ben-bob", Amount: "10"},
		{BeneficiaryID: "ben-carol", Amount: "15.5"},
		{BeneficiaryID: "ben-alice", Amount: "2"},
	}, "grants")
	require.NoError(t, err)
	c, err := f.eng.CreateSingle(ctx, "org-1", admin, "ben-carol", "DAI", "42.42", "")
	require.NoError(t, err)
	_, err = f.eng.UpdateStatus(ctx, "org-1", admin, c.ID, models.StatusProposed, "0x01", "")
	require.NoError(t, err)
	return f, []models.Disbursement{a, b, c}
}

func idsOf(p Page) []string {
	out := make([]string, 0, len(p.Items))
	for _, s := range p.Items {
		out = append(out, s.ID)
	}
	return out
}

func TestListProjection(t *testing.T) {
	f, ds := seedList(t)
	page, err := f.eng.List(context.Background(), "org-1", handles[models.RoleViewer], Query{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Empty(t, page.NextCursor)

	batch := page.Items[1]
	assert.Equal(t, ds[1].ID, batch.ID)
	assert.Equal(t, "Bob Ltd +2 others", batch.DisplayName)
	assert.Equal(t, "27.5", batch.Amount)
	assert.Equal(t, 3, batch.RecipientCount)

	single := page.Items[0]
	assert.Equal(t, "Alice", single.DisplayName)
	assert.Equal(t, "300", single.Amount)
}

func TestListFilters(t *testing.T) {
	f, ds := seedList(t)
	ctx := context.Background()
	viewer := handles[models.RoleViewer]

	page, err := f.eng.List(ctx, "org-1", viewer, Query{Statuses: []models.DisbursementStatus{models.StatusProposed}})
	require.NoError(t, err)
	assert.Equal(t, []string{ds[2].ID}, idsOf(page))

	page, err = f.eng.List(ctx, "org-1", viewer, Query{Token: "usdc"})
	require.NoError(t, err)
	assert.Equal(t, []string{ds[0].ID, ds[1].ID}, idsOf(page))

	page, err = f.eng.List(ctx, "org-1", viewer, Query{Search: "BOB"})
	require.NoError(t, err)
	assert.Equal(t, []string{ds[1].ID}, idsOf(page))

	page, err = f.eng.List(ctx, "org-1", viewer, Query{Search: "payroll"})
	require.NoError(t, err)
	assert.Equal(t, []string{ds[0].ID}, idsOf(page))

	page, err = f.eng.List(ctx, "org-1", viewer, Query{Search: "42.4"})
	require.NoError(t, err)
	assert.Equal(t, []string{ds[2].ID}, idsOf(page))

	page, err = f.eng.List(ctx, "org-1", viewer, Query{From: ds[1].CreatedAt, To: ds[1].CreatedAt})
	require.NoError(t, err)
	assert.Equal(t, []string{ds[1].ID}, idsOf(page))
}

func TestListSortAndCursor(t *testing.T) {
	f, ds := seedList(t)
	ctx := context.Background()
	viewer := handles[models.RoleViewer]

	page, err := f.eng.List(ctx, "org-1", viewer, Query{Sort: SortAmount, Desc: true})
	require.NoError(t, err)
	assert.Equal(t, []string{ds[0].ID, ds[2].ID, ds[1].ID}, idsOf(page))

	page, err = f.eng.List(ctx, "org-1", viewer, Query{Sort: SortStatus, Desc: true})
	require.NoError(t, err)
	assert.Equal(t, ds[2].ID, page.Items[0].ID)

	first, err := f.eng.List(ctx, "org-1", viewer, Query{Sort: SortCreatedAt, Desc: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{ds[2].ID, ds[1].ID}, idsOf(first))
	require.Equal(t, ds[1].ID, first.NextCursor)

	rest, err := f.eng.List(ctx, "org-1", viewer, Query{Sort: SortCreatedAt, Desc: true, Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, []string{ds[0].ID}, idsOf(rest))
	assert.Empty(t, rest.NextCursor)
}

func TestListRejectsBadInput(t *testing.T) {
	f, _ := seedList(t)
	ctx := context.Background()
	viewer := handles[models.RoleViewer]

	_, err := f.eng.List(ctx, "org-1", viewer, Query{Sort: "name"})
	assert.ErrorIs(t, err, models.ErrInvalidFilter)
	_, err = f.eng.List(ctx, "org-1", viewer, Query{Cursor: "nope"})
	assert.ErrorIs(t, err, models.ErrInvalidCursor)
	_, err = f.eng.List(ctx, "org-1", viewer, Query{Statuses: []models.DisbursementStatus{"paid"}})
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
	_, err = f.eng.List(ctx, "org-2", viewer, Query{})
	assert.ErrorIs(t, err, models.ErrNotAMember)
}

func TestGetWithRecipients(t *testing.T) {
	f, ds := seedList(t)
	ctx := context.Background()

	det, err := f.eng.GetWithRecipients(ctx, "org-1", handles[models.RoleViewer], ds[1].ID)
	require.NoError(t, err)
	require.Len(t, det.Recipients, 3)
	assert.Equal(t, "Carol", det.Recipients[1].Name)
	assert.Equal(t, "15.5", det.Recipients[1].Amount)
	assert.NotEmpty(t, det.Recipients[1].RecipientID)

	det, err = f.eng.GetWithRecipients(ctx, "org-1", handles[models.RoleViewer], ds[0].ID)
	require.NoError(t, err)
	require.Len(t, det.Recipients, 1)
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", det.Recipients[0].Address)
}
