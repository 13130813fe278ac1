package disbursement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/identity"
	"disbursa.org/internal/models"
	"disbursa.org/internal/screening"
	"disbursa.org/internal/store"
	"disbursa.org/internal/store/memstore"
	"disbursa.org/internal/stream"
)

var start = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

var handles = map[models.Role]string{
	models.RoleAdmin:     "0xc000000000000000000000000000000000000001",
	models.RoleApprover:  "0xc000000000000000000000000000000000000002",
	models.RoleInitiator: "0xc000000000000000000000000000000000000003",
	models.RoleClerk:     "0xc000000000000000000000000000000000000004",
	models.RoleViewer:    "0xc000000000000000000000000000000000000005",
}

// tick advances one minute per call.
type tick struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tick) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

type sink struct {
	mu     sync.Mutex
	events []stream.Event
}

func (s *sink) Publish(evt stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

type fixture struct {
	st     *memstore.Store
	eng    *Engine
	scr    *screening.Service
	events *sink
}

func newFixture(t *testing.T, enforcement models.ScreeningEnforcement, withSafe bool) *fixture {
	t.Helper()
	st := memstore.New()
	require.NoError(t, st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, org := range []string{"org-1", "org-2"} {
			if err := tx.Organizations().Create(ctx, models.Organization{ID: org, Name: org, Settings: models.OrgSettings{ScreeningEnforcement: enforcement}}); err != nil {
				return err
			}
		}
		if withSafe {
			if err := tx.Safes().Put(ctx, models.Safe{ID: "safe-1", OrgID: "org-1", Address: "0x5afe000000000000000000000000000000000001", ChainID: 1}); err != nil {
				return err
			}
		}
		for role, h := range handles {
			id := "id-" + string(role)
			if err := tx.Identities().Create(ctx, models.Identity{ID: id, Handle: h}); err != nil {
				return err
			}
			if err := tx.Memberships().Create(ctx, models.Membership{ID: "m-" + id, OrgID: "org-1", IdentityID: id, Role: role, Status: models.MembershipActive}); err != nil {
				return err
			}
		}
		for _, b := range []models.Beneficiary{
			{ID: "ben-alice", OrgID: "org-1", Name: "Alice", Address: "0x00000000000000000000000000000000000000a1", IsActive: true},
			{ID: "ben-bob", OrgID: "org-1", Name: "Bob Ltd", Address: "0x00000000000000000000000000000000000000b2", IsActive: true},
			{ID: "ben-carol", OrgID: "org-1", Name: "Carol", Address: "0x00000000000000000000000000000000000000c3", IsActive: true},
			{ID: "ben-gone", OrgID: "org-1", Name: "Gone", Address: "0x00000000000000000000000000000000000000d4", IsActive: false},
			{ID: "ben-other", OrgID: "org-2", Name: "Elsewhere", Address: "0x00000000000000000000000000000000000000e5", IsActive: true},
		} {
			if err := tx.Beneficiaries().Create(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))
	clock := &tick{t: start}
	gate := auth.NewGate(identity.NewResolver())
	rec := audit.NewRecorder(audit.WithClock(clock.now))
	scr := screening.NewService(st, gate, rec, screening.WithClock(clock.now))
	events := &sink{}
	eng := NewEngine(st, gate, scr, rec, WithClock(clock.now), WithPublisher(events))
	return &fixture{st: st, eng: eng, scr: scr, events: events}
}

func (f *fixture) actions(t *testing.T) []string {
	t.Helper()
	var out []string
	require.NoError(t, f.st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.Audit().List(ctx, "org-1", models.AuditFilter{ObjectType: models.ObjectDisbursement})
		for _, e := range entries {
			out = append(out, e.Action)
		}
		return err
	}))
	return out
}

func TestCreateSingle(t *testing.T) {
	f := newFixture(t, models.EnforcementOff, true)
	d, err := f.eng.CreateSingle(context.Background(), "org-1", handles[models.RoleInitiator], "ben-alice", " USDC ", "10.00", " rent ")
	require.NoError(t, err)

	assert.Equal(t, models.StatusDraft, d.Status)
	assert.Equal(t, models.TypeSingle, d.Type())
	assert.Equal(t, "safe-1", d.SafeID)
	assert.Equal(t, "USDC", d.Token)
	assert.Equal(t, "rent", d.Memo)
	assert.Equal(t, "id-initiator", d.CreatedBy)
	require.IsType(t, &models.SinglePayout{}, d.Payout)
	assert.Equal(t, "10.00", d.Payout.Total())

	assert.Equal(t, []string{models.ActionDisbursementCreated}, f.actions(t))
	require.Len(t, f.events.events, 1)
	assert.Equal(t, stream.KindCreated, f.events.events[0].Kind)
}

func TestCreateBatchSumsExactly(t *testing.T) {
	f := newFixture(t, models.EnforcementOff, true)
	d, err := f.eng.CreateBatch(context.Background(), "org-1", handles[models.RoleAdmin], "USDC", []models.RecipientInput{
		{BeneficiaryID: "ben-alice", Amount: "50.50"},
		{BeneficiaryID: "ben-bob", Amount: "75.25"},
	}, "")
	require.NoError(t, err)

	batch, ok := d.Payout.(*models.BatchPayout)
	require.True(t, ok)
	assert.Equal(t, "125.75", batch.TotalAmount)
	require.Len(t, batch.Recipients, 2)
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", batch.Recipients[0].Address)
	assert.Equal(t, d.ID, batch.Recipients[1].DisbursementID)

	var meta map[string]any
	require.NoError(t, f.st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.Audit().List(ctx, "org-1", models.AuditFilter{ObjectID: d.ID})
		require.Len(t, entries, 1)
		meta = entries[0].Metadata
		return err
	}))
	assert.Equal(t, "batch", meta["type"])
	assert.Equal(t, "125.75", meta["totalAmount"])
	assert.Equal(t, 2, meta["recipientCount"])
}

func TestCreateBatchKeepsPrecision(t *testing.T) {
	f := newFixture(t, models.EnforcementOff, true)
	d, err := f.eng.CreateBatch(context.Background(), "org-1", handles[models.RoleAdmin], "USDC", []models.RecipientInput{
		{BeneficiaryID: "ben-alice", Amount: "0.1"},
		{BeneficiaryID: "ben-bob", Amount: "0.2"},
		{BeneficiaryID: "ben-carol", Amount: "0.000000000000000001"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "0.300000000000000001", d.Payout.Total())
}

func TestCreateRejections(t *testing.T) {
	tests := []struct {
		name   string
		safe   bool
		create func(e *Engine) error
		want   error
	}{
		{"no safe", false, func(e *Engine) error {
			_, err := e.CreateSingle(context.Background(), "org-1", handles[models.RoleAdmin], "ben-alice", "USDC", "1", "")
			return err
		}, models.ErrNoSafeLinked},
		{"clerk cannot pay", true, func(e *Engine) error {
			_, err := e.CreateSingle(context.Background(), "org-1", handles[models.RoleClerk], "ben-alice", "USDC", "1", "")
			return err
		}, models.ErrInsufficientRole},
		{"inactive beneficiary", true, func(e *Engine) error {
			_, err := e.CreateSingle(context.Background(), "org-1", handles[models.RoleAdmin], "ben-gone", "USDC", "1", "")
			return err
		}, models.ErrBeneficiaryInactive},
		{"other tenant", true, func(e *Engine) error {
			_, err := e.CreateSingle(context.Background(), "org-1", handles[models.RoleAdmin], "ben-other", "USDC", "1", "")
			return err
		}, models.ErrCrossTenant},
		{"zero amount", true, func(e *Engine) error {
			_, err := e.CreateSingle(context.Background(), "org-1", handles[models.RoleAdmin], "ben-alice", "USDC", "0", "")
			return err
		}, models.ErrInvalidAmount},
		{"exponent amount", true, func(e *Engine) error {
			_, err := e.CreateSingle(context.Background(), "org-1", handles[models.RoleAdmin], "ben-alice", "USDC", "1e3", "")
			return err
		}, models.ErrInvalidAmount},
		{"missing token", true, func(e *Engine) error {
			_, err := e.CreateSingle(context.Background(), "org-1", handles[models.RoleAdmin], "ben-alice", " ", "1", "")
			return err
		}, models.ErrTokenRequired},
		{"empty batch", true, func(e *Engine) error {
			_, err := e.CreateBatch(context.Background(), "org-1", handles[models.RoleAdmin], "USDC", nil, "")
			return err
		}, models.ErrEmptyBatch},
		{"duplicate recipient", true, func(e *Engine) error {
			_, err := e.CreateBatch(context.Background(), "org-1", handles[models.RoleAdmin], "USDC", []models.RecipientInput{
				{BeneficiaryID: "ben-alice", Amount: "1"},
				{BeneficiaryID: "ben-alice", Amount: "2"},
			}, "")
			return err
		}, models.ErrDuplicateBeneficiary},
		{"negative line", true, func(e *Engine) error {
			_, err := e.CreateBatch(context.Background(), "org-1", handles[models.RoleAdmin], "USDC", []models.RecipientInput{
				{BeneficiaryID: "ben-alice", Amount: "1"},
				{BeneficiaryID: "ben-bob", Amount: "-2"},
			}, "")
			return err
		}, models.ErrInvalidAmount},
		{"inactive line", true, func(e *Engine) error {
			_, err := e.CreateBatch(context.Background(), "org-1", handles[models.RoleAdmin], "USDC", []models.RecipientInput{
				{BeneficiaryID: "ben-alice", Amount: "1"},
				{BeneficiaryID: "ben-gone", Amount: "2"},
			}, "")
			return err
		}, models.ErrBeneficiaryInactive},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, models.EnforcementOff, tc.safe)
			err := tc.create(f.eng)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.actions(t))
			assert.Empty(t, f.events.events)
		})
	}
}

func TestUpdateStatusIsPermissive(t *testing.T) {
	f := newFixture(t, models.EnforcementOff, true)
	ctx := context.Background()
	d, err := f.eng.CreateSingle(ctx, "org-1", handles[models.RoleAdmin], "ben-alice", "USDC", "5", "")
	require.NoError(t, err)

	tr, err := f.eng.UpdateStatus(ctx, "org-1", handles[models.RoleApprover], d.ID, models.StatusExecuted, "", "0xfeed")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, tr.PreviousStatus)
	assert.Equal(t, "0xfeed", tr.Disbursement.TxHash)

	tr, err = f.eng.UpdateStatus(ctx, "org-1", handles[models.RoleApprover], d.ID, models.StatusDraft, "0xsafe", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, tr.PreviousStatus)
	assert.Equal(t, "0xfeed", tr.Disbursement.TxHash)
	assert.Equal(t, "0xsafe", tr.Disbursement.SafeTxHash)

	assert.Equal(t, []string{"disbursement.draft", "disbursement.executed", models.ActionDisbursementCreated}, f.actions(t))
	require.Len(t, f.events.events, 3)
	assert.Equal(t, "id-approver", f.events.events[2].ActorID)
}

func TestUpdateStatusRejections(t *testing.T) {
	f := newFixture(t, models.EnforcementOff, true)
	ctx := context.Background()
	d, err := f.eng.CreateSingle(ctx, "org-1", handles[models.RoleAdmin], "ben-alice", "USDC", "5", "")
	require.NoError(t, err)

	_, err = f.eng.UpdateStatus(ctx, "org-1", handles[models.RoleAdmin], d.ID, "approved", "", "")
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
	_, err = f.eng.UpdateStatus(ctx, "org-1", handles[models.RoleViewer], d.ID, models.StatusCancelled, "", "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.eng.UpdateStatus(ctx, "org-1", handles[models.RoleAdmin], "missing", models.StatusCancelled, "", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.eng.Get(ctx, "org-1", handles[models.RoleViewer], d.ID)
	assert.NoError(t, err)
}

func TestScreeningBlockVersusOff(t *testing.T) {
	for _, tc := range []struct {
		mode    models.ScreeningEnforcement
		blocked bool
	}{
		{models.EnforcementBlock, true},
		{models.EnforcementWarn, false},
		{models.EnforcementOff, false},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			f := newFixture(t, tc.mode, true)
			ctx := context.Background()
			d, err := f.eng.CreateBatch(ctx, "org-1", handles[models.RoleAdmin], "USDC", []models.RecipientInput{
				{BeneficiaryID: "ben-bob", Amount: "1"},
				{BeneficiaryID: "ben-alice", Amount: "2"},
			}, "")
			require.NoError(t, err)
			_, err = f.scr.Ingest(ctx, "org-1", "ben-alice", models.ScreeningPotentialMatch, "ALICE")
			require.NoError(t, err)

			tr, err := f.eng.UpdateStatus(ctx, "org-1", handles[models.RoleAdmin], d.ID, models.StatusProposed, "0xabc", "")
			if tc.blocked {
				require.ErrorIs(t, err, models.ErrComplianceBlock)
				assert.Contains(t, err.Error(), "Alice")
				got, err := f.eng.Get(ctx, "org-1", handles[models.RoleAdmin], d.ID)
				require.NoError(t, err)
				assert.Equal(t, models.StatusDraft, got.Status)
				assert.Empty(t, got.SafeTxHash)
				assert.Equal(t, []string{models.ActionDisbursementCreated}, f.actions(t))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.StatusProposed, tr.Disbursement.Status)
			if tc.mode == models.EnforcementWarn {
				require.Len(t, tr.Warnings, 1)
				assert.Equal(t, "ben-alice", tr.Warnings[0].BeneficiaryID)
			} else {
				assert.Empty(t, tr.Warnings)
			}
		})
	}
}

func TestScreeningOnlyGatesInFlightStatuses(t *testing.T) {
	f := newFixture(t, models.EnforcementBlock, true)
	ctx := context.Background()
	d, err := f.eng.CreateSingle(ctx, "org-1", handles[models.RoleAdmin], "ben-alice", "USDC", "5", "")
	require.NoError(t, err)
	_, err = f.scr.Ingest(ctx, "org-1", "ben-alice", models.ScreeningConfirmedMatch, "")
	require.NoError(t, err)

	_, err = f.eng.UpdateStatus(ctx, "org-1", handles[models.RoleAdmin], d.ID, models.StatusPending, "", "")
	require.ErrorIs(t, err, models.ErrComplianceBlock)
	_, err = f.eng.UpdateStatus(ctx, "org-1", handles[models.RoleAdmin], d.ID, models.StatusCancelled, "", "")
	require.NoError(t, err)
}

func TestAccessCheckedBeforeInput(t *testing.T) {
	f := newFixture(t, models.EnforcementOff, true)
	ctx := context.Background()
	d, err := f.eng.CreateSingle(ctx, "org-1", handles[models.RoleAdmin], "ben-alice", "USDC", "5", "")
	require.NoError(t, err)
	before := len(f.actions(t))

	_, err = f.eng.UpdateStatus(ctx, "org-2", handles[models.RoleAdmin], d.ID, "bogus", "", "")
	assert.ErrorIs(t, err, models.ErrNotAMember)
	_, err = f.eng.UpdateStatus(ctx, "org-1", handles[models.RoleViewer], d.ID, "bogus", "", "")
	assert.ErrorIs(t, err, models.ErrInsufficientRole)
	_, err = f.eng.List(ctx, "org-2", handles[models.RoleViewer], Query{Sort: "nope"})
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.eng.CreateSingle(ctx, "org-2", handles[models.RoleAdmin], "ben-other", "USDC", "-1", "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = f.eng.CreateBatch(ctx, "org-2", handles[models.RoleAdmin], "USDC", nil, "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	assert.Len(t, f.actions(t), before)
}
