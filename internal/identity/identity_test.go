package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
	"disbursa.org/internal/store/memstore"
)

const handle = "0x52908400098527886E0F7030069857D2E4169EE7"

func TestResolveCreatesOnceAndNormalizes(t *testing.T) {
	svc := NewService(memstore.New(), NewResolver())
	ctx := context.Background()

	first, err := svc.Resolve(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "0x52908400098527886e0f7030069857d2e4169ee7", first.Handle)

	second, err := svc.Resolve(ctx, "  "+first.Handle+" ")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestResolveInViewDoesNotCreate(t *testing.T) {
	st := memstore.New()
	r := NewResolver()
	err := st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := r.Resolve(ctx, tx, handle)
		return err
	})
	assert.ErrorIs(t, err, models.ErrUnknownIdentity)
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
}

func TestUpdateProfile(t *testing.T) {
	svc := NewService(memstore.New(), NewResolver())
	ctx := context.Background()

	_, err := svc.UpdateProfile(ctx, handle, models.ProfileUpdate{})
	require.ErrorIs(t, err, models.ErrUnknownIdentity)

	_, err = svc.Resolve(ctx, handle)
	require.NoError(t, err)

	email, theme := "ops@example.com", "dark"
	got, err := svc.UpdateProfile(ctx, handle, models.ProfileUpdate{Email: &email, Theme: &theme})
	require.NoError(t, err)
	assert.Equal(t, email, got.Email)
	assert.Equal(t, theme, got.Theme)
	assert.Empty(t, got.Locale)
}
