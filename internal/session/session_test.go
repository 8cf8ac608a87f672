package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Frozertiru-gif/Kina/internal/prefs"
)

func TestSession_TokenLifecycle(t *testing.T) {
	ctx := context.Background()
	store := prefs.NewMemory()
	require.NoError(t, store.Set(ctx, prefs.KeyAccessToken, "persisted"))

	s, err := New(ctx, store, " 42 ")
	require.NoError(t, err)
	assert.Equal(t, "persisted", s.Token())
	assert.Equal(t, "42", s.DevUserID())

	require.NoError(t, s.SetToken(ctx, "fresh"))
	v, err := store.Get(ctx, prefs.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	require.NoError(t, s.ClearToken(ctx))
	assert.Empty(t, s.Token())
	_, err = store.Get(ctx, prefs.KeyAccessToken)
	assert.ErrorIs(t, err, prefs.ErrNotFound)
}

func TestSession_UserIsSupersededNotMerged(t *testing.T) {
	s, err := New(context.Background(), prefs.NewMemory(), "")
	require.NoError(t, err)
	assert.Nil(t, s.User())

	until := time.Now().Add(time.Hour)
	s.SetUser(&User{ID: 1, TgUserID: 100, Username: "first", PremiumUntil: &until})
	s.SetUser(&User{ID: 1, TgUserID: 100})

	u := s.User()
	require.NotNil(t, u)
	assert.Empty(t, u.Username)
	assert.False(t, u.PremiumActive(time.Now()))
}

func TestSession_Referral(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, prefs.NewMemory(), "")
	require.NoError(t, err)

	require.NoError(t, s.RememberReferral(ctx, "AAA"))
	require.NoError(t, s.RememberReferral(ctx, "BBB"))
	code, err := s.PendingReferral(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AAA", code, "first pending code wins")

	require.NoError(t, s.ClearReferral(ctx))
	code, err = s.PendingReferral(ctx)
	require.NoError(t, err)
	assert.Empty(t, code)
}
