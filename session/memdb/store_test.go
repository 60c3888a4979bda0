package memdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keyshard/keyshard/session"
)

func TestMemDBStore(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, session.ErrNoSessionStored)

	sess := &session.Session{ID: "a", Threshold: 0, Complete: false}
	require.NoError(t, store.Put(ctx, sess))

	// the store holds a copy, not the caller's pointer
	sess.Complete = true
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, got.Complete)

	require.NoError(t, store.Put(ctx, sess))
	got, err = store.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, got.Complete)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, store.Del(ctx, "a"))
	_, err = store.Get(ctx, "a")
	require.ErrorIs(t, err, session.ErrNoSessionStored)
	require.NoError(t, store.Close())
}
