package session

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lucke514/ImageConverter/internal/domain/batch"
	"github.com/Lucke514/ImageConverter/internal/domain/image"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{TTL: time.Second, GCInterval: 10 * time.Millisecond})
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	sess := store.Create(ctx)
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, 1, store.Len())

	got, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	store.Remove(ctx, sess.ID)
	_, err = store.Get(ctx, sess.ID)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrNotFound))
}

func TestStoreExpiration(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(Config{TTL: 30 * time.Millisecond, GCInterval: 5 * time.Millisecond})
	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	idle := store.Create(ctx)
	busy := store.Create(ctx)
	_, err := busy.Begin(ctx)
	require.NoError(t, err)

	// Len does not touch sessions, so polling it leaves the idle TTL alone.
	require.Eventually(t, func() bool {
		return store.Len() == 1
	}, time.Second, 5*time.Millisecond)

	_, err = store.Get(ctx, idle.ID)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrNotFound))

	_, err = store.Get(ctx, busy.ID)
	assert.NoError(t, err)
}

func TestSessionItems(t *testing.T) {
	sess := newSession(time.Minute)
	a := batch.NewItem(image.SourceImage{Name: "a.png", MediaType: "image/png"})
	b := batch.NewItem(image.SourceImage{Name: "b.png", MediaType: "image/png"})
	sess.Add(a, b)

	views := sess.Views()
	require.Len(t, views, 2)
	assert.Equal(t, "a.png", views[0].Name)

	require.NoError(t, sess.Remove(a.ID))
	assert.Len(t, sess.Items(), 1)

	err := sess.Remove("missing")
	assert.True(t, stderrors.Is(err, ErrItemNotFound))
}

func TestSessionRunGuard(t *testing.T) {
	sess := newSession(time.Minute)
	item := batch.NewItem(image.SourceImage{Name: "a.png"})
	sess.Add(item)

	assert.False(t, sess.Cancel())

	ctx, err := sess.Begin(context.Background())
	require.NoError(t, err)
	assert.True(t, sess.Running())

	_, err = sess.Begin(context.Background())
	assert.True(t, stderrors.Is(err, ErrBusy))
	assert.True(t, stderrors.Is(sess.Remove(item.ID), ErrBusy))

	assert.True(t, sess.Cancel())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	arch := &batch.Archive{FileName: "converted_images.zip"}
	sess.End(arch)
	assert.False(t, sess.Running())
	assert.Same(t, arch, sess.Archive())

	sess.End(nil)
	assert.Same(t, arch, sess.Archive())
}
