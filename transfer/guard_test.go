package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstore/vstore/common/kv"
)

func TestGuardAtMostOneClaim(t *testing.T) {
	ctx := context.Background()
	g := NewUploadGuard(kv.NewMemoryStore())

	ok, err := g.Acquire(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := g.Acquire(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, again, "second claim must be refused")

	held, err := g.Held(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, g.Release(ctx, "f1"))
	held, err = g.Held(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, held)

	ok, err = g.Acquire(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok, "released claims can be taken again")
}

func TestGuardReleaseUnclaimed(t *testing.T) {
	g := NewUploadGuard(kv.NewMemoryStore())
	assert.NoError(t, g.Release(context.Background(), "ghost"))
}

func TestGuardPrefixesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	up := NewUploadGuard(store)
	down := NewDownloadGuard(store)

	ok, err := up.Acquire(ctx, "f1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = down.Acquire(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, ok, "upload and download claims do not collide")

	inflight, err := up.InFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, inflight)
}
