package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "a", "1"))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSetNX(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", "one")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", "two")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := s.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, "one", v)

	require.NoError(t, s.Delete(ctx, "lock"))
	ok, err = s.SetNX(ctx, "lock", "two")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreKeysPrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "mapping:a", "x"))
	require.NoError(t, s.Set(ctx, "mapping:b", "y"))
	require.NoError(t, s.Set(ctx, "guard:a", "z"))

	keys, err := s.Keys(ctx, "mapping:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mapping:a", "mapping:b"}, keys)

	keys, err = s.Keys(ctx, "other:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
