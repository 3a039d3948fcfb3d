package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKV_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	kv := NewKV()
	a := kv.Namespace("a")
	b := kv.Factory()("b")

	require.NoError(t, a.Set(ctx, "access_token", "one"))
	require.NoError(t, b.SetMany(ctx, map[string]string{"access_token": "two", "user": "{}"}))

	v, found, err := a.Get(ctx, "access_token")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "one", v)

	require.NoError(t, a.Clear(ctx))
	_, found, _ = a.Get(ctx, "access_token")
	assert.False(t, found)

	v, found, _ = b.Get(ctx, "access_token")
	assert.True(t, found)
	assert.Equal(t, "two", v)

	require.NoError(t, b.Delete(ctx, "access_token", "missing"))
	_, found, _ = b.Get(ctx, "access_token")
	assert.False(t, found)
	_, found, _ = b.Get(ctx, "user")
	assert.True(t, found)
}

func TestKV_SetManyRemovesInSameStep(t *testing.T) {
	ctx := context.Background()
	s := NewKV().Namespace("a")
	require.NoError(t, s.SetMany(ctx, map[string]string{"access_token": "old", "refresh_token": "r", "token_expiry": "1"}))

	require.NoError(t, s.SetMany(ctx, map[string]string{"access_token": "new"}, "refresh_token", "token_expiry"))

	v, _, _ := s.Get(ctx, "access_token")
	assert.Equal(t, "new", v)
	for _, key := range []string{"refresh_token", "token_expiry"} {
		_, found, _ := s.Get(ctx, key)
		assert.False(t, found, key)
	}
}
