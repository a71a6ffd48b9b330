//go:build integration

package sysparam

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escorte/pkg/testutil/containers"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	store := NewPostgres(pc.DB)
	svc := New(store)
	ctx := context.Background()

	require.NoError(t, svc.SetChiefs(ctx, Parameters{ChefBureauID: 7, ChefSectionID: 9}))
	// Upsert: a second write overwrites.
	require.NoError(t, svc.SetChiefs(ctx, Parameters{ChefBureauID: 11, ChefSectionID: 9}))

	bureau, section, err := svc.Chiefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), bureau)
	assert.Equal(t, int64(9), section)
}

func TestRedisCacheServesReadsAndInvalidates(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	store := NewInMemoryStore()
	svc := New(store, WithCache(rc.Client, time.Minute))
	ctx := context.Background()

	require.NoError(t, svc.SetChiefs(ctx, Parameters{ChefBureauID: 7, ChefSectionID: 9}))

	// First read fills the cache.
	bureau, _, err := svc.Chiefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), bureau)
	keys, err := rc.Client.Keys(ctx, "escorte:sysparam:*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	// A direct store write without invalidation is invisible while cached.
	require.NoError(t, store.Set(ctx, KeyChefBureau, 100))
	bureau, _, err = svc.Chiefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), bureau)

	// SetChiefs drops the cache entry, so the next read sees fresh values.
	require.NoError(t, svc.SetChiefs(ctx, Parameters{ChefBureauID: 21, ChefSectionID: 22}))
	bureau, section, err := svc.Chiefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(21), bureau)
	assert.Equal(t, int64(22), section)
}
