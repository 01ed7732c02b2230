package counters

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewStoreWithClient(client)
}

func TestStore_IncrementAccumulates(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	// N single increments with no reset leave the counter at N.
	for i := 1; i <= 7; i++ {
		v, err := store.Increment(ctx, "tenant-a", "rule-1", "10.0.0.5", 1, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), v)
	}

	v, err := store.Count(ctx, "tenant-a", "rule-1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
}

func TestStore_IncrementRefreshesTTL(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "tenant-a", "rule-1", "10.0.0.5", 3, 60*time.Second)
	require.NoError(t, err)

	// Half the window passes; another increment must push expiry back out.
	mr.FastForward(30 * time.Second)
	_, err = store.Increment(ctx, "tenant-a", "rule-1", "10.0.0.5", 1, 60*time.Second)
	require.NoError(t, err)

	mr.FastForward(45 * time.Second)
	v, err := store.Count(ctx, "tenant-a", "rule-1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, int64(4), v, "counter should survive: TTL was refreshed")

	mr.FastForward(61 * time.Second)
	v, err = store.Count(ctx, "tenant-a", "rule-1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "counter should expire after a quiet window")
}

func TestStore_CountersAreIndependent(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "tenant-a", "rule-1", "10.0.0.5", 2, time.Minute)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "tenant-a", "rule-2", "10.0.0.5", 5, time.Minute)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "tenant-b", "rule-1", "10.0.0.5", 9, time.Minute)
	require.NoError(t, err)

	v, err := store.Count(ctx, "tenant-a", "rule-1", "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestStore_TryMarkAlertedClaimsOnce(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	claimed, err := store.TryMarkAlerted(ctx, "tenant-a", "rule-1", "bob", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "first claim wins")

	claimed, err = store.TryMarkAlerted(ctx, "tenant-a", "rule-1", "bob", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim loses while the marker lives")

	alerted, err := store.IsAlerted(ctx, "tenant-a", "rule-1", "bob")
	require.NoError(t, err)
	assert.True(t, alerted)
}

func TestStore_ClearAlertedReleasesClaim(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	claimed, err := store.TryMarkAlerted(ctx, "tenant-a", "rule-1", "bob", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.ClearAlerted(ctx, "tenant-a", "rule-1", "bob"))

	claimed, err = store.TryMarkAlerted(ctx, "tenant-a", "rule-1", "bob", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed, "released marker can be claimed again")
}

func TestStore_ClearCounter(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "tenant-a", "rule-1", "bob", 6, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.ClearCounter(ctx, "tenant-a", "rule-1", "bob"))

	v, err := store.Count(ctx, "tenant-a", "rule-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "next breach requires reaccumulation")
}

func TestStore_AlertedMarkerExpires(t *testing.T) {
	mr, store := setupTestRedis(t)
	ctx := context.Background()

	claimed, err := store.TryMarkAlerted(ctx, "tenant-a", "rule-1", "bob", 30*time.Second)
	require.NoError(t, err)
	require.True(t, claimed)

	mr.FastForward(31 * time.Second)
	alerted, err := store.IsAlerted(ctx, "tenant-a", "rule-1", "bob")
	require.NoError(t, err)
	assert.False(t, alerted)

	claimed, err = store.TryMarkAlerted(ctx, "tenant-a", "rule-1", "bob", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, claimed, "expired marker can be claimed again")
}

func TestStore_ResetClearsEverything(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	_, err := store.Increment(ctx, "tenant-a", "rule-1", "bob", 4, time.Minute)
	require.NoError(t, err)
	claimed, err := store.TryMarkAlerted(ctx, "tenant-a", "rule-1", "bob", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.Reset(ctx, "tenant-a", "rule-1", "bob"))

	v, err := store.Count(ctx, "tenant-a", "rule-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	alerted, err := store.IsAlerted(ctx, "tenant-a", "rule-1", "bob")
	require.NoError(t, err)
	assert.False(t, alerted)
}
