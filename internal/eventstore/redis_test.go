package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedisStore(t *testing.T) *RedisStore {
	store, err := NewRedisStore("localhost:6379", "", 1, time.Hour, zap.NewNop()) // DB 1 for testing
	if err != nil {
		t.Skip("Redis not available, skipping test")
	}
	return store
}

func TestRedisStore_RecordAndCount(t *testing.T) {
	store := setupRedisStore(t)
	defer store.Close()

	ctx := context.Background()
	ip := "192.0.2." + time.Now().Format("150405")
	now := time.Now().Truncate(time.Millisecond)

	first := failedLogin(ip, now)
	require.NoError(t, store.Record(ctx, first))
	require.NoError(t, store.Record(ctx, failedLogin(ip, now.Add(time.Second))))
	require.NoError(t, store.Record(ctx, failedLogin(ip, now.Add(-10*time.Minute))))

	q := Query{Index: IndexFailedLoginBySource, Key: ip, From: now.Add(-5 * time.Minute), To: now.Add(time.Minute)}

	count, err := store.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	q.ExcludeID = first.ID
	count, err = store.Count(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
