package processor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/time-capsule/pkg/redis"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redis.NewFromClient(client, "test:")
}

func TestDeliveryLock_Exclusive(t *testing.T) {
	_, adapter := setupRedis(t)
	lock := NewDeliveryLock(adapter, DefaultLockConfig())
	ctx := context.Background()

	lease, err := lock.Acquire(ctx, "deliver_capsule_email:1:2")
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "deliver_capsule_email:1:2")
	assert.ErrorIs(t, err, ErrLocked)

	other, err := lock.Acquire(ctx, "deliver_capsule_email:1:3")
	require.NoError(t, err)
	require.NotNil(t, other)

	released, err := lock.Release(ctx, lease)
	require.NoError(t, err)
	assert.True(t, released)

	_, err = lock.Acquire(ctx, "deliver_capsule_email:1:2")
	assert.NoError(t, err)
}

func TestDeliveryLock_ExpiredLeaseDoesNotReleaseNewHolder(t *testing.T) {
	mr, adapter := setupRedis(t)
	lock := NewDeliveryLock(adapter, LockConfig{TTL: time.Second, KeyPrefix: "lock:"})
	ctx := context.Background()

	stale, err := lock.Acquire(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := lock.Acquire(ctx, "k")
	require.NoError(t, err)

	released, err := lock.Release(ctx, stale)
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("test:lock:k"))

	released, err = lock.Release(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("test:lock:k"))
}

func TestDeliveryLock_ReleaseNil(t *testing.T) {
	_, adapter := setupRedis(t)
	released, err := NewDeliveryLock(adapter, LockConfig{}).Release(context.Background(), nil)
	assert.NoError(t, err)
	assert.False(t, released)
}
