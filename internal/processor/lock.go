package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimasrn/time-capsule/pkg/redis"
)

var ErrLocked = errors.New("delivery already in progress")

// releaseScript deletes the lock only while it still carries our token, so a
// lease that outlived its TTL never drops a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type LockConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:       5 * time.Minute,
		KeyPrefix: "lock:",
	}
}

// DeliveryLock serializes attempts for one (capsule, recipient) pair across
// every processor instance.
type DeliveryLock struct {
	redis  redis.RedisAdapter
	config LockConfig
}

func NewDeliveryLock(adapter redis.RedisAdapter, config LockConfig) *DeliveryLock {
	if config.TTL <= 0 {
		config.TTL = DefaultLockConfig().TTL
	}
	return &DeliveryLock{redis: adapter, config: config}
}

type Lease struct {
	key   string
	token string
}

func (l *DeliveryLock) Acquire(ctx context.Context, key string) (*Lease, error) {
	lease := &Lease{key: l.config.KeyPrefix + key, token: uuid.NewString()}

	ok, err := l.redis.SetNX(ctx, lease.key, []byte(lease.token), l.config.TTL)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	return lease, nil
}

// Release reports whether the lease still held the lock.
func (l *DeliveryLock) Release(ctx context.Context, lease *Lease) (bool, error) {
	if lease == nil {
		return false, nil
	}
	n, err := l.redis.Eval(ctx, releaseScript, []string{lease.key}, lease.token)
	if err != nil {
		return false, err
	}
	deleted, _ := n.(int64)
	return deleted == 1, nil
}
