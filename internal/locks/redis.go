package locks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okapigames/farpoint-backend/internal/logger"
	"github.com/okapigames/farpoint-backend/internal/utils"
)

// redisManager backs named locks with SET NX PX. The TTL is a liveness
// guard: a crashed holder frees the lock after holdTTL.
type redisManager struct {
	client  *redis.Client
	log     *logger.Logger
	holdTTL time.Duration
	poll    time.Duration
}

func NewRedisManager(client *redis.Client, log *logger.Logger) Manager {
	return &redisManager{
		client:  client,
		log:     log.With("component", "LockManager"),
		holdTTL: 10 * time.Minute,
		poll:    250 * time.Millisecond,
	}
}

func NewRedisClientFromEnv(log *logger.Logger) *redis.Client {
	addr := utils.GetEnv("REDIS_ADDR", "localhost:6379", log)
	password := utils.GetEnv("REDIS_PASSWORD", "", nil)
	return redis.NewClient(&redis.Options{Addr: addr, Password: password})
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

func (m *redisManager) Acquire(ctx context.Context, name string, wait time.Duration) (Release, error) {
	key := "lock:" + name
	token := uuid.NewString()

	try := func() (bool, error) {
		return m.client.SetNX(ctx, key, token, m.holdTTL).Result()
	}

	ok, err := try()
	if err != nil {
		return nil, err
	}
	if !ok {
		if wait <= 0 {
			return nil, ErrAlreadyLocked
		}
		deadline := time.Now().Add(wait)
		ticker := time.NewTicker(m.poll)
		defer ticker.Stop()
		for !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
				if time.Now().After(deadline) {
					return nil, ErrLockTimeout
				}
				ok, err = try()
				if err != nil {
					return nil, err
				}
			}
		}
	}

	release := func() {
		// Token-checked delete so an expired-and-reacquired lock is
		// never released by the old holder.
		if _, err := releaseScript.Run(context.Background(), m.client, []string{key}, token).Result(); err != nil {
			m.log.Warn("Lock release failed", "lock", name, "error", err)
		}
	}
	return release, nil
}
