package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker provides cluster-wide mutual exclusion per command name. The
// orchestrator always serializes in-process; a Locker is taken inside that.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

var ErrLockTimeout = errors.New("deployment lock wait timed out")

// redisReleaseScript deletes the lock only when it still holds our token.
// KEYS[1] = lock key
// ARGV[1] = token
var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisExtendScript pushes the lease expiry back while it holds our token.
// KEYS[1] = lock key
// ARGV[1] = token
// ARGV[2] = ttl in milliseconds
var redisExtendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX. A held lease is renewed every
// third of its ttl until unlocked, so a deployment may outlast the ttl; the
// ttl only bounds how long a crashed holder blocks others.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewRedisLocker creates a locker on the given server. The lease expires after
// ttl if the holder dies; Lock gives up after wait.
func NewRedisLocker(addr, password string, db int, ttl, wait time.Duration) *RedisLocker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisLockerWithClient(rdb, ttl, wait)
}

func NewRedisLockerWithClient(client redis.UniversalClient, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if wait <= 0 {
		wait = ttl
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  100 * time.Millisecond,
		logger: slog.Default().With("component", "deploy-lock"),
	}
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Lock(ctx context.Context, name string) (func(), error) {
	key := fmt.Sprintf("cmdkit:deploy:%s", name)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock error: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, name)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.renew(context.WithoutCancel(ctx), key, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped
			// Release even when the caller's context is already done.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = redisReleaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}, nil
}

// renew extends the lease until stop is closed or the lease is lost.
func (l *RedisLocker) renew(ctx context.Context, key, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := redisExtendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			if err != nil {
				l.logger.WarnContext(ctx, "failed to renew deployment lock", "key", key, "error", err)
				continue
			}
			if n == 0 {
				l.logger.ErrorContext(ctx, "deployment lock lost", "key", key)
				return
			}
		}
	}
}
