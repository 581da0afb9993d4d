package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guarantees that no two evaluations of the same alert id overlap.
// TryLock never blocks on a held lock; ok is false instead.
type Locker interface {
	TryLock(ctx context.Context, id int64) (unlock func(), ok bool, err error)
}

// LocalLocker is an in-process keyed lock.
type LocalLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[int64]struct{})}
}

func (l *LocalLocker) TryLock(_ context.Context, id int64) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[id]; busy {
		return nil, false, nil
	}
	l.held[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, true, nil
}

// Deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Extends the key only while it still holds the caller's token.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker shares alert locks between monitor instances with SET NX PX.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker builds a lock whose keys expire after ttl, bounding how
// long a crashed holder can block an alert. A held lock is extended every
// ttl/3 until it is released.
func NewRedisLocker(rdb *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "alert-lock:"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, id int64) (func(), bool, error) {
	key := fmt.Sprintf("%s%d", l.prefix, id)
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	go keepAlive(stop, l.ttl/3, func() (bool, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := extendScript.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
		return n == 1, err
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			releaseScript.Run(ctx, l.rdb, []string{key}, token)
		})
	}, true, nil
}

// keepAlive calls extend every period until stop is closed or extend
// reports the lock is no longer held. Transient errors are retried on the
// next tick.
func keepAlive(stop <-chan struct{}, period time.Duration, extend func() (bool, error)) {
	if period <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			held, err := extend()
			if err == nil && !held {
				return
			}
		}
	}
}
