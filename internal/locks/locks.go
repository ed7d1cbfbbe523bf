package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kanon/internal/title"
)

// releaseScript deletes the lock key only when the caller still holds it, so
// an expired-and-reacquired lock is never released by the old holder.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is the distributed lock used to serialize canonicalization of the
// same normalized title across scrape workers.
type Locker struct {
	rdb    *goredis.Client
	logger zerolog.Logger
}

func NewLocker(addr string, logger zerolog.Logger) (*Locker, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Locker{rdb: rdb, logger: logger}, nil
}

func (l *Locker) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}

// Acquire takes the lock for key with the given TTL. Returns the release
// token, or ok=false when another holder owns the key.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.rdb == nil {
		return "", false, fmt.Errorf("locker is not initialized")
	}

	token := uuid.NewString()
	acquired, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if the token still owns it. Releasing an expired
// lock is not an error; the TTL already did the work.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.rdb == nil {
		return fmt.Errorf("locker is not initialized")
	}

	if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// TitleLockKey derives the canonicalization lock key for a raw title. Two
// spellings of the same work map to the same key.
func TitleLockKey(rawTitle string) string {
	return "kanon:lock:title:" + title.Normalize(rawTitle)
}

// Redis exposes the underlying client for collaborators sharing the
// connection (event bus).
func (l *Locker) Redis() *goredis.Client {
	if l == nil {
		return nil
	}
	return l.rdb
}
