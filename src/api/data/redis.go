package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	streamEvents   = "stakegate.events"
	mutexPrefix    = "mutex:"
	cachePrefix    = "cache:"
	ratePrefix     = "rate:"
	streamMaxLenAp = 100000
)

// ErrMutexHeld is returned when another process holds a named mutex.
var ErrMutexHeld = errors.New("mutex held elsewhere")

func ConnectRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return redis.NewClient(opt), nil
}

// PublishEvent appends an event to the service stream. A nil client is a
// no-op so that engines can run without redis.
func PublishEvent(ctx context.Context, rdb *redis.Client, kind string, payload map[string]interface{}) error {
	if rdb == nil {
		return nil
	}
	values := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		values[k] = v
	}
	values["kind"] = kind
	values["time"] = time.Now().Unix()
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamEvents,
		MaxLen: streamMaxLenAp,
		Approx: true,
		Values: values,
	}).Result()
	return err
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// AcquireMutex takes a named lease for ttl. The returned release func only
// deletes the key while this caller still owns it.
func AcquireMutex(ctx context.Context, rdb *redis.Client, name string, ttl time.Duration) (func(), error) {
	if rdb == nil {
		return func() {}, nil
	}
	key := mutexPrefix + name
	owner := uuid.NewString()
	ok, err := rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrMutexHeld
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, rdb, []string{key}, owner).Err()
	}, nil
}

// CacheGet returns the cached bytes for key, or ok=false on miss or error.
func CacheGet(ctx context.Context, rdb *redis.Client, key string) ([]byte, bool) {
	if rdb == nil {
		return nil, false
	}
	b, err := rdb.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func CacheSet(ctx context.Context, rdb *redis.Client, key string, val []byte, ttl time.Duration) error {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	return rdb.Set(ctx, cachePrefix+key, val, ttl).Err()
}

// HitRate counts one request for key in the current fixed window and
// returns the count so far.
func HitRate(ctx context.Context, rdb *redis.Client, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("rate window must be positive, got %v", window)
	}
	bucket := time.Now().UnixNano() / int64(window)
	k := fmt.Sprintf("%s%s:%d", ratePrefix, key, bucket)
	pipe := rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
