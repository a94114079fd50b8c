package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWindowScript increments a counter and arms its expiry only when the
// increment created it. Running it as one script keeps a crash between the
// two commands from leaving an immortal counter.
var incrWindowScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return c
`)

// RedisStore implements Store on Redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedis parses a redis:// URL, connects and pings.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kvstore: parse redis url: %w", err)
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 50 * time.Millisecond
	opts.WriteTimeout = 50 * time.Millisecond

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	// SET key value NX PX ttl: a single command, so two concurrent callers
	// can never both see "not set".
	res, err := s.client.SetArgs(ctx, key, value, redis.SetArgs{Mode: "NX", TTL: ttl}).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kvstore: setnx %s: %w", key, err)
	}
	return res == "OK", nil
}

func (s *RedisStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := incrWindowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("kvstore: incr window %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) IncrBy(ctx context.Context, delta int64, ttl time.Duration, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.IncrBy(ctx, k, delta)
			p.PExpire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvstore: incrby: %w", err)
	}
	return nil
}

func (s *RedisStore) Sum(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("kvstore: mget: %w", err)
	}
	var total int64
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // nil for missing keys
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("kvstore: incr %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) PushTrim(ctx context.Context, key string, value []byte, max int) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, value)
		p.LTrim(ctx, key, 0, int64(max-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvstore: push %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Range(ctx context.Context, key string, limit int) ([][]byte, error) {
	if limit <= 0 {
		return nil, nil
	}
	vals, err := s.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: lrange %s: %w", key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
