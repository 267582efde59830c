package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const metaCreatedAt = "created_at"

// RedisBackend implements Backend on Redis. A session is a list at
// <prefix><id> plus a hash at <prefix><id>:meta; both carry the same TTL and
// Redis expires them natively.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a backend using an existing client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

// OpenRedis connects to the Redis server at url and checks it is reachable.
func OpenRedis(ctx context.Context, url, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewRedisBackend(client, prefix), nil
}

func (b *RedisBackend) keys(id string) (log, meta string) {
	log = b.prefix + id
	return log, log + ":meta"
}

// Meta implements Backend.
func (b *RedisBackend) Meta(ctx context.Context, id string) (time.Time, bool, error) {
	_, meta := b.keys(id)
	v, err := b.client.HGet(ctx, meta, metaCreatedAt).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("reading session metadata: %w", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// Metadata written by another deployment; the session still exists.
		return time.Time{}, true, nil
	}
	return time.UnixMilli(ms), true, nil
}

// Init implements Backend.
func (b *RedisBackend) Init(ctx context.Context, id string, createdAt time.Time, ttl time.Duration) error {
	log, meta := b.keys(id)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, meta, metaCreatedAt, strconv.FormatInt(createdAt.UnixMilli(), 10))
		pipe.Expire(ctx, meta, ttl)
		pipe.Expire(ctx, log, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}
	return nil
}

// Touch implements Backend.
func (b *RedisBackend) Touch(ctx context.Context, id string, ttl time.Duration) error {
	log, meta := b.keys(id)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Expire(ctx, log, ttl)
		pipe.Expire(ctx, meta, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("refreshing session expiry: %w", err)
	}
	return nil
}

// Push implements Backend.
func (b *RedisBackend) Push(ctx context.Context, id, entry string, ttl time.Duration) (int, error) {
	log, meta := b.keys(id)
	var length *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		length = pipe.RPush(ctx, log, entry)
		pipe.Expire(ctx, log, ttl)
		pipe.Expire(ctx, meta, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("appending message: %w", err)
	}
	return int(length.Val()), nil
}

// Tail implements Backend.
func (b *RedisBackend) Tail(ctx context.Context, id string, limit int) ([]string, error) {
	log, _ := b.keys(id)
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	out, err := b.client.LRange(ctx, log, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	return out, nil
}

// Replace implements Backend.
func (b *RedisBackend) Replace(ctx context.Context, id string, entries []string, ttl time.Duration) error {
	log, meta := b.keys(id)
	values := make([]any, len(entries))
	for i, e := range entries {
		values[i] = e
	}

	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, log)
		if len(values) > 0 {
			pipe.RPush(ctx, log, values...)
		}
		pipe.Expire(ctx, log, ttl)
		pipe.Expire(ctx, meta, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing messages: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	log, meta := b.keys(id)
	if err := b.client.Del(ctx, log, meta).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// TTL implements Backend. The log key is authoritative; a session that has
// metadata but no entries yet reports the metadata TTL.
func (b *RedisBackend) TTL(ctx context.Context, id string) (time.Duration, error) {
	log, meta := b.keys(id)
	for _, key := range []string{log, meta} {
		d, err := b.client.PTTL(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("reading session expiry: %w", err)
		}
		if d > 0 {
			return d, nil
		}
	}
	return 0, nil
}

// Prune implements Backend. Redis expires keys itself.
func (b *RedisBackend) Prune(context.Context) (int, error) {
	return 0, nil
}

// Close closes the client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
