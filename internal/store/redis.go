package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis parses url, opens a client and checks it with a PING.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("INFO: connected to redis at %s", opt.Addr)
	return client, nil
}

type redisRecord[V any] struct {
	Value     V         `json:"value"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// RedisPersister mirrors query results into Redis as JSON so a restarted
// process can hydrate its caches. Keys are "<prefix><query key>".
type RedisPersister[V any] struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisPersister creates a persister. A ttl of zero keeps records forever.
func NewRedisPersister[V any](client redis.Cmdable, prefix string, ttl time.Duration) *RedisPersister[V] {
	return &RedisPersister[V]{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Load returns the stored value for key. ok is false when nothing is stored.
func (p *RedisPersister[V]) Load(ctx context.Context, key string) (V, time.Time, bool, error) {
	var zero V

	raw, err := p.client.Get(ctx, p.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, time.Time{}, false, nil
	}
	if err != nil {
		return zero, time.Time{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var rec redisRecord[V]
	if err := json.Unmarshal(raw, &rec); err != nil {
		return zero, time.Time{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec.Value, rec.FetchedAt, true, nil
}

// Save stores value together with the time it was fetched.
func (p *RedisPersister[V]) Save(ctx context.Context, key string, value V, fetchedAt time.Time) error {
	raw, err := json.Marshal(redisRecord[V]{Value: value, FetchedAt: fetchedAt})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.client.Set(ctx, p.prefix+key, raw, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
