package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helioquant/horizon/internal/domain"
)

// Redis caches forecast records in a shared Redis instance so a
// fleet of API replicas deduplicates work across processes.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

// Get fetches and decodes the record stored under key.
func (r *Redis) Get(ctx context.Context, key string) (*domain.ForecastRecord, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var rec domain.ForecastRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt entry is treated as a miss and overwritten.
		return nil, false, nil
	}
	return &rec, true, nil
}

// Set stores rec under key with SETNX semantics: the first writer
// wins and concurrent duplicates are dropped.
func (r *Redis) Set(ctx context.Context, key string, rec *domain.ForecastRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode forecast record: %w", err)
	}
	if err := r.client.SetNX(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
