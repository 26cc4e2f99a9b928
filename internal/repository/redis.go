package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"garagehub/internal/config"
	"garagehub/internal/tracking"

	"github.com/redis/go-redis/v9"
)

var errNilClient = errors.New("redis client is nil")

// RedisSnapshotStore keeps tracking snapshots in redis with a TTL.
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{
		client: client,
		ttl:    ttl,
	}
}

func viewKey(viewID string) string      { return "tracking:view:" + viewID }
func bookingKey(bookingID int64) string { return fmt.Sprintf("tracking:booking:%d", bookingID) }
func rateKey(key int64) string          { return fmt.Sprintf("rate_limit:%d", key) }

func (r *RedisSnapshotStore) SaveSnapshot(ctx context.Context, snapshot tracking.Snapshot) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, viewKey(snapshot.ViewID), data, r.ttl)
	pipe.Set(ctx, bookingKey(snapshot.BookingID), data, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot in redis: %w", err)
	}
	return nil
}

func (r *RedisSnapshotStore) GetSnapshot(ctx context.Context, viewID string) (*tracking.Snapshot, error) {
	return r.get(ctx, viewKey(viewID))
}

func (r *RedisSnapshotStore) LatestSnapshot(ctx context.Context, bookingID int64) (*tracking.Snapshot, error) {
	return r.get(ctx, bookingKey(bookingID))
}

func (r *RedisSnapshotStore) get(ctx context.Context, key string) (*tracking.Snapshot, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot from redis: %w", err)
	}

	var snapshot tracking.Snapshot
	if err := json.Unmarshal(val, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

func (r *RedisSnapshotStore) DeleteSnapshot(ctx context.Context, viewID string) error {
	if r.client == nil {
		return errNilClient
	}
	if err := r.client.Del(ctx, viewKey(viewID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot from redis: %w", err)
	}
	return nil
}

// CheckRateLimit is a fixed-window counter keyed by id.
func (r *RedisSnapshotStore) CheckRateLimit(ctx context.Context, key int64, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNilClient
	}
	count, err := r.client.Incr(ctx, rateKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, rateKey(key), window)
	}

	return count <= int64(limit), nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return errNilClient
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
