package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vigil/config"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const dedupKeyPrefix = "vigil:dedup:"

// DedupRecord is what the first delivery of an entry leaves behind.
type DedupRecord struct {
	AlertID   string    `msgpack:"alert_id"`
	FirstSeen time.Time `msgpack:"first_seen"`
}

// RedisDedupStore remembers entry fingerprints across instances and restarts.
type RedisDedupStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewRedisDedupStore connects to Redis and verifies the connection
func NewRedisDedupStore(cfg config.RedisConfig, logger *zap.SugaredLogger) (*RedisDedupStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", cfg.Addr, err)
	}

	logger.Infow("Connected to Redis dedup store", "addr", cfg.Addr, "ttl", cfg.DedupTTL)
	return &RedisDedupStore{client: client, ttl: cfg.DedupTTL, logger: logger}, nil
}

// Claim records fingerprint as seen. It returns true if this call was the
// first to see it; otherwise it returns the record left by the first delivery.
func (r *RedisDedupStore) Claim(ctx context.Context, fingerprint string, rec DedupRecord) (bool, *DedupRecord, error) {
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return false, nil, fmt.Errorf("failed to encode dedup record: %w", err)
	}

	key := dedupKeyPrefix + fingerprint
	ok, err := r.client.SetNX(ctx, key, data, r.ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("failed to claim fingerprint: %w", err)
	}
	if ok {
		return true, nil, nil
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; treat as a duplicate with no record
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("failed to read dedup record: %w", err)
	}

	var existing DedupRecord
	if err := msgpack.Unmarshal(raw, &existing); err != nil {
		r.logger.Warnw("Corrupt dedup record", "key", key, "error", err)
		return false, nil, nil
	}
	return false, &existing, nil
}

// Ping tests the connection
func (r *RedisDedupStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection
func (r *RedisDedupStore) Close() error {
	return r.client.Close()
}
