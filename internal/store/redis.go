package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/phi-guard/internal/config"
	"github.com/raaihank/phi-guard/internal/privacy"
)

// RedisStore keeps records in Redis and lets key expiry enforce the TTL
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg config.RedisConfig, prefix string, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	opts.MinIdleConns = cfg.MinIdleConns

	s := &RedisStore{
		client: redis.NewClient(opts),
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.client.Close() //nolint:errcheck
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis mapping store initialized",
		zap.String("redis_url", maskURL(cfg.URL)),
		zap.Int("max_connections", opts.PoolSize))

	return s, nil
}

func (s *RedisStore) key(tenantID, id string) string {
	if s.prefix == "" {
		return tenantID + ":" + id
	}
	return s.prefix + ":" + tenantID + ":" + id
}

// Put writes the record with a TTL matching its remaining lifetime
func (s *RedisStore) Put(ctx context.Context, record *privacy.MappingRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("mapping %s is already expired", record.ID)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(record.Owner.TenantID, record.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store mapping: %w", err)
	}
	if !ok {
		return fmt.Errorf("mapping %s already exists", record.ID)
	}

	s.logger.Debug("Mapping stored", zap.String("mapping_id", record.ID), zap.Duration("ttl", ttl))
	return nil
}

// Get reads a record. The tenant is part of the key; the session is checked after decoding.
func (s *RedisStore) Get(ctx context.Context, owner privacy.OwnerScope, id string) (*privacy.MappingRecord, error) {
	key := s.key(owner.TenantID, id)

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}

	var record privacy.MappingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Error("Failed to unmarshal stored mapping", zap.String("mapping_id", id), zap.Error(err))
		// Delete corrupted entry
		s.client.Del(ctx, key)
		return nil, ErrNotFound
	}

	return live(&record, owner, s.now())
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
