package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/bookscribe/config"
	"github.com/feichai0017/bookscribe/internal/models"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

// RedisStore keeps page results in Redis, one key per fingerprint.
// Useful when several machines share a cache for the same book set.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisStore(cfg *config.CacheConfig, log logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    cfg.RedisTTL,
		logger: log,
	}, nil
}

func key(fingerprint string) string {
	return "bookscribe:page:" + fingerprint
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*models.PageResult, bool) {
	data, err := s.client.Get(ctx, key(fingerprint)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Cache read failed, treating as miss",
				logger.String("fingerprint", fingerprint),
				logger.Error(err),
			)
		}
		return nil, false
	}

	var result models.PageResult
	if err := json.Unmarshal(data, &result); err != nil {
		s.logger.Warn("Corrupt cache entry, treating as miss",
			logger.String("fingerprint", fingerprint),
			logger.Error(err),
		)
		return nil, false
	}

	return &result, true
}

func (s *RedisStore) Put(ctx context.Context, fingerprint string, result *models.PageResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := s.client.Set(ctx, key(fingerprint), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
