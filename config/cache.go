package config

import (
	"sync"
	"time"
)

var (
	cacheOnce   sync.Once
	cacheConfig *CacheConfig
)

// Cache backend names accepted in CACHE_BACKEND.
const (
	CacheBackendFS    = "fs"
	CacheBackendRedis = "redis"
)

type CacheConfig struct {
	Backend string
	Dir     string

	RedisAddr string
	RedisDB   int
	RedisTTL  time.Duration
}

func GetCacheConfig() *CacheConfig {
	cacheOnce.Do(func() {
		loadEnv()

		cacheConfig = &CacheConfig{
			Backend:   envStr("CACHE_BACKEND", CacheBackendFS),
			Dir:       envStr("CACHE_DIR", "./cache"),
			RedisAddr: envStr("REDIS_ADDR", "localhost:6379"),
			RedisDB:   envInt("REDIS_DB", 0),
			RedisTTL:  envDur("REDIS_TTL", 30*24*time.Hour),
		}
	})
	return cacheConfig
}
