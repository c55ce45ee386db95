package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/feichai0017/bookscribe/config"
	"github.com/feichai0017/bookscribe/internal/models"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

// Store persists page results keyed by content fingerprint.
//
// Get treats every failure (missing key, corrupt entry, backend down) as a
// miss; it never surfaces an error to the pipeline. Put errors are returned
// so callers can log them, but they are always non-fatal.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*models.PageResult, bool)
	Put(ctx context.Context, fingerprint string, result *models.PageResult) error
	Close() error
}

// Fingerprint derives the cache key for a page: a sha256 over the raster
// bytes plus the processing configuration version. Same bytes and config
// always produce the same key, so results are reusable across runs.
func Fingerprint(image []byte, configVersion string) string {
	h := sha256.New()
	h.Write(image)
	h.Write([]byte{0})
	h.Write([]byte(configVersion))
	return hex.EncodeToString(h.Sum(nil))
}

// NewStore builds the configured cache backend.
func NewStore(cfg *config.CacheConfig, log logger.Logger) (Store, error) {
	switch cfg.Backend {
	case config.CacheBackendFS:
		return NewFSStore(cfg.Dir, log)
	case config.CacheBackendRedis:
		return NewRedisStore(cfg, log)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// Nop is the backend used with --no-cache: every lookup misses and
// writes are discarded.
type Nop struct{}

func (Nop) Get(ctx context.Context, fingerprint string) (*models.PageResult, bool) {
	return nil, false
}

func (Nop) Put(ctx context.Context, fingerprint string, result *models.PageResult) error {
	return nil
}

func (Nop) Close() error { return nil }
