package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/feichai0017/bookscribe/internal/models"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

// FSStore keeps one JSON file per fingerprint under a cache directory.
type FSStore struct {
	dir    string
	logger logger.Logger
}

func NewFSStore(dir string, log logger.Logger) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FSStore{dir: dir, logger: log}, nil
}

func (s *FSStore) path(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+".json")
}

func (s *FSStore) Get(ctx context.Context, fingerprint string) (*models.PageResult, bool) {
	data, err := os.ReadFile(s.path(fingerprint))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Cache read failed, treating as miss",
				logger.String("fingerprint", fingerprint),
				logger.Error(err),
			)
		}
		return nil, false
	}

	var result models.PageResult
	if err := json.Unmarshal(data, &result); err != nil {
		// Corrupt entry: a miss, never a pipeline error.
		s.logger.Warn("Corrupt cache entry, treating as miss",
			logger.String("fingerprint", fingerprint),
			logger.Error(err),
		)
		return nil, false
	}

	return &result, true
}

// Put writes the entry to a temp file and renames it into place, so a
// concurrent reader never observes a partial write and the last writer
// wins cleanly when two workers race on the same fingerprint.
func (s *FSStore) Put(ctx context.Context, fingerprint string, result *models.PageResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, fingerprint+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}

	if err := os.Rename(tmpName, s.path(fingerprint)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}

	return nil
}

func (s *FSStore) Close() error { return nil }
