package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/bookscribe/internal/models"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

func TestFingerprintStability(t *testing.T) {
	image := []byte("page raster bytes")

	a := Fingerprint(image, "tesseract/eng/psm3|gemini/flash/v1")
	b := Fingerprint(image, "tesseract/eng/psm3|gemini/flash/v1")
	assert.Equal(t, a, b, "identical bytes and config must yield the same key")

	c := Fingerprint(image, "tesseract/deu/psm3|gemini/flash/v1")
	assert.NotEqual(t, a, c, "a config change must change the key")

	d := Fingerprint([]byte("other bytes"), "tesseract/eng/psm3|gemini/flash/v1")
	assert.NotEqual(t, a, d)
}

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir(), logger.NewTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	fp := Fingerprint([]byte("img"), "v1")

	_, ok := store.Get(ctx, fp)
	assert.False(t, ok, "empty store must miss")

	want := &models.PageResult{
		Index:       2,
		Number:      3,
		RawText:     "raw",
		RefinedText: "refined",
		Confidence:  88.5,
		Status:      models.StatusRefineDone,
	}
	require.NoError(t, store.Put(ctx, fp, want))

	got, ok := store.Get(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestFSStoreCorruptEntryIsAMiss(t *testing.T) {
	dir := t.TempDir()
	log := logger.NewTestLogger()
	store, err := NewFSStore(dir, log)
	require.NoError(t, err)

	fp := Fingerprint([]byte("img"), "v1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, fp+".json"), []byte("{not json"), 0644))

	_, ok := store.Get(context.Background(), fp)
	assert.False(t, ok, "corrupt entry must read as a miss, not an error")
}

func TestFSStoreOverwriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(dir, logger.NewTestLogger())
	require.NoError(t, err)

	ctx := context.Background()
	fp := Fingerprint([]byte("img"), "v1")

	require.NoError(t, store.Put(ctx, fp, &models.PageResult{RefinedText: "first"}))
	require.NoError(t, store.Put(ctx, fp, &models.PageResult{RefinedText: "second"}))

	got, ok := store.Get(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, "second", got.RefinedText)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestNopStore(t *testing.T) {
	ctx := context.Background()
	store := Nop{}

	require.NoError(t, store.Put(ctx, "fp", &models.PageResult{RefinedText: "x"}))
	_, ok := store.Get(ctx, "fp")
	assert.False(t, ok, "nop store must always miss")
}
