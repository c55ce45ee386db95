package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/bookscribe/internal/cache"
	"github.com/feichai0017/bookscribe/internal/models"
	"github.com/feichai0017/bookscribe/internal/ocr"
	"github.com/feichai0017/bookscribe/internal/refiner"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

type fakeSource struct {
	pages   int
	loadErr error
}

func (s *fakeSource) Load(path string) (*models.Document, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return &models.Document{SourcePath: path, Hash: "deadbeef", TotalPages: s.pages}, nil
}

func (s *fakeSource) Rasterize(ctx context.Context, path string, page int) ([]byte, error) {
	return []byte(fmt.Sprintf("page-%d", page)), nil
}

type fakeRecognizer struct {
	mu        sync.Mutex
	calls     int
	transient map[string]int // image -> transient failures before success
	permanent map[string]bool
}

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte) (ocr.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	key := string(image)
	if f.permanent[key] {
		return ocr.Result{}, &ocr.Failure{Engine: "fake", Err: errors.New("engine unavailable")}
	}
	if f.transient[key] > 0 {
		f.transient[key]--
		return ocr.Result{}, &ocr.Failure{Engine: "fake", Transient: true, Err: errors.New("engine busy")}
	}

	return ocr.Result{Text: "raw " + key, Confidence: 91.5}, nil
}

func (f *fakeRecognizer) Version() string { return "fake-ocr/v1" }
func (f *fakeRecognizer) Close() error    { return nil }

func (f *fakeRecognizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRefiner struct {
	mu        sync.Mutex
	calls     int
	seenTails []string
	failAll   bool
	transient map[string]int // raw text -> transient failures before success
	tails     map[int]string // page number -> incomplete tail to emit
}

func (f *fakeRefiner) Refine(ctx context.Context, rawText string, pageCtx refiner.PageContext) (refiner.Refinement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seenTails = append(f.seenTails, pageCtx.PreviousTail)

	if f.failAll {
		return refiner.Refinement{}, &refiner.Failure{Transient: true, Err: errors.New("rate limited")}
	}
	if f.transient[rawText] > 0 {
		f.transient[rawText]--
		return refiner.Refinement{}, &refiner.Failure{Transient: true, Err: errors.New("rate limited")}
	}

	result := refiner.Refinement{Markdown: "refined " + rawText}
	if tail, ok := f.tails[pageCtx.PageNumber]; ok {
		result.EndsIncomplete = true
		result.IncompleteTail = tail
	}
	return result, nil
}

func (f *fakeRefiner) Version() string                 { return "fake-llm/v1" }
func (f *fakeRefiner) Ping(ctx context.Context) error  { return nil }
func (f *fakeRefiner) Close() error                    { return nil }

func (f *fakeRefiner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastOptions() Options {
	return Options{
		Concurrency:    4,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}

func TestRunProducesOrderedSegments(t *testing.T) {
	const pages = 8

	source := &fakeSource{pages: pages}
	rec := &fakeRecognizer{}
	ref := &fakeRefiner{}
	out := filepath.Join(t.TempDir(), "book.md")

	p := New(source, rec, ref, nil, logger.NewTestLogger(), fastOptions())
	summary, err := p.Run(context.Background(), "book.pdf", out)
	require.NoError(t, err)

	assert.Equal(t, pages, summary.TotalPages)
	assert.Equal(t, pages, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	// Every page appears exactly once, in original index order, no
	// matter how the concurrent OCR stage interleaved.
	previous := -1
	for i := 1; i <= pages; i++ {
		segment := fmt.Sprintf("refined raw page-%d", i)
		pos := strings.Index(string(data), segment)
		require.NotEqual(t, -1, pos, "missing segment for page %d", i)
		assert.Greater(t, pos, previous, "page %d out of order", i)
		previous = pos
	}
}

func TestWarmCacheRunIssuesNoCalls(t *testing.T) {
	source := &fakeSource{pages: 3}
	rec := &fakeRecognizer{}
	ref := &fakeRefiner{}
	log := logger.NewTestLogger()

	store, err := cache.NewFSStore(t.TempDir(), log)
	require.NoError(t, err)

	dir := t.TempDir()
	first := filepath.Join(dir, "first.md")
	second := filepath.Join(dir, "second.md")

	p := New(source, rec, ref, store, log, fastOptions())

	_, err = p.Run(context.Background(), "book.pdf", first)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.callCount())
	assert.Equal(t, 3, ref.callCount())

	summary, err := p.Run(context.Background(), "book.pdf", second)
	require.NoError(t, err)

	assert.Equal(t, 3, rec.callCount(), "warm cache must not trigger OCR")
	assert.Equal(t, 3, ref.callCount(), "warm cache must not trigger refinement")
	assert.Equal(t, 3, summary.CacheHits)

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b), "warm cache run must produce identical output")
}

func TestRefinerRetryBoundAndRawFallback(t *testing.T) {
	source := &fakeSource{pages: 1}
	rec := &fakeRecognizer{}
	ref := &fakeRefiner{failAll: true}
	out := filepath.Join(t.TempDir(), "book.md")

	p := New(source, rec, ref, nil, logger.NewTestLogger(), fastOptions())
	summary, err := p.Run(context.Background(), "book.pdf", out)
	require.NoError(t, err, "refiner exhaustion must not fail the run")

	assert.Equal(t, 3, ref.callCount(), "retries must stop at the attempt bound")
	assert.Equal(t, 1, summary.Degraded)
	assert.Equal(t, 0, summary.Succeeded)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "raw page-1", "degraded page must fall back to raw OCR text")
}

func TestOcrFailureEmitsErrorMarker(t *testing.T) {
	source := &fakeSource{pages: 3}
	rec := &fakeRecognizer{permanent: map[string]bool{"page-2": true}}
	ref := &fakeRefiner{}
	out := filepath.Join(t.TempDir(), "book.md")

	p := New(source, rec, ref, nil, logger.NewTestLogger(), fastOptions())
	summary, err := p.Run(context.Background(), "book.pdf", out)
	require.NoError(t, err, "a failed page must not fail the run")

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "refined raw page-1")
	assert.Contains(t, text, "page 2 could not be processed")
	assert.Contains(t, text, "refined raw page-3")
}

func TestOcrTransientFailureRecoversViaRetry(t *testing.T) {
	source := &fakeSource{pages: 3}
	rec := &fakeRecognizer{transient: map[string]int{"page-2": 2}}
	ref := &fakeRefiner{}
	out := filepath.Join(t.TempDir(), "book.md")

	p := New(source, rec, ref, nil, logger.NewTestLogger(), fastOptions())
	summary, err := p.Run(context.Background(), "book.pdf", out)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.RecoveredRetries)
	assert.Equal(t, 5, rec.callCount(), "2 clean pages + 3 attempts for page 2")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "refined raw page-2", "retried page must carry the successful result")
}

func TestIncompleteTailCarriesToNextPage(t *testing.T) {
	source := &fakeSource{pages: 3}
	rec := &fakeRecognizer{}
	ref := &fakeRefiner{tails: map[int]string{1: "jum"}}
	out := filepath.Join(t.TempDir(), "book.md")

	p := New(source, rec, ref, nil, logger.NewTestLogger(), fastOptions())
	_, err := p.Run(context.Background(), "book.pdf", out)
	require.NoError(t, err)

	require.Equal(t, []string{"", "jum", ""}, ref.seenTails,
		"page 2 must see page 1's incomplete tail, page 3 must see none")
}

func TestDegradedResultsAreNotCached(t *testing.T) {
	source := &fakeSource{pages: 1}
	rec := &fakeRecognizer{}
	log := logger.NewTestLogger()

	store, err := cache.NewFSStore(t.TempDir(), log)
	require.NoError(t, err)

	dir := t.TempDir()

	// First run: refinement exhausts its retries and degrades.
	broken := &fakeRefiner{failAll: true}
	p := New(source, rec, broken, store, log, fastOptions())
	summary, err := p.Run(context.Background(), "book.pdf", filepath.Join(dir, "first.md"))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Degraded)

	// Second run: the degraded page is not frozen in the cache, so the
	// now-healthy refiner gets another shot.
	healthy := &fakeRefiner{}
	p = New(source, rec, healthy, store, log, fastOptions())
	summary, err = p.Run(context.Background(), "book.pdf", filepath.Join(dir, "second.md"))
	require.NoError(t, err)

	assert.Equal(t, 1, healthy.callCount())
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.CacheHits)

	data, err := os.ReadFile(filepath.Join(dir, "second.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "refined raw page-1")
}

func TestPageRangeSelection(t *testing.T) {
	source := &fakeSource{pages: 10}
	rec := &fakeRecognizer{}
	ref := &fakeRefiner{}
	out := filepath.Join(t.TempDir(), "book.md")

	opts := fastOptions()
	opts.StartPage = 3
	opts.EndPage = 5

	p := New(source, rec, ref, nil, logger.NewTestLogger(), opts)
	summary, err := p.Run(context.Background(), "book.pdf", out)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalPages)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(data)
	assert.NotContains(t, text, "page-2")
	assert.Contains(t, text, "refined raw page-3")
	assert.Contains(t, text, "refined raw page-5")
	assert.NotContains(t, text, "page-6")
}

func TestUnreadableInputIsFatal(t *testing.T) {
	source := &fakeSource{loadErr: errors.New("corrupt header")}
	p := New(source, &fakeRecognizer{}, &fakeRefiner{}, nil, logger.NewTestLogger(), fastOptions())

	_, err := p.Run(context.Background(), "book.pdf", filepath.Join(t.TempDir(), "book.md"))
	require.Error(t, err)

	var inputErr *InputError
	assert.ErrorAs(t, err, &inputErr)
}

func TestUnwritableOutputIsFatal(t *testing.T) {
	source := &fakeSource{pages: 1}
	p := New(source, &fakeRecognizer{}, &fakeRefiner{}, nil, logger.NewTestLogger(), fastOptions())

	// Using a regular file as a directory component makes the final
	// write fail without needing permission tricks.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := p.Run(context.Background(), "book.pdf", filepath.Join(blocker, "book.md"))
	require.Error(t, err)

	var outputErr *OutputWriteError
	assert.ErrorAs(t, err, &outputErr)
}

func TestCancelledRunReturnsContextError(t *testing.T) {
	source := &fakeSource{pages: 4}
	p := New(source, &fakeRecognizer{}, &fakeRefiner{}, nil, logger.NewTestLogger(), fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "book.pdf", filepath.Join(t.TempDir(), "book.md"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
