package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/bookscribe/internal/cache"
	"github.com/feichai0017/bookscribe/internal/models"
	"github.com/feichai0017/bookscribe/internal/ocr"
	"github.com/feichai0017/bookscribe/internal/refiner"
	"github.com/feichai0017/bookscribe/internal/stitcher"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

// PageSource loads the input document and rasterizes its pages.
// *pdf.Rasterizer is the production implementation.
type PageSource interface {
	Load(path string) (*models.Document, error)
	Rasterize(ctx context.Context, path string, page int) ([]byte, error)
}

// Options tune the orchestrator; zero values fall back to defaults.
type Options struct {
	StartPage      int // 1-based, 0 means first page
	EndPage        int // 1-based inclusive, 0 means last page
	Concurrency    int
	MaxAttempts    int // total attempts per adapter call, retries included
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttachImages   bool // send page rasters to the refiner alongside the text
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
}

// Pipeline drives a book through rasterization, OCR, refinement and
// assembly. OCR runs in parallel across pages; refinement runs in index
// order because page i needs page i-1's incomplete tail.
type Pipeline struct {
	source     PageSource
	recognizer ocr.Recognizer
	refiner    refiner.Refiner
	store      cache.Store
	logger     logger.Logger
	opts       Options
}

func New(
	source PageSource,
	recognizer ocr.Recognizer,
	ref refiner.Refiner,
	store cache.Store,
	log logger.Logger,
	opts Options,
) *Pipeline {
	opts.applyDefaults()
	if store == nil {
		store = cache.Nop{}
	}

	return &Pipeline{
		source:     source,
		recognizer: recognizer,
		refiner:    ref,
		store:      store,
		logger:     log,
		opts:       opts,
	}
}

// pageTask is the per-page working state owned by the orchestrator.
type pageTask struct {
	page        models.Page
	fingerprint string
	image       []byte
	result      *models.PageResult
	cached      bool
}

// Run processes one book. It fails only when the input cannot be read or
// the output cannot be written; every per-page failure degrades into the
// result and the summary.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string) (*models.RunSummary, error) {
	start := time.Now()
	runID := uuid.New().String()
	log := p.logger.With(logger.String("runId", runID))

	doc, err := p.source.Load(inputPath)
	if err != nil {
		return nil, &InputError{Path: inputPath, Err: err}
	}

	first, last := p.pageRange(doc.TotalPages)
	if first > last {
		return nil, &InputError{
			Path: inputPath,
			Err:  fmt.Errorf("empty page range %d-%d of %d pages", p.opts.StartPage, p.opts.EndPage, doc.TotalPages),
		}
	}

	log.Info("Starting book processing",
		logger.String("input", inputPath),
		logger.Int("firstPage", first),
		logger.Int("lastPage", last),
		logger.Int("totalPages", doc.TotalPages),
		logger.Int("concurrency", p.opts.Concurrency),
	)

	version := p.recognizer.Version() + "|" + p.refiner.Version()

	tasks := make([]*pageTask, last-first+1)
	for i := range tasks {
		tasks[i] = &pageTask{
			page: models.Page{Index: i, Number: first + i},
			result: &models.PageResult{
				Index:  i,
				Number: first + i,
				Status: models.StatusPending,
			},
		}
	}

	// Stage 1: rasterize, cache lookup, OCR. Pages are independent here,
	// so they run in parallel under a bounded worker pool. Workers only
	// return an error on cancellation; page failures land in the result.
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.opts.Concurrency)

	for _, task := range tasks {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-gctx.Done():
				return gctx.Err()
			}
			return p.ocrStage(gctx, log, doc, task, version)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stage 2: refinement in index order, carrying the incomplete tail
	// fragment from each page to the next.
	st := stitcher.New(log)
	summary := &models.RunSummary{RunID: runID, TotalPages: len(tasks)}
	previousTail := ""

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := task.result

		switch {
		case task.cached:
			summary.CacheHits++
			summary.Succeeded++

		case result.Status == models.StatusOcrFailed:
			// No OCR text and no cached result: this page contributes
			// an explicit error marker instead of text.
			log.Warn("Page has no text, emitting error marker",
				logger.Int("page", task.page.Number),
				logger.String("error", result.Error),
			)
			summary.Failed++

		default:
			p.refineStage(ctx, log, task, previousTail)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if result.Degraded {
				summary.Degraded++
			} else {
				summary.Succeeded++
			}
		}

		if !task.cached && result.RetriesUsed > 0 && !result.Degraded && !result.Failed() {
			summary.RecoveredRetries++
		}

		if result.EndsIncomplete && result.IncompleteTail != "" {
			previousTail = result.IncompleteTail
		} else {
			previousTail = ""
		}

		result.Status = models.StatusMerged
		st.Add(result)
		task.image = nil
	}

	document := st.Stitch()
	if err := p.writeOutput(outputPath, document); err != nil {
		return nil, err
	}

	summary.CharsWritten = len(document)
	summary.Duration = time.Since(start)

	log.Info("Processing complete",
		logger.String("output", outputPath),
		logger.Int("totalPages", summary.TotalPages),
		logger.Int("succeeded", summary.Succeeded),
		logger.Int("degraded", summary.Degraded),
		logger.Int("failed", summary.Failed),
		logger.Int("cacheHits", summary.CacheHits),
		logger.Int("recoveredRetries", summary.RecoveredRetries),
		logger.Int("charsWritten", summary.CharsWritten),
		logger.Duration("duration", summary.Duration),
	)

	return summary, nil
}

// ocrStage rasterizes one page, consults the cache and runs OCR on miss.
func (p *Pipeline) ocrStage(ctx context.Context, log logger.Logger, doc *models.Document, task *pageTask, version string) error {
	result := task.result

	image, err := p.source.Rasterize(ctx, doc.SourcePath, task.page.Number)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("Failed to rasterize page",
			logger.Int("page", task.page.Number),
			logger.Error(err),
		)
		result.Status = models.StatusOcrFailed
		result.Error = err.Error()
		return nil
	}
	task.image = image
	task.fingerprint = cache.Fingerprint(image, version)

	if cached, ok := p.store.Get(ctx, task.fingerprint); ok {
		log.Debug("Cache hit",
			logger.Int("page", task.page.Number),
			logger.String("fingerprint", task.fingerprint),
		)
		// Index and number follow the current run: the same raster can
		// sit at a different position when the page range changes.
		cached.Index = task.page.Index
		cached.Number = task.page.Number
		cached.CacheHit = true
		cached.RetriesUsed = 0
		task.result = cached
		task.cached = true
		return nil
	}

	result.Status = models.StatusOcrRunning

	var recognized ocr.Result
	attempts, err := p.withRetry(ctx, ocr.IsTransient, func() error {
		r, rerr := p.recognizer.Recognize(ctx, image)
		if rerr != nil {
			return rerr
		}
		recognized = r
		return nil
	})
	result.RetriesUsed = attempts - 1

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("OCR failed",
			logger.Int("page", task.page.Number),
			logger.Int("attempts", attempts),
			logger.Error(err),
		)
		result.Status = models.StatusOcrFailed
		result.Error = err.Error()
		return nil
	}

	result.Status = models.StatusOcrDone
	result.RawText = recognized.Text
	result.Confidence = recognized.Confidence
	return nil
}

// refineStage runs the LLM cleanup for one page. On retry exhaustion the
// page keeps its raw OCR text and is marked degraded, never fatal.
func (p *Pipeline) refineStage(ctx context.Context, log logger.Logger, task *pageTask, previousTail string) {
	result := task.result
	result.Status = models.StatusRefineRunning

	pageCtx := refiner.PageContext{
		PreviousTail: previousTail,
		PageNumber:   task.page.Number,
	}
	if p.opts.AttachImages {
		pageCtx.Image = task.image
	}

	var refinement refiner.Refinement
	attempts, err := p.withRetry(ctx, refiner.IsTransient, func() error {
		r, rerr := p.refiner.Refine(ctx, result.RawText, pageCtx)
		if rerr != nil {
			return rerr
		}
		refinement = r
		return nil
	})
	result.RetriesUsed += attempts - 1

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("Refinement failed, falling back to raw OCR text",
			logger.Int("page", task.page.Number),
			logger.Int("attempts", attempts),
			logger.Error(err),
		)
		result.Status = models.StatusRefineFailed
		result.Degraded = true
		result.RefinedText = result.RawText
		result.Error = err.Error()
		return
	}

	result.Status = models.StatusRefineDone
	result.RefinedText = refinement.Markdown
	result.EndsIncomplete = refinement.EndsIncomplete
	result.IncompleteTail = refinement.IncompleteTail

	// Only a fully completed OCR+refine cycle is cached; degraded
	// results stay out so a rerun gets another shot at refinement.
	if err := p.store.Put(ctx, task.fingerprint, result); err != nil {
		log.Warn("Failed to cache page result",
			logger.Int("page", task.page.Number),
			logger.Error(err),
		)
	}
}

func (p *Pipeline) pageRange(totalPages int) (first, last int) {
	first = p.opts.StartPage
	if first < 1 {
		first = 1
	}
	last = p.opts.EndPage
	if last < 1 || last > totalPages {
		last = totalPages
	}
	return first, last
}

func (p *Pipeline) writeOutput(path, document string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &OutputWriteError{Path: path, Err: err}
		}
	}
	if err := os.WriteFile(path, []byte(document), 0644); err != nil {
		return &OutputWriteError{Path: path, Err: err}
	}
	return nil
}
