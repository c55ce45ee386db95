package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/bookscribe/config"
	"github.com/feichai0017/bookscribe/internal/cache"
	"github.com/feichai0017/bookscribe/internal/ocr"
	"github.com/feichai0017/bookscribe/internal/pdf"
	"github.com/feichai0017/bookscribe/internal/pipeline"
	"github.com/feichai0017/bookscribe/internal/refiner"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

const (
	exitOK          = 0
	exitFatal       = 1
	exitInterrupted = 130
)

func main() {
	var (
		input        = flag.String("input", "", "path to the input PDF file (required)")
		output       = flag.String("output", "", "path to the output markdown file (required)")
		startPage    = flag.Int("start-page", 1, "first page to process (1-based)")
		endPage      = flag.Int("end-page", 0, "last page to process (0 = all)")
		noCache      = flag.Bool("no-cache", false, "disable the result cache entirely")
		cacheDir     = flag.String("cache-dir", "", "cache directory (overrides CACHE_DIR)")
		dpi          = flag.Int("dpi", 300, "DPI for PDF rasterization")
		imageQuality = flag.Int("image-quality", 85, "JPEG quality for page images")
		concurrency  = flag.Int("concurrency", 4, "bounded worker count for the OCR stage")
		retries      = flag.Int("retries", 0, "max attempts per OCR/LLM call (0 = engine default)")
		attachImages = flag.Bool("attach-images", false, "send page images to the refiner alongside OCR text")
		logLevel     = flag.String("log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
		check        = flag.Bool("check", false, "verify external dependencies and credentials, then exit")
	)
	flag.Parse()

	level := *logLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}

	log, err := logger.NewLogger(
		logger.WithLevel(level),
		logger.WithOutputPaths([]string{"stderr", "logs/bookscribe.log"}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(exitFatal)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *check {
		os.Exit(doctor(ctx, log))
	}

	if *input == "" || *output == "" {
		flag.Usage()
		log.Error("Both -input and -output are required")
		os.Exit(exitFatal)
	}
	if _, err := os.Stat(*input); err != nil {
		log.Error("Input file not found", logger.String("input", *input))
		os.Exit(exitFatal)
	}

	geminiCfg := config.GetGeminiConfig()
	ref, err := refiner.NewGemini(ctx, geminiCfg, log)
	if err != nil {
		log.Error("Failed to initialize refiner", logger.Error(err))
		os.Exit(exitFatal)
	}
	defer ref.Close()

	recognizer, err := ocr.NewRecognizer(config.GetOCRConfig(), log)
	if err != nil {
		log.Error("Failed to initialize OCR engine", logger.Error(err))
		os.Exit(exitFatal)
	}
	defer recognizer.Close()

	var store cache.Store = cache.Nop{}
	if !*noCache {
		cacheCfg := config.GetCacheConfig()
		if *cacheDir != "" {
			cacheCfg.Dir = *cacheDir
		}
		store, err = cache.NewStore(cacheCfg, log)
		if err != nil {
			log.Error("Failed to initialize cache", logger.Error(err))
			os.Exit(exitFatal)
		}
	}
	defer store.Close()

	maxAttempts := *retries
	if maxAttempts <= 0 {
		maxAttempts = geminiCfg.MaxRetries
	}

	rasterizer := pdf.NewRasterizer(*dpi, *imageQuality, log)

	p := pipeline.New(rasterizer, recognizer, ref, store, log, pipeline.Options{
		StartPage:      *startPage,
		EndPage:        *endPage,
		Concurrency:    *concurrency,
		MaxAttempts:    maxAttempts,
		InitialBackoff: geminiCfg.InitialBackoff,
		MaxBackoff:     geminiCfg.MaxBackoff,
		AttachImages:   *attachImages,
	})

	summary, err := p.Run(ctx, *input, *output)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn("Processing interrupted; cached pages will be reused on the next run")
			os.Exit(exitInterrupted)
		}
		log.Error("Processing failed", logger.Error(err))
		os.Exit(exitFatal)
	}

	fmt.Printf("Done: %d pages (%d ok, %d degraded, %d failed, %d cache hits, %d recovered via retry) in %s\n",
		summary.TotalPages,
		summary.Succeeded,
		summary.Degraded,
		summary.Failed,
		summary.CacheHits,
		summary.RecoveredRetries,
		summary.Duration.Round(time.Second),
	)
	fmt.Printf("Output saved to: %s\n", *output)

	os.Exit(exitOK)
}

// doctor verifies the external collaborators: poppler and tesseract
// binaries on PATH, and the Gemini API with the configured key.
func doctor(ctx context.Context, log logger.Logger) int {
	failed := false

	report := func(name string, err error) {
		if err != nil {
			failed = true
			fmt.Printf("✗ %s: %v\n", name, err)
			return
		}
		fmt.Printf("✓ %s\n", name)
	}

	report("poppler", pdf.CheckPoppler())

	ocrCfg := config.GetOCRConfig()
	if ocrCfg.Engine == config.EngineTesseract {
		report("tesseract", ocr.CheckTesseract())
	}

	geminiCfg := config.GetGeminiConfig()
	ref, err := refiner.NewGemini(ctx, geminiCfg, log)
	if err != nil {
		report("gemini", err)
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		report("gemini", ref.Ping(pingCtx))
		cancel()
		ref.Close()
	}

	if failed {
		return exitFatal
	}
	return exitOK
}
