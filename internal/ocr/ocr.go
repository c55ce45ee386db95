package ocr

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/bookscribe/config"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

// Recognizer converts a rasterized page image into text.
type Recognizer interface {
	// Recognize runs OCR over a single page image.
	Recognize(ctx context.Context, image []byte) (Result, error)

	// Version identifies the engine and its settings; it is folded into
	// the cache fingerprint so results are never reused across configs.
	Version() string

	// Close releases engine resources.
	Close() error
}

// Result holds the raw OCR text and the engine's confidence in it.
type Result struct {
	Text       string
	Confidence float64
}

// Failure is a per-page OCR error. It never aborts other pages.
type Failure struct {
	Engine    string
	Transient bool
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("ocr failure (%s): %v", f.Engine, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsTransient reports whether err is an OCR failure worth retrying.
func IsTransient(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Transient
}

// NewRecognizer builds the configured OCR engine.
func NewRecognizer(cfg *config.OCRConfig, log logger.Logger) (Recognizer, error) {
	switch cfg.Engine {
	case config.EngineTesseract:
		return NewTesseract(cfg, log), nil
	case config.EngineTextract:
		return NewTextract(context.Background(), cfg, log)
	default:
		return nil, fmt.Errorf("unknown OCR engine: %s", cfg.Engine)
	}
}
