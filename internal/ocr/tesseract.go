package ocr

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/bookscribe/config"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

// Tesseract runs the local tesseract engine through gosseract.
type Tesseract struct {
	cfg    *config.OCRConfig
	logger logger.Logger
}

func NewTesseract(cfg *config.OCRConfig, log logger.Logger) *Tesseract {
	return &Tesseract{cfg: cfg, logger: log}
}

func (t *Tesseract) Version() string {
	return fmt.Sprintf("tesseract/%s/psm%d", strings.Join(t.cfg.Languages, "+"), t.cfg.PageSegMode)
}

// Recognize creates a fresh gosseract client per call; the client is not
// safe for concurrent use and pages run in parallel.
func (t *Tesseract) Recognize(ctx context.Context, image []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Join(t.cfg.Languages, "+")); err != nil {
		return Result{}, &Failure{Engine: "tesseract", Err: fmt.Errorf("failed to set language: %w", err)}
	}

	if err := client.SetPageSegMode(gosseract.PageSegMode(t.cfg.PageSegMode)); err != nil {
		return Result{}, &Failure{Engine: "tesseract", Err: fmt.Errorf("failed to set page segmentation mode: %w", err)}
	}

	if err := client.SetImageFromBytes(image); err != nil {
		return Result{}, &Failure{Engine: "tesseract", Err: fmt.Errorf("failed to set image: %w", err)}
	}

	text, err := client.Text()
	if err != nil {
		// The engine itself hiccupped; worth another attempt.
		return Result{}, &Failure{Engine: "tesseract", Transient: true, Err: fmt.Errorf("failed to get text: %w", err)}
	}

	confidence := t.averageConfidence(client)

	return Result{Text: text, Confidence: confidence}, nil
}

// averageConfidence averages word confidences above the configured floor.
func (t *Tesseract) averageConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxesVerbose()
	if err != nil {
		t.logger.Warn("Failed to get bounding boxes", logger.Error(err))
		return 0
	}

	var total float64
	var count int
	for _, box := range boxes {
		if box.Confidence >= t.cfg.MinConfidence {
			total += box.Confidence
			count++
		}
	}

	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func (t *Tesseract) Close() error { return nil }

// CheckTesseract verifies the tesseract binary is on PATH.
func CheckTesseract() error {
	if _, err := exec.LookPath("tesseract"); err != nil {
		return fmt.Errorf("tesseract binary not found: %w", err)
	}
	return nil
}
