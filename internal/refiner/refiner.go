package refiner

import (
	"context"
	"errors"
	"fmt"
)

// PageContext carries the one piece of cross-page state: the dangling
// text fragment from the previous page's ending, so the model can join
// sentences split across a page break.
type PageContext struct {
	PreviousTail string
	PageNumber   int
	// Image optionally attaches the page raster so the model can check
	// the OCR text against the scan.
	Image []byte
}

// Refinement is the parsed model output for one page.
type Refinement struct {
	Markdown       string
	EndsIncomplete bool
	IncompleteTail string
}

// Refiner cleans raw OCR text into markdown.
type Refiner interface {
	Refine(ctx context.Context, rawText string, pageCtx PageContext) (Refinement, error)

	// Version identifies the model and prompt revision; it is folded
	// into the cache fingerprint.
	Version() string

	// Ping verifies the API is reachable with the configured credentials.
	Ping(ctx context.Context) error

	Close() error
}

// Failure is a per-page refinement error. Transient failures (timeouts,
// rate limits, server errors) are retried; the rest fall back to raw text.
type Failure struct {
	Transient bool
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("refiner failure: %v", f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsTransient reports whether err is a refiner failure worth retrying.
func IsTransient(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Transient
}
