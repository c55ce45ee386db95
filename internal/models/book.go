package models

import (
	"time"
)

// PageStatus tracks a page through the processing state machine.
type PageStatus string

const (
	StatusPending       PageStatus = "pending"
	StatusOcrRunning    PageStatus = "ocr_running"
	StatusOcrDone       PageStatus = "ocr_done"
	StatusOcrFailed     PageStatus = "ocr_failed"
	StatusRefineRunning PageStatus = "refine_running"
	StatusRefineDone    PageStatus = "refine_done"
	StatusRefineFailed  PageStatus = "refine_failed"
	StatusMerged        PageStatus = "merged"
)

// Document is an immutable view of the input book once it has been
// validated and split into pages.
type Document struct {
	SourcePath string `json:"sourcePath"`
	Hash       string `json:"hash"`
	TotalPages int    `json:"totalPages"`
	Title      string `json:"title,omitempty"`
	Author     string `json:"author,omitempty"`
}

// Page is one unit of work: a rasterized page image plus its position.
// Index is 0-based and defines output ordering; Number is the 1-based
// page number in the source PDF (the two differ when a start page is set).
type Page struct {
	Index  int
	Number int
	Image  []byte
}

// PageResult is the outcome of running one page through the pipeline.
// A result always reaches StatusMerged: refined text on full success,
// raw OCR text when refinement failed, or empty text with Error set when
// OCR failed with no cached result to fall back on.
type PageResult struct {
	Index          int        `json:"index"`
	Number         int        `json:"number"`
	RawText        string     `json:"rawText"`
	RefinedText    string     `json:"refinedText"`
	Confidence     float64    `json:"confidence"`
	Status         PageStatus `json:"status"`
	Degraded       bool       `json:"degraded"`
	CacheHit       bool       `json:"cacheHit"`
	RetriesUsed    int        `json:"retriesUsed"`
	Error          string     `json:"error,omitempty"`
	EndsIncomplete bool       `json:"endsIncomplete"`
	IncompleteTail string     `json:"incompleteTail,omitempty"`
}

// Text returns the page's best available text: refined if present,
// otherwise the raw OCR text.
func (r *PageResult) Text() string {
	if r.RefinedText != "" {
		return r.RefinedText
	}
	return r.RawText
}

// Failed reports whether the page produced no text at all.
func (r *PageResult) Failed() bool {
	return r.RawText == "" && r.RefinedText == "" && r.Error != ""
}

// RunSummary aggregates per-page outcomes for the end-of-run report.
type RunSummary struct {
	RunID            string        `json:"runId"`
	TotalPages       int           `json:"totalPages"`
	Succeeded        int           `json:"succeeded"`
	Degraded         int           `json:"degraded"`
	Failed           int           `json:"failed"`
	CacheHits        int           `json:"cacheHits"`
	RecoveredRetries int           `json:"recoveredRetries"`
	CharsWritten     int           `json:"charsWritten"`
	Duration         time.Duration `json:"duration"`
}
