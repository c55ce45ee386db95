package stitcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/feichai0017/bookscribe/internal/models"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

var (
	headerRe        = regexp.MustCompile(`^#{1,6}\s+`)
	excessNewlines  = regexp.MustCompile(`\n{3,}`)
	trailingBlanks  = regexp.MustCompile(`\n{4,}`)
	headerSpacing   = regexp.MustCompile(`\n(#{1,6}\s+)`)
	lonePageNumbers = regexp.MustCompile(`\n\s*\d+\s*\n`)
	markdownSyms    = regexp.MustCompile(`[#*_\[\]]`)
)

// Stitcher assembles per-page markdown into one document: pages are
// ordered by index, page-break artifacts are cleaned up, and duplicated
// headers across page boundaries are dropped.
type Stitcher struct {
	pages  []*models.PageResult
	logger logger.Logger
}

func New(log logger.Logger) *Stitcher {
	return &Stitcher{logger: log}
}

// Add queues a merged page result for assembly.
func (s *Stitcher) Add(result *models.PageResult) {
	s.pages = append(s.pages, result)
}

// Stitch combines all added pages into the final markdown document.
// Pages that failed outright are emitted as explicit error markers so
// the output keeps one segment per input page.
func (s *Stitcher) Stitch() string {
	if len(s.pages) == 0 {
		s.logger.Warn("No pages to stitch")
		return ""
	}

	sort.Slice(s.pages, func(i, j int) bool {
		return s.pages[i].Index < s.pages[j].Index
	})

	var segments []string
	var previousLastLine string

	for i, page := range s.pages {
		content := s.segment(page)
		content = cleanPage(content)

		if i > 0 {
			content = dropDuplicateHeader(previousLastLine, content)
		}

		segments = append(segments, content)

		lines := strings.Split(strings.TrimSpace(content), "\n")
		previousLastLine = lines[len(lines)-1]
	}

	doc := strings.Join(segments, "\n\n")
	return finalCleanup(doc)
}

// Stats reports size figures for the assembled document.
func (s *Stitcher) Stats() (chars, words int) {
	for _, page := range s.pages {
		text := page.Text()
		chars += len(text)
		words += len(strings.Fields(text))
	}
	return chars, words
}

func (s *Stitcher) segment(page *models.PageResult) string {
	if page.Failed() {
		return fmt.Sprintf("> **[page %d could not be processed: %s]**", page.Number, page.Error)
	}
	return page.Text()
}

func cleanPage(content string) string {
	content = excessNewlines.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// dropDuplicateHeader removes a header repeated across a page break,
// a common scan artifact when chapters carry running titles.
func dropDuplicateHeader(previousLastLine, content string) string {
	if previousLastLine == "" || content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	first := strings.TrimSpace(lines[0])
	prev := strings.TrimSpace(previousLastLine)

	if isHeader(prev) && isHeader(first) && similar(prev, first) {
		return strings.Join(lines[1:], "\n")
	}

	return content
}

func isHeader(line string) bool {
	return headerRe.MatchString(line)
}

// similar runs a cheap containment/overlap check good enough for
// running-title duplicates; it is not a general diff.
func similar(a, b string) bool {
	const threshold = 0.8

	ca := strings.ToLower(markdownSyms.ReplaceAllString(a, ""))
	cb := strings.ToLower(markdownSyms.ReplaceAllString(b, ""))
	if ca == "" || cb == "" {
		return false
	}

	if strings.Contains(ca, cb) || strings.Contains(cb, ca) {
		return true
	}

	common := 0
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if ca[i] == cb[i] {
			common++
		}
	}
	longest := len(ca)
	if len(cb) > longest {
		longest = len(cb)
	}

	return float64(common)/float64(longest) >= threshold
}

func finalCleanup(doc string) string {
	doc = trailingBlanks.ReplaceAllString(doc, "\n\n\n")
	doc = headerSpacing.ReplaceAllString(doc, "\n\n$1")
	doc = lonePageNumbers.ReplaceAllString(doc, "\n")
	return strings.TrimSpace(doc)
}
