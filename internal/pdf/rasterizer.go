package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"

	"github.com/feichai0017/bookscribe/internal/models"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

// maxImageWidth caps raster width before OCR/LLM upload; book scans at
// 300 DPI can exceed this and blow up request sizes for no accuracy gain.
const maxImageWidth = 4000

// Rasterizer validates the input PDF and converts pages to JPEG images.
// The actual rendering is delegated to poppler's pdftoppm binary.
type Rasterizer struct {
	dpi     int
	quality int
	logger  logger.Logger
}

func NewRasterizer(dpi, quality int, log logger.Logger) *Rasterizer {
	return &Rasterizer{
		dpi:     dpi,
		quality: quality,
		logger:  log,
	}
}

// Load validates the PDF and returns its immutable document view:
// content hash, page count and whatever metadata the trailer carries.
func (r *Rasterizer) Load(path string) (*models.Document, error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, fmt.Errorf("not a PDF file: %s", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("invalid PDF file: %w", err)
	}

	hash := sha256.Sum256(content)

	doc := &models.Document{
		SourcePath: path,
		Hash:       hex.EncodeToString(hash[:]),
		TotalPages: pdfReader.NumPage(),
	}

	trailer := pdfReader.Trailer()
	if !trailer.IsNull() {
		info := trailer.Key("Info")
		if !info.IsNull() {
			if title := info.Key("Title"); !title.IsNull() {
				doc.Title = title.String()
			}
			if author := info.Key("Author"); !author.IsNull() {
				doc.Author = author.String()
			}
		}
	}

	return doc, nil
}

// Rasterize renders a single page (1-based) to JPEG bytes.
func (r *Rasterizer) Rasterize(ctx context.Context, path string, page int) ([]byte, error) {
	cmd := exec.CommandContext(ctx,
		"pdftoppm",
		"-jpeg",
		"-jpegopt", fmt.Sprintf("quality=%d,optimize=y", r.quality),
		"-r", strconv.Itoa(r.dpi),
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		path,
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed for page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no image for page %d", page)
	}

	return r.optimize(out)
}

// optimize re-encodes the raster with a bounded width.
func (r *Rasterizer) optimize(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode page image: %w", err)
	}

	if img.Bounds().Dx() <= maxImageWidth {
		return data, nil
	}

	resized := imaging.Resize(img, maxImageWidth, 0, imaging.Lanczos)
	r.logger.Debug("Resized page image",
		logger.Int("width", resized.Bounds().Dx()),
		logger.Int("height", resized.Bounds().Dy()),
	)

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, resized, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode page image: %w", err)
	}
	return buf.Bytes(), nil
}

// CheckPoppler verifies the poppler binaries are on PATH.
func CheckPoppler() error {
	for _, bin := range []string{"pdftoppm", "pdfinfo"} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("poppler binary %q not found: %w", bin, err)
		}
	}
	return nil
}
