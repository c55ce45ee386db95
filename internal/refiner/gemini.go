package refiner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/feichai0017/bookscribe/config"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

// Gemini refines OCR text through the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    *config.GeminiConfig
	logger logger.Logger
}

func NewGemini(ctx context.Context, cfg *config.GeminiConfig, log logger.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		cfg:    cfg,
		logger: log,
	}, nil
}

func (g *Gemini) Version() string {
	return fmt.Sprintf("gemini/%s/%s", g.cfg.Model, promptVersion)
}

func (g *Gemini) Refine(ctx context.Context, rawText string, pageCtx PageContext) (Refinement, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	parts := []*genai.Part{
		genai.NewPartFromText(buildPrompt(rawText, pageCtx)),
	}

	if len(pageCtx.Image) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: "image/jpeg",
				Data:     pageCtx.Image,
			},
		})
	}

	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](g.cfg.Temperature),
	})
	if err != nil {
		return Refinement{}, &Failure{Transient: isTransient(err), Err: err}
	}

	text := responseText(resp)
	if text == "" {
		return Refinement{}, &Failure{Err: fmt.Errorf("empty response for page %d", pageCtx.PageNumber)}
	}

	return parseResponse(text), nil
}

// Ping sends a trivial prompt to verify the key and model are usable.
func (g *Gemini) Ping(ctx context.Context) error {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText("Reply with the single word: ok")}, genai.RoleUser),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, nil)
	if err != nil {
		return fmt.Errorf("gemini connection test failed: %w", err)
	}
	if responseText(resp) == "" {
		return fmt.Errorf("gemini connection test returned an empty response")
	}
	return nil
}

func (g *Gemini) Close() error { return nil }

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

// isTransient classifies API errors: rate limits, server-side errors and
// timeouts are retried, everything else falls straight back to raw text.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 408, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	// Network-level errors surface without a status code.
	return true
}
