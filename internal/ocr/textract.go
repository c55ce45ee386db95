package ocr

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/bookscribe/config"
	"github.com/feichai0017/bookscribe/pkg/logger"
)

// Textract sends page images to AWS Textract instead of running a local
// engine. Selected with OCR_ENGINE=textract.
type Textract struct {
	client *textract.Client
	cfg    *config.OCRConfig
	logger logger.Logger
}

func NewTextract(ctx context.Context, cfg *config.OCRConfig, log logger.Logger) (*Textract, error) {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AWSAccessKey,
		cfg.AWSSecretKey,
		"",
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &Textract{
		client: textract.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: log,
	}, nil
}

func (t *Textract) Version() string {
	return "textract/" + t.cfg.AWSRegion
}

func (t *Textract) Recognize(ctx context.Context, image []byte) (Result, error) {
	input := &textract.DetectDocumentTextInput{
		Document: &types.Document{
			Bytes: image,
		},
	}

	out, err := t.client.DetectDocumentText(ctx, input)
	if err != nil {
		return Result{}, &Failure{Engine: "textract", Transient: true, Err: fmt.Errorf("failed to detect document text: %w", err)}
	}

	var lines []string
	var total float64
	var count int
	for _, block := range out.Blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		lines = append(lines, *block.Text)
		if block.Confidence != nil && float64(*block.Confidence) >= t.cfg.MinConfidence {
			total += float64(*block.Confidence)
			count++
		}
	}

	confidence := 0.0
	if count > 0 {
		confidence = total / float64(count)
	}

	return Result{Text: strings.Join(lines, "\n"), Confidence: confidence}, nil
}

func (t *Textract) Close() error { return nil }
