package config

import (
	"strings"
	"sync"
)

var (
	ocrOnce   sync.Once
	ocrConfig *OCRConfig
)

// OCR engine names accepted in OCR_ENGINE.
const (
	EngineTesseract = "tesseract"
	EngineTextract  = "textract"
)

type OCRConfig struct {
	Engine        string
	Languages     []string
	PageSegMode   int
	MinConfidence float64
	MaxRetries    int

	// Textract settings, only read when Engine is "textract".
	AWSRegion    string
	AWSAccessKey string
	AWSSecretKey string
}

func GetOCRConfig() *OCRConfig {
	ocrOnce.Do(func() {
		loadEnv()

		ocrConfig = &OCRConfig{
			Engine:        envStr("OCR_ENGINE", EngineTesseract),
			Languages:     strings.Split(envStr("OCR_LANGUAGES", "eng"), "+"),
			PageSegMode:   envInt("OCR_PAGE_SEG_MODE", 3), // PSM_AUTO
			MinConfidence: envFloat("OCR_MIN_CONFIDENCE", 60.0),
			MaxRetries:    envInt("OCR_MAX_RETRIES", 3),
			AWSRegion:     envStr("AWS_REGION", "us-east-1"),
			AWSAccessKey:  envStr("AWS_ACCESS_KEY_ID", ""),
			AWSSecretKey:  envStr("AWS_SECRET_ACCESS_KEY", ""),
		}
	})
	return ocrConfig
}
