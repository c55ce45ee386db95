package config

import (
	"sync"
	"time"
)

var (
	geminiOnce   sync.Once
	geminiConfig *GeminiConfig
)

type GeminiConfig struct {
	APIKey         string
	Model          string
	Temperature    float32
	RequestTimeout time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func GetGeminiConfig() *GeminiConfig {
	geminiOnce.Do(func() {
		loadEnv()

		geminiConfig = &GeminiConfig{
			APIKey:         envStr("GEMINI_API_KEY", ""),
			Model:          envStr("GEMINI_MODEL", "gemini-1.5-flash-latest"),
			Temperature:    float32(envFloat("GEMINI_TEMPERATURE", 0.1)),
			RequestTimeout: envDur("GEMINI_REQUEST_TIMEOUT", 120*time.Second),
			MaxRetries:     envInt("GEMINI_MAX_RETRIES", 3),
			InitialBackoff: envDur("GEMINI_INITIAL_BACKOFF", 2*time.Second),
			MaxBackoff:     envDur("GEMINI_MAX_BACKOFF", 10*time.Second),
		}
	})
	return geminiConfig
}
