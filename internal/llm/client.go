package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Client defines the interface for LLM providers.
type Client interface {
	Classify(ctx context.Context, prompt string) (ClassificationResponse, error)
}

// ClassificationResponse is the validated category/confidence/reasoning
// triple a provider must return.
type ClassificationResponse struct {
	Category   string
	Reasoning  string
	Confidence float64
}

// Config holds configuration for LLM clients.
type Config struct {
	Provider       string
	APIKey         string
	Model          string
	Temperature    float64
	MaxTokens      int
	CallsPerHour   int
	RequestTimeout time.Duration
}

// NewClient creates a provider client from configuration.
func NewClient(cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return newOpenAIClient(cfg)
	case "anthropic":
		return newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
