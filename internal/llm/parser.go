package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseClassification validates a provider's raw reply against the required
// category/confidence/reasoning shape. Models wrap JSON in markdown fences
// or stray prose often enough that both are stripped before parsing.
func ParseClassification(content string) (ClassificationResponse, error) {
	content = cleanMarkdownWrapper(content)

	var wire struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}

	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		// Recover a JSON object embedded in surrounding text.
		start := strings.IndexByte(content, '{')
		end := strings.LastIndexByte(content, '}')
		if start < 0 || end <= start {
			return ClassificationResponse{}, fmt.Errorf("no JSON object in response: %w", err)
		}
		if err := json.Unmarshal([]byte(content[start:end+1]), &wire); err != nil {
			return ClassificationResponse{}, fmt.Errorf("failed to parse JSON response: %w", err)
		}
	}

	category := strings.TrimSpace(wire.Category)
	if category == "" {
		return ClassificationResponse{}, fmt.Errorf("response missing category")
	}

	confidence := wire.Confidence
	if confidence > 1 && confidence <= 100 {
		// Some models answer in percent despite instructions.
		confidence /= 100
	}
	if confidence < 0 || confidence > 1 {
		return ClassificationResponse{}, fmt.Errorf("confidence %v out of range", wire.Confidence)
	}

	return ClassificationResponse{
		Category:   category,
		Confidence: confidence,
		Reasoning:  strings.TrimSpace(wire.Reasoning),
	}, nil
}

// cleanMarkdownWrapper strips ```json fences models add despite being told
// not to.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		if idx := strings.IndexByte(content, '\n'); idx >= 0 {
			content = content[idx+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	return strings.TrimSpace(content)
}
