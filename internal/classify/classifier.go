// Package classify resolves line-item descriptions to budget categories.
// The persisted mapping cache is always consulted before the generative
// classifier; a cached key never costs an external call again.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// ConfidenceThreshold marks classifications below it as uncertain. Uncertain
// items are flagged in the outgoing suggestion, never withheld.
const ConfidenceThreshold = 0.7

// exampleLimit bounds how many recent mappings ride along as in-context
// examples.
const exampleLimit = 12

// minSubstringKeyLen keeps trivial learned keys ("usb", "tea") from
// matching inside unrelated titles.
const minSubstringKeyLen = 6

// Classifier implements service.Classifier over the mapping cache and an
// LLM fallback.
type Classifier struct {
	storage   service.Storage
	client    llm.Client
	logger    *slog.Logger
	retryOpts service.RetryOptions
}

// New creates a classifier.
func New(storage service.Storage, client llm.Client, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		storage: storage,
		client:  client,
		logger:  logger,
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Classify resolves one line item to a category. A cache hit or learned-key
// substring match short-circuits with zero external calls. A generative call
// that errors or returns an unparseable result degrades to category none
// with confidence 0 rather than failing the batch; only budget exhaustion
// propagates, because it means defer, not degrade.
func (c *Classifier) Classify(ctx context.Context, item model.LineItem, categories []model.Category) (model.ItemClassification, error) {
	key := model.NormalizeKey(item.Description)
	if key == "" {
		return uncertainNone("empty description"), nil
	}

	if mapping, err := c.storage.GetMapping(ctx, key); err == nil && mapping != nil {
		c.logger.Debug("mapping cache hit", "key", key, "category", mapping.Category)
		return model.ItemClassification{
			Category:   mapping.Category,
			Confidence: 1.0,
			Source:     mapping.Source,
		}, nil
	} else if err != nil && !errors.Is(err, common.ErrNotFound) {
		return model.ItemClassification{}, fmt.Errorf("mapping lookup failed: %w", err)
	}

	if resolved, ok := c.substringMatch(ctx, key); ok {
		return resolved, nil
	}

	return c.classifyWithModel(ctx, item, key, categories)
}

// Learn records a human-confirmed category for a description. Learned
// mappings overwrite whatever was there before with confidence 1.0.
func (c *Classifier) Learn(ctx context.Context, description, category string) error {
	key := model.NormalizeKey(description)
	if key == "" {
		return fmt.Errorf("cannot learn mapping for empty description")
	}

	mapping := &model.ClassificationMapping{
		Key:        key,
		Category:   category,
		Confidence: 1.0,
		Source:     model.SourceLearned,
		UpdatedAt:  time.Now(),
	}
	if err := c.storage.SaveMapping(ctx, mapping); err != nil {
		return fmt.Errorf("failed to save learned mapping: %w", err)
	}

	c.logger.Info("learned classification mapping", "key", key, "category", category)
	return nil
}

// substringMatch handles minor title variation ("AmazonBasics AA Batteries
// 24ct" vs "AmazonBasics AA Batteries") against previously learned keys.
func (c *Classifier) substringMatch(ctx context.Context, key string) (model.ItemClassification, bool) {
	learned, err := c.storage.GetLearnedMappings(ctx)
	if err != nil {
		c.logger.Warn("learned mapping scan failed", "error", err)
		return model.ItemClassification{}, false
	}

	for _, mapping := range learned {
		// Short keys match inside too many unrelated descriptions.
		if len(mapping.Key) < minSubstringKeyLen || len(key) < minSubstringKeyLen {
			continue
		}
		if strings.Contains(key, mapping.Key) || strings.Contains(mapping.Key, key) {
			c.logger.Debug("learned key substring match",
				"key", key,
				"learned_key", mapping.Key,
				"category", mapping.Category)
			return model.ItemClassification{
				Category:   mapping.Category,
				Confidence: 0.9,
				Source:     model.SourceLearned,
			}, true
		}
	}
	return model.ItemClassification{}, false
}

func (c *Classifier) classifyWithModel(ctx context.Context, item model.LineItem, key string, categories []model.Category) (model.ItemClassification, error) {
	examples, err := c.storage.GetRecentMappings(ctx, exampleLimit)
	if err != nil {
		c.logger.Warn("recent mapping fetch failed, classifying without examples", "error", err)
		examples = nil
	}

	prompt := buildPrompt(item, categories, examples)

	var response llm.ClassificationResponse
	err = common.WithRetry(ctx, func() error {
		resp, classifyErr := c.client.Classify(ctx, prompt)
		if classifyErr != nil {
			if errors.Is(classifyErr, llm.ErrBudgetExhausted) {
				return &common.RetryableError{Err: classifyErr, Retryable: false}
			}
			return &common.RetryableError{Err: classifyErr, Retryable: true}
		}
		response = resp
		return nil
	}, c.retryOpts)

	if err != nil {
		if errors.Is(err, llm.ErrBudgetExhausted) {
			return model.ItemClassification{}, err
		}
		c.logger.Warn("classification degraded to uncertain",
			"key", key,
			"error", err)
		return uncertainNone("classifier unavailable"), nil
	}

	classification := model.ItemClassification{
		Category:   response.Category,
		Confidence: response.Confidence,
		Reasoning:  response.Reasoning,
		Source:     model.SourceModel,
		Uncertain:  response.Confidence < ConfidenceThreshold,
	}

	// The model occasionally invents a category; an off-list answer is
	// usable but never confident.
	if resolved, ok := resolveCategory(response.Category, categories); ok {
		classification.Category = resolved
	} else {
		classification.Uncertain = true
	}

	// Uncertain answers stay out of the cache; a later hit would report
	// them at full confidence.
	if !classification.Uncertain {
		mapping := &model.ClassificationMapping{
			Key:        key,
			Category:   classification.Category,
			Confidence: classification.Confidence,
			Source:     model.SourceModel,
			UpdatedAt:  time.Now(),
		}
		if saveErr := c.storage.SaveMapping(ctx, mapping); saveErr != nil {
			c.logger.Warn("failed to cache classification mapping", "key", key, "error", saveErr)
		}
	}

	c.logger.Info("line item classified",
		"key", key,
		"category", classification.Category,
		"confidence", classification.Confidence,
		"uncertain", classification.Uncertain)

	return classification, nil
}

// resolveCategory matches a model answer against the ledger's category set,
// case-insensitively.
func resolveCategory(name string, categories []model.Category) (string, bool) {
	for _, cat := range categories {
		if strings.EqualFold(cat.Name, name) {
			return cat.Name, true
		}
	}
	return name, false
}

func uncertainNone(reason string) model.ItemClassification {
	return model.ItemClassification{
		Category:   "",
		Confidence: 0,
		Reasoning:  reason,
		Source:     model.SourceModel,
		Uncertain:  true,
	}
}
