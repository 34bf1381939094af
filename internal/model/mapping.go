package model

import (
	"strings"
	"time"
)

// MappingSource indicates how a classification mapping was produced.
type MappingSource string

const (
	// SourceLearned means a human confirmed or corrected the category.
	SourceLearned MappingSource = "learned"
	// SourceModel means the generative classifier produced the category.
	SourceModel MappingSource = "model"
)

// ClassificationMapping is a persisted association from a normalized item
// key to a budget category. Mappings are overwritten on user correction
// (source becomes learned, confidence 1.0) and never deleted automatically.
type ClassificationMapping struct {
	UpdatedAt  time.Time
	Key        string
	Category   string
	Source     MappingSource
	Confidence float64
}

// NormalizeKey folds an item description into the canonical cache key:
// lowercased, trimmed, interior whitespace collapsed.
func NormalizeKey(description string) string {
	return strings.Join(strings.Fields(strings.ToLower(description)), " ")
}
