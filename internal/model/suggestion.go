package model

import "time"

// ItemClassification is the classifier's decision for one line item.
type ItemClassification struct {
	Category   string
	Reasoning  string
	Source     MappingSource
	Confidence float64
	Uncertain  bool
}

// PendingSuggestion is an outstanding, indexed proposal awaiting a human
// accept/modify/skip reply. Indexes are 1-based and scoped to the most
// recently delivered batch.
type PendingSuggestion struct {
	IssuedAt      time.Time
	Date          time.Time
	TransactionID string
	Provider      Provider
	Parts         []SplitPart
	Index         int
	Batch         int64
	Total         int64
	Uncertain     bool
	AutoApplied   bool
}

// SuggestionOutcome records what the user did with a suggestion.
type SuggestionOutcome string

const (
	// OutcomeAcceptedUnmodified means the proposal was applied as-is.
	OutcomeAcceptedUnmodified SuggestionOutcome = "accepted_unmodified"
	// OutcomeAcceptedModified means the user supplied a different category
	// or split before applying.
	OutcomeAcceptedModified SuggestionOutcome = "accepted_modified"
	// OutcomeSkipped means the user declined the proposal.
	OutcomeSkipped SuggestionOutcome = "skipped"
)
