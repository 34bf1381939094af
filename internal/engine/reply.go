package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/delivery"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// ErrNotOurs marks reply text the suggestion resolver does not own. The
// caller should route it to whatever generic handling it has instead of
// answering with an error.
var ErrNotOurs = fmt.Errorf("reply is not a suggestion action")

// suggestionTTL bounds how long a delivered batch stays actionable. A new
// batch supersedes the old one before this in normal operation; the cutoff
// only matters when syncing stops.
const suggestionTTL = 7 * 24 * time.Hour

// lookupSuggestion fetches a pending suggestion, dropping it when its batch
// is past the reply horizon.
func (e *Engine) lookupSuggestion(ctx context.Context, idx int) (*model.PendingSuggestion, error) {
	suggestion, err := e.storage.GetPendingSuggestion(ctx, idx)
	if err != nil || suggestion == nil {
		return nil, err
	}
	if time.Since(suggestion.IssuedAt) > suggestionTTL {
		if clearErr := e.storage.ClearPendingSuggestion(ctx, suggestion.Index); clearErr != nil {
			e.logger.Warn("failed to clear expired suggestion", "index", idx, "error", clearErr)
		}
		return nil, nil
	}
	return suggestion, nil
}

// HandleReply resolves one inbound reply against the pending suggestion
// batch and returns the confirmation text to send back.
func (e *Engine) HandleReply(ctx context.Context, text string) (string, error) {
	if !e.tryAcquire() {
		return "", common.ErrSyncInProgress
	}
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	reply := delivery.ParseReply(text)

	switch reply.Action {
	case delivery.ActionAccept:
		return e.acceptSuggestion(ctx, reply.Index, "")
	case delivery.ActionAcceptModified:
		return e.acceptSuggestion(ctx, reply.Index, reply.Category)
	case delivery.ActionSkip:
		return e.skipSuggestion(ctx, reply.Index)
	case delivery.ActionUndo:
		return e.undoSuggestion(ctx, reply.Index)
	case delivery.ActionPolicyOn:
		return e.setAutomation(ctx, true)
	case delivery.ActionPolicyOff:
		return e.setAutomation(ctx, false)
	default:
		return "", ErrNotOurs
	}
}

// acceptSuggestion applies suggestion idx. A non-empty category replaces
// the proposal with a single-part split under that category, and the
// correction is learned so the next occurrence is a cache hit.
func (e *Engine) acceptSuggestion(ctx context.Context, idx int, category string) (string, error) {
	suggestion, err := e.lookupSuggestion(ctx, idx)
	if err != nil {
		return "", err
	}
	if suggestion == nil {
		return fmt.Sprintf("No pending suggestion %d. It may belong to an older batch.", idx), nil
	}
	if suggestion.AutoApplied {
		return fmt.Sprintf("Suggestion %d was applied automatically; reply \"undo %d\" to reverse it.", idx, idx), nil
	}

	txn, err := e.ledger.GetTransaction(ctx, suggestion.TransactionID)
	if err != nil {
		return "", fmt.Errorf("failed to load transaction for suggestion %d: %w", idx, err)
	}

	parts := suggestion.Parts
	outcome := model.OutcomeAcceptedUnmodified
	if category != "" {
		resolved, resolveErr := e.resolveCategory(ctx, category)
		if resolveErr != nil {
			return "", resolveErr
		}
		if resolved == nil {
			return fmt.Sprintf("I don't know a category called %q.", category), nil
		}
		parts = []model.SplitPart{{
			Category:   resolved.Name,
			CategoryID: resolved.ID,
			Memo:       joinMemos(suggestion.Parts),
			Amount:     suggestion.Total,
		}}
		outcome = model.OutcomeAcceptedModified
	}

	if err := e.writer.ApplySplit(ctx, *txn, parts); err != nil {
		return "", fmt.Errorf("failed to apply suggestion %d: %w", idx, err)
	}
	if err := e.setStatus(ctx, suggestion.TransactionID, model.SyncApplied, model.Match{}); err != nil {
		e.logger.Error("split applied but status update failed",
			"transaction_id", suggestion.TransactionID,
			"error", err)
	}

	// Accepted categorizations become learned mappings so repeat items skip
	// the model entirely.
	for _, part := range parts {
		if part.Memo == "" || part.Category == "" {
			continue
		}
		if learnErr := e.classifier.Learn(ctx, part.Memo, part.Category); learnErr != nil {
			e.logger.Warn("failed to learn accepted mapping",
				"description", part.Memo,
				"error", learnErr)
		}
	}

	e.settleOutcome(ctx, suggestion, outcome)

	if outcome == model.OutcomeAcceptedModified {
		return fmt.Sprintf("Applied %d as %s.", idx, parts[0].Category), nil
	}
	return fmt.Sprintf("Applied %d.", idx), nil
}

func (e *Engine) skipSuggestion(ctx context.Context, idx int) (string, error) {
	suggestion, err := e.lookupSuggestion(ctx, idx)
	if err != nil {
		return "", err
	}
	if suggestion == nil {
		return fmt.Sprintf("No pending suggestion %d.", idx), nil
	}
	if suggestion.AutoApplied {
		return fmt.Sprintf("Suggestion %d is already applied; reply \"undo %d\" to reverse it.", idx, idx), nil
	}

	if err := e.setStatus(ctx, suggestion.TransactionID, model.SyncSkipped, model.Match{}); err != nil {
		return "", err
	}
	e.settleOutcome(ctx, suggestion, model.OutcomeSkipped)
	return fmt.Sprintf("Skipped %d.", idx), nil
}

func (e *Engine) undoSuggestion(ctx context.Context, idx int) (string, error) {
	suggestion, err := e.lookupSuggestion(ctx, idx)
	if err != nil {
		return "", err
	}
	if suggestion == nil {
		return fmt.Sprintf("No pending suggestion %d.", idx), nil
	}

	if err := e.writer.Undo(ctx, suggestion.TransactionID); err != nil {
		return "", fmt.Errorf("failed to undo %d: %w", idx, err)
	}
	if err := e.storage.ClearPendingSuggestion(ctx, suggestion.Index); err != nil {
		e.logger.Warn("undo succeeded but suggestion not cleared", "index", idx, "error", err)
	}
	return fmt.Sprintf("Reverted %d to its original state.", idx), nil
}

func (e *Engine) setAutomation(ctx context.Context, enable bool) (string, error) {
	groups := e.providerGroups()
	for _, group := range groups {
		var err error
		if enable {
			err = e.policies.ConfirmAuto(ctx, group)
		} else {
			err = e.policies.Disable(ctx, group)
		}
		if err != nil {
			return "", fmt.Errorf("failed to update automation for %s: %w", group, err)
		}
	}
	if enable {
		return "Auto-apply is on. High-confidence suggestions will be applied without asking; reply \"undo N\" to reverse any of them.", nil
	}
	return "Auto-apply is off. Everything goes back to suggestions.", nil
}

// settleOutcome records what happened to a suggestion in the policy window
// and the audit journal, then removes it from the pending batch. All three
// are best-effort once the split decision itself is durable.
func (e *Engine) settleOutcome(ctx context.Context, suggestion *model.PendingSuggestion, outcome model.SuggestionOutcome) {
	group := suggestionGroup(suggestion.Provider)
	if err := e.policies.RecordOutcome(ctx, group, outcome); err != nil {
		e.logger.Warn("failed to record outcome in policy window", "group", group, "error", err)
	}
	if e.journal != nil {
		if err := e.journal.RecordSuggestionOutcome(ctx, suggestion.TransactionID, group, outcome); err != nil {
			e.logger.Warn("failed to journal outcome", "transaction_id", suggestion.TransactionID, "error", err)
		}
	}
	if err := e.storage.ClearPendingSuggestion(ctx, suggestion.Index); err != nil {
		e.logger.Warn("failed to clear settled suggestion", "index", suggestion.Index, "error", err)
	}
}

// resolveCategory matches user-supplied category text against the ledger's
// category list, case-insensitively, preferring exact matches over prefix
// matches.
func (e *Engine) resolveCategory(ctx context.Context, name string) (*model.Category, error) {
	categories, err := e.ledger.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}

	lower := strings.ToLower(strings.TrimSpace(name))
	var prefix *model.Category
	for i, cat := range categories {
		if cat.Hidden {
			continue
		}
		catLower := strings.ToLower(cat.Name)
		if catLower == lower {
			return &categories[i], nil
		}
		if prefix == nil && strings.HasPrefix(catLower, lower) {
			prefix = &categories[i]
		}
	}
	return prefix, nil
}

func (e *Engine) providerGroups() []string {
	groups := make([]string, 0, len(e.sources))
	for provider := range e.sources {
		groups = append(groups, string(provider))
	}
	if len(groups) == 0 {
		groups = []string{suggestionGroup("")}
	}
	return groups
}

func joinMemos(parts []model.SplitPart) string {
	memos := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Memo != "" {
			memos = append(memos, part.Memo)
		}
	}
	return strings.Join(memos, "; ")
}
