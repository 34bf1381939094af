package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/delivery"
	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/matcher"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/normalizer"
	"github.com/Veraticus/the-books-must-balance/internal/policy"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Sync runs one reconciliation pass. The progress callback may be nil.
// Only one pass runs at a time; a second trigger gets ErrSyncInProgress.
func (e *Engine) Sync(ctx context.Context, progress func(done, total int)) (service.SyncStats, error) {
	stats := service.SyncStats{StartedAt: time.Now()}
	if !e.tryAcquire() {
		return stats, common.ErrSyncInProgress
	}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		e.release(stats)
	}()

	ctx, cancel := context.WithTimeout(ctx, e.passBudget)
	defer cancel()

	since := stats.StartedAt.Add(-e.lookback)

	txns, err := e.ledger.GetTransactions(ctx, since)
	if err != nil {
		// Source unavailable: log and skip the pass; the next scheduled
		// run retries. Nothing is sent to the user.
		e.logger.Error("ledger unavailable, skipping pass", "error", err)
		stats.Errors++
		return stats, fmt.Errorf("%w: %v", common.ErrLedgerUnavailable, err)
	}

	records, recordProvider := e.fetchRecords(ctx, since)

	candidates, err := e.selectCandidates(ctx, txns)
	if err != nil {
		return stats, err
	}
	stats.Seen = len(candidates)

	appliedPurchases, err := e.appliedPurchases(ctx)
	if err != nil {
		e.logger.Warn("could not load applied purchases for refund matching", "error", err)
	}

	matches := e.matcher.MatchAll(candidates, records, appliedPurchases)

	categories, err := e.ledger.GetCategories(ctx)
	if err != nil {
		e.logger.Warn("category fetch failed, classifications will be uncertain", "error", err)
	}

	txnByID := make(map[string]model.LedgerTransaction, len(candidates))
	for _, txn := range candidates {
		txnByID[txn.ID] = txn
	}

	var suggestions []model.PendingSuggestion
	groupsSeen := make(map[string]bool)
	suggestedByGroup := make(map[string]int)

	for i, match := range matches {
		if progress != nil {
			progress(i+1, len(matches))
		}
		if ctx.Err() != nil {
			// Pass budget exceeded: everything already persisted stays;
			// the rest is picked up next run.
			e.logger.Warn("pass budget exceeded, aborting gracefully", "processed", i)
			stats.Deferred += len(matches) - i
			break
		}

		txn := txnByID[match.TransactionID]
		suggestion, outcome := e.processMatch(ctx, txn, match, recordProvider, categories, &stats)
		switch outcome {
		case matchDeferred:
			stats.Deferred++
		case matchProcessed:
			if suggestion != nil {
				group := suggestionGroup(suggestion.Provider)
				groupsSeen[group] = true
				if !suggestion.AutoApplied {
					suggestedByGroup[group]++
				}
				suggestions = append(suggestions, *suggestion)
			}
		}
	}

	batch := time.Now().UnixNano()
	for i := range suggestions {
		suggestions[i].Index = i + 1
		suggestions[i].Batch = batch
		suggestions[i].IssuedAt = time.Now()
	}
	if err := e.storage.ReplacePendingSuggestions(ctx, batch, suggestions); err != nil {
		e.logger.Error("failed to persist suggestion batch", "error", err)
		stats.Errors++
		return stats, err
	}

	for group, count := range suggestedByGroup {
		if err := e.policies.RecordSuggested(ctx, group, count); err != nil {
			e.logger.Warn("failed to record suggested count", "group", group, "error", err)
		}
	}

	message := delivery.FormatBatch(suggestions)
	for group := range groupsSeen {
		fired, proposeErr := e.policies.MaybePropose(ctx, group)
		if proposeErr != nil {
			e.logger.Warn("policy proposal check failed", "group", group, "error", proposeErr)
			continue
		}
		if fired {
			if message != "" {
				message += "\n\n"
			}
			message += fmt.Sprintf(
				"Suggestions for %s have been accepted almost every time for two weeks. Reply \"auto on\" to apply them automatically from now on.",
				group)
		}
	}

	if message != "" && e.messenger != nil {
		if sendErr := e.messenger.Send(ctx, message); sendErr != nil {
			// Delivery is fire-and-forget; the suggestions stay pending
			// and the next pass re-delivers what is still open.
			e.logger.Error("suggestion delivery failed", "error", sendErr)
			stats.Errors++
		}
	}

	e.logger.Info("sync pass complete",
		"seen", stats.Seen,
		"matched", stats.Matched,
		"unmatched", stats.Unmatched,
		"suggested", stats.Suggested,
		"auto_applied", stats.AutoApplied,
		"deferred", stats.Deferred)
	return stats, nil
}

// fetchRecords pulls every provider's records concurrently and waits for
// all of them: matching needs the complete record set for the window. A
// failed source is logged and contributes nothing.
func (e *Engine) fetchRecords(ctx context.Context, since time.Time) ([]model.ExternalRecord, map[string]model.Provider) {
	type result struct {
		provider model.Provider
		records  []model.ExternalRecord
		err      error
	}

	results := make(chan result, len(e.sources))
	var wg sync.WaitGroup
	for provider, source := range e.sources {
		wg.Add(1)
		go func(provider model.Provider, source service.RecordSource) {
			defer wg.Done()
			records, err := source.Fetch(ctx, since)
			results <- result{provider: provider, records: records, err: err}
		}(provider, source)
	}
	wg.Wait()
	close(results)

	var all []model.ExternalRecord
	providerByRef := make(map[string]model.Provider)
	for res := range results {
		if res.err != nil {
			e.logger.Error("record source unavailable, continuing without it",
				"provider", res.provider,
				"error", res.err)
			continue
		}
		for _, rec := range res.records {
			providerByRef[rec.SourceRef] = rec.Provider
		}
		all = append(all, res.records...)
	}

	// Re-sort the merged set so candidate ordering stays deterministic
	// across providers.
	all = normalizer.SortRecords(all)
	return all, providerByRef
}

// selectCandidates filters the window down to transactions the pass may
// touch and seeds sync records for ones never seen before.
func (e *Engine) selectCandidates(ctx context.Context, txns []model.LedgerTransaction) ([]model.LedgerTransaction, error) {
	var candidates []model.LedgerTransaction
	for _, txn := range txns {
		if txn.IsSplit {
			continue
		}
		record, err := e.storage.GetSyncRecord(ctx, txn.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read sync record: %w", err)
		}
		if record != nil && !record.Status.Reprocessable() {
			continue
		}
		if record == nil {
			record = &model.SyncRecord{
				TransactionID: txn.ID,
				Status:        model.SyncPending,
				UpdatedAt:     time.Now(),
			}
			if err := e.storage.SaveSyncRecord(ctx, record); err != nil {
				return nil, fmt.Errorf("failed to seed sync record: %w", err)
			}
		}
		candidates = append(candidates, txn)
	}
	return candidates, nil
}

// appliedPurchases loads every applied split as a refund reversal target.
func (e *Engine) appliedPurchases(ctx context.Context) ([]matcher.AppliedPurchase, error) {
	records, err := e.storage.GetSyncRecordsByStatus(ctx, model.SyncApplied)
	if err != nil {
		return nil, err
	}

	var purchases []matcher.AppliedPurchase
	for _, record := range records {
		snapshot, snapErr := e.storage.GetSnapshot(ctx, record.TransactionID)
		if snapErr != nil || snapshot == nil {
			continue
		}
		purchases = append(purchases, matcher.AppliedPurchase{
			TransactionID: record.TransactionID,
			Amount:        snapshot.Transaction.Amount,
			Parts:         snapshot.Parts,
		})
	}
	return purchases, nil
}

type matchOutcome int

const (
	matchProcessed matchOutcome = iota
	matchDeferred
	matchFailed
)

// processMatch advances one transaction through classification and either
// auto-applies it or queues a suggestion. Each stage transition is
// persisted before the next stage runs.
func (e *Engine) processMatch(ctx context.Context, txn model.LedgerTransaction, match model.Match, providerByRef map[string]model.Provider, categories []model.Category, stats *service.SyncStats) (*model.PendingSuggestion, matchOutcome) {
	if !match.Matched() {
		if err := e.setStatus(ctx, txn.ID, model.SyncUnmatched, match); err != nil {
			e.logger.Error("failed to mark unmatched", "transaction_id", txn.ID, "error", err)
			stats.Errors++
			return nil, matchFailed
		}
		stats.Unmatched++
		return nil, matchProcessed
	}

	stats.Matched++
	if match.Basis == model.BasisRefundReversal {
		stats.RefundsFound++
	}

	if err := e.setStatus(ctx, txn.ID, model.SyncMatched, match); err != nil {
		e.logger.Error("failed to mark matched", "transaction_id", txn.ID, "error", err)
		stats.Errors++
		return nil, matchFailed
	}

	parts, uncertain, err := e.buildParts(ctx, txn, match, categories)
	if err != nil {
		if errors.Is(err, llm.ErrBudgetExhausted) {
			// Budget spent: leave the record at matched and pick it up
			// on the next scheduled run.
			e.logger.Info("call budget exhausted, deferring transaction", "transaction_id", txn.ID)
			return nil, matchDeferred
		}
		e.logger.Error("failed to build split parts", "transaction_id", txn.ID, "error", err)
		stats.Errors++
		return nil, matchFailed
	}

	if err := e.setStatus(ctx, txn.ID, model.SyncClassified, match); err != nil {
		e.logger.Error("failed to mark classified", "transaction_id", txn.ID, "error", err)
		stats.Errors++
		return nil, matchFailed
	}

	provider := providerForMatch(match, providerByRef)
	group := suggestionGroup(provider)

	pol, err := e.policies.Get(ctx, group)
	if err != nil {
		e.logger.Warn("policy load failed, treating as suggest-only", "group", group, "error", err)
		pol = &model.AutomationPolicy{State: model.PolicySuggestOnly}
	}

	suggestion := &model.PendingSuggestion{
		TransactionID: txn.ID,
		Provider:      provider,
		Parts:         parts,
		Total:         txn.Amount,
		Date:          txn.Date,
		Uncertain:     uncertain,
	}

	// Low-confidence classifications always go through suggestion mode,
	// whatever the policy says.
	if pol.AutoApply() && !uncertain {
		if err := e.applyMatch(ctx, txn, match, parts); err != nil {
			// The record stays at classified, so the write is retried on
			// the next pass instead of silently dropped.
			e.logger.Error("auto-apply failed, will retry next pass",
				"transaction_id", txn.ID,
				"error", err)
			stats.Errors++
			return nil, matchFailed
		}
		suggestion.AutoApplied = true
		stats.AutoApplied++
		return suggestion, matchProcessed
	}

	stats.Suggested++
	return suggestion, matchProcessed
}

// applyMatch writes the split, enriches the memo, and advances the record
// to applied. The memo note is best-effort; split and status are not.
func (e *Engine) applyMatch(ctx context.Context, txn model.LedgerTransaction, match model.Match, parts []model.SplitPart) error {
	if err := e.writer.ApplySplit(ctx, txn, parts); err != nil {
		return err
	}

	if note := matchNote(match); note != "" {
		if err := e.writer.AppendMemo(ctx, txn.ID, note); err != nil {
			e.logger.Warn("memo enrichment failed", "transaction_id", txn.ID, "error", err)
		}
	}

	return e.setStatus(ctx, txn.ID, model.SyncApplied, match)
}

// setStatus persists one sync record transition. Saving the current status
// again (a resumed pass) is a no-op rather than an error.
func (e *Engine) setStatus(ctx context.Context, transactionID string, status model.SyncStatus, match model.Match) error {
	record, err := e.storage.GetSyncRecord(ctx, transactionID)
	if err != nil {
		return err
	}
	if record == nil {
		record = &model.SyncRecord{TransactionID: transactionID}
	}
	if record.Status == status {
		return nil
	}

	record.Status = status
	if match.Basis != "" {
		record.Basis = match.Basis
		record.SourceRefs = match.SourceRefs
	}
	record.UpdatedAt = time.Now()
	return e.storage.SaveSyncRecord(ctx, record)
}

func matchNote(match model.Match) string {
	if len(match.SourceRefs) > 0 {
		return "order " + strings.Join(match.SourceRefs, ", ")
	}
	if match.RefundOfID != "" {
		return "refund of " + match.RefundOfID
	}
	return ""
}

func providerForMatch(match model.Match, providerByRef map[string]model.Provider) model.Provider {
	for _, ref := range match.SourceRefs {
		if provider, ok := providerByRef[ref]; ok {
			return provider
		}
	}
	return ""
}

func suggestionGroup(provider model.Provider) string {
	if provider == "" {
		return policy.DefaultGroup
	}
	return string(provider)
}
