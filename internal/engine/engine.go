// Package engine drives one reconciliation pass end to end and resolves
// inbound replies against pending suggestions. A pass is idempotent by
// construction: it only touches transactions whose sync record is missing
// or in a non-terminal state, and it persists every state transition
// synchronously, so re-running the same window never double-applies a
// split and a crash mid-pass resumes cleanly.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/ledger"
	"github.com/Veraticus/the-books-must-balance/internal/matcher"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/policy"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Classifier is the classification dependency, including the learning path
// replies use to persist corrections.
type Classifier interface {
	service.Classifier
	Learn(ctx context.Context, description, category string) error
}

// OutcomeJournal appends suggestion outcomes for auditing.
type OutcomeJournal interface {
	RecordSuggestionOutcome(ctx context.Context, transactionID, group string, outcome model.SuggestionOutcome) error
}

// Config holds engine tuning knobs.
type Config struct {
	Lookback   time.Duration // how far back the sync window reaches
	PassBudget time.Duration // wall-clock budget for one pass
}

// Engine is the sync orchestrator.
type Engine struct {
	storage    service.Storage
	journal    OutcomeJournal
	ledger     service.Ledger
	writer     *ledger.Writer
	sources    map[model.Provider]service.RecordSource
	classifier Classifier
	matcher    *matcher.Matcher
	policies   *policy.Manager
	messenger  service.Messenger
	logger     *slog.Logger

	lookback   time.Duration
	passBudget time.Duration

	mu        sync.Mutex
	running   bool
	lastStats service.SyncStats
}

// New creates an engine. The messenger may be nil for headless runs; every
// other dependency is required.
func New(
	storage service.Storage,
	journal OutcomeJournal,
	ledgerSvc service.Ledger,
	writer *ledger.Writer,
	sources map[model.Provider]service.RecordSource,
	classifier Classifier,
	policies *policy.Manager,
	messenger service.Messenger,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	lookback := cfg.Lookback
	if lookback == 0 {
		lookback = 30 * 24 * time.Hour
	}
	passBudget := cfg.PassBudget
	if passBudget == 0 {
		passBudget = 10 * time.Minute
	}

	return &Engine{
		storage:    storage,
		journal:    journal,
		ledger:     ledgerSvc,
		writer:     writer,
		sources:    sources,
		classifier: classifier,
		matcher:    matcher.New(logger),
		policies:   policies,
		messenger:  messenger,
		logger:     logger,
		lookback:   lookback,
		passBudget: passBudget,
	}
}

// LastStats returns the most recent pass summary.
func (e *Engine) LastStats() service.SyncStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastStats
}

// Running reports whether a pass is currently active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// tryAcquire takes the single-flight lock. Only one pass may run at a
// time: both the pass and reply handling mutate the same stores.
func (e *Engine) tryAcquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	return true
}

func (e *Engine) release(stats service.SyncStats) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.lastStats = stats
}
