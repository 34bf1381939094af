// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Storage defines the contract for our persistence layer. All keyed
// collections are written atomically; a crash between stages leaves the
// last successfully persisted state, never a partial one.
type Storage interface {
	// Sync record operations
	GetSyncRecord(ctx context.Context, transactionID string) (*model.SyncRecord, error)
	SaveSyncRecord(ctx context.Context, record *model.SyncRecord) error
	GetSyncRecordsByStatus(ctx context.Context, status model.SyncStatus) ([]model.SyncRecord, error)

	// Classification mapping operations
	GetMapping(ctx context.Context, key string) (*model.ClassificationMapping, error)
	SaveMapping(ctx context.Context, mapping *model.ClassificationMapping) error
	GetLearnedMappings(ctx context.Context) ([]model.ClassificationMapping, error)
	GetRecentMappings(ctx context.Context, limit int) ([]model.ClassificationMapping, error)

	// Automation policy operations
	GetPolicy(ctx context.Context, group string) (*model.AutomationPolicy, error)
	SavePolicy(ctx context.Context, policy *model.AutomationPolicy) error

	// Pending suggestion operations; saving a batch supersedes the previous one
	ReplacePendingSuggestions(ctx context.Context, batch int64, suggestions []model.PendingSuggestion) error
	GetPendingSuggestion(ctx context.Context, index int) (*model.PendingSuggestion, error)
	GetPendingSuggestions(ctx context.Context) ([]model.PendingSuggestion, error)
	ClearPendingSuggestion(ctx context.Context, index int) error

	// Pre-split snapshots backing undo
	SaveSnapshot(ctx context.Context, snapshot *model.TransactionSnapshot) error
	GetSnapshot(ctx context.Context, transactionID string) (*model.TransactionSnapshot, error)
	DeleteSnapshot(ctx context.Context, transactionID string) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// Ledger is the boundary to the external budgeting service. Implementations
// convert between minor units and the service's wire units.
type Ledger interface {
	GetTransactions(ctx context.Context, since time.Time) ([]model.LedgerTransaction, error)
	GetTransaction(ctx context.Context, id string) (*model.LedgerTransaction, error)
	GetCategories(ctx context.Context) ([]model.Category, error)
	CreateSplit(ctx context.Context, transactionID string, parts []model.SplitPart) error
	AppendMemo(ctx context.Context, transactionID, note string) error
	DeleteTransaction(ctx context.Context, transactionID string) error
	CreateTransaction(ctx context.Context, txn model.LedgerTransaction) (string, error)
}

// RecordSource pulls external purchase records for a bounded lookback
// window. Implementations are pull-only.
type RecordSource interface {
	Fetch(ctx context.Context, since time.Time) ([]model.ExternalRecord, error)
}

// Classifier resolves a line-item description to a budget category.
type Classifier interface {
	Classify(ctx context.Context, item model.LineItem, categories []model.Category) (model.ItemClassification, error)
}

// Messenger delivers one outbound formatted message to the household
// channel. Delivery is fire-and-forget; a failure is logged, not retried
// within the pass.
type Messenger interface {
	Send(ctx context.Context, text string) error
}

// RetryOptions configures retry behavior for external operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// SyncStats summarizes one sync pass for the CLI and the status endpoint.
type SyncStats struct {
	StartedAt    time.Time
	Duration     time.Duration
	Seen         int
	Matched      int
	Unmatched    int
	Suggested    int
	AutoApplied  int
	RefundsFound int
	Deferred     int
	Errors       int
}
