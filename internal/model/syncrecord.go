package model

import "time"

// SyncStatus is the processing state of a ledger transaction within the
// reconciliation pipeline.
type SyncStatus string

// Sync record statuses. Transitions are monotonic forward except
// applied -> reverted (undo).
const (
	SyncPending    SyncStatus = "pending"
	SyncMatched    SyncStatus = "matched"
	SyncClassified SyncStatus = "classified"
	SyncApplied    SyncStatus = "applied"
	SyncSkipped    SyncStatus = "skipped"
	SyncUnmatched  SyncStatus = "unmatched"
	SyncReverted   SyncStatus = "reverted"
)

// SyncRecord is the durable per-transaction processing marker that makes
// repeated sync passes idempotent.
type SyncRecord struct {
	UpdatedAt     time.Time
	TransactionID string
	Status        SyncStatus
	Basis         MatchBasis
	SourceRefs    []string
}

// Reprocessable reports whether a later sync pass may pick the transaction
// up again. Applied, skipped, and unmatched records are settled; reverted
// records re-enter the pipeline.
func (s SyncStatus) Reprocessable() bool {
	switch s {
	case SyncPending, SyncMatched, SyncClassified, SyncReverted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal sync
// record transition.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	switch s {
	case SyncPending:
		return next == SyncMatched || next == SyncUnmatched || next == SyncSkipped
	case SyncMatched:
		return next == SyncClassified || next == SyncSkipped || next == SyncUnmatched
	case SyncClassified:
		return next == SyncApplied || next == SyncSkipped || next == SyncMatched || next == SyncUnmatched
	case SyncApplied:
		return next == SyncReverted
	case SyncReverted:
		return next == SyncMatched || next == SyncUnmatched || next == SyncSkipped
	default:
		return false
	}
}
