package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Writer applies category splits and memo enrichment to the ledger, and can
// reverse a prior split. Every split is snapshotted before it is written so
// undo can recreate the pre-split transaction.
type Writer struct {
	ledger    service.Ledger
	storage   service.Storage
	logger    *slog.Logger
	retryOpts service.RetryOptions
}

// NewWriter creates a ledger writer.
func NewWriter(ledger service.Ledger, storage service.Storage, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		ledger:  ledger,
		storage: storage,
		logger:  logger,
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     20 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// ApplySplit replaces the transaction's categorization with the given parts.
// The part amounts must sum exactly to the transaction's signed amount in
// minor units; a mismatch is rejected before any ledger call, never
// rescaled. The pre-split state is snapshotted first so the write can be
// undone.
func (w *Writer) ApplySplit(ctx context.Context, txn model.LedgerTransaction, parts []model.SplitPart) error {
	if len(parts) == 0 {
		return fmt.Errorf("split requires at least one part")
	}
	if sum := model.SumParts(parts); sum != txn.Amount {
		return fmt.Errorf("%w: parts sum %d, transaction amount %d",
			common.ErrSplitSumMismatch, sum, txn.Amount)
	}

	snapshot := &model.TransactionSnapshot{
		TransactionID: txn.ID,
		Transaction:   txn,
		Parts:         parts,
		TakenAt:       time.Now(),
	}
	if err := w.storage.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to snapshot pre-split state: %w", err)
	}

	err := common.WithRetry(ctx, func() error {
		if writeErr := w.ledger.CreateSplit(ctx, txn.ID, parts); writeErr != nil {
			return &common.RetryableError{Err: writeErr, Retryable: common.IsRetryable(writeErr)}
		}
		return nil
	}, w.retryOpts)
	if err != nil {
		return fmt.Errorf("split write failed: %w", err)
	}

	w.logger.Info("split applied",
		"transaction_id", txn.ID,
		"parts", len(parts),
		"amount", txn.Amount)
	return nil
}

// AppendMemo adds descriptive text to a transaction's memo.
func (w *Writer) AppendMemo(ctx context.Context, transactionID, note string) error {
	return common.WithRetry(ctx, func() error {
		if err := w.ledger.AppendMemo(ctx, transactionID, note); err != nil {
			return &common.RetryableError{Err: err, Retryable: common.IsRetryable(err)}
		}
		return nil
	}, w.retryOpts)
}

// Undo reverses a previously applied split by delete-and-recreate: the
// ledger service cannot edit split parts in place, so the split transaction
// is deleted and a single, unsplit transaction with the snapshotted amount,
// date, counterparty, category, and memo takes its place. Undo on an
// already-reverted record is a no-op that reports success.
func (w *Writer) Undo(ctx context.Context, transactionID string) error {
	record, err := w.storage.GetSyncRecord(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("failed to load sync record: %w", err)
	}
	if record == nil {
		return fmt.Errorf("%w: no sync record for transaction %s", common.ErrNotFound, transactionID)
	}

	switch record.Status {
	case model.SyncReverted:
		w.logger.Info("undo requested for already-reverted transaction", "transaction_id", transactionID)
		return nil
	case model.SyncApplied:
		// Only applied records can be reverted.
	default:
		return fmt.Errorf("cannot undo transaction %s in state %s", transactionID, record.Status)
	}

	snapshot, err := w.storage.GetSnapshot(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("failed to load pre-split snapshot: %w", err)
	}
	if snapshot == nil {
		return fmt.Errorf("%w: no snapshot for transaction %s", common.ErrNotFound, transactionID)
	}

	if err := w.ledger.DeleteTransaction(ctx, transactionID); err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("failed to delete split transaction: %w", err)
	}

	restored := snapshot.Transaction
	restored.ID = ""
	restored.IsSplit = false
	newID, err := w.ledger.CreateTransaction(ctx, restored)
	if err != nil {
		return fmt.Errorf("failed to recreate original transaction: %w", err)
	}

	record.Status = model.SyncReverted
	record.UpdatedAt = time.Now()
	if err := w.storage.SaveSyncRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to mark sync record reverted: %w", err)
	}
	if err := w.storage.DeleteSnapshot(ctx, transactionID); err != nil {
		w.logger.Warn("failed to delete consumed snapshot", "transaction_id", transactionID, "error", err)
	}

	w.logger.Info("split reverted",
		"transaction_id", transactionID,
		"recreated_id", newID)
	return nil
}
