package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

// fakeLedger records writes in memory.
type fakeLedger struct {
	splits       map[string][]model.SplitPart
	deleted      map[string]bool
	created      []model.LedgerTransaction
	memos        map[string][]string
	splitErr     error
	failuresLeft int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		splits:  make(map[string][]model.SplitPart),
		deleted: make(map[string]bool),
		memos:   make(map[string][]string),
	}
}

func (f *fakeLedger) GetTransactions(_ context.Context, _ time.Time) ([]model.LedgerTransaction, error) {
	return nil, nil
}

func (f *fakeLedger) GetTransaction(_ context.Context, id string) (*model.LedgerTransaction, error) {
	return &model.LedgerTransaction{ID: id}, nil
}

func (f *fakeLedger) GetCategories(_ context.Context) ([]model.Category, error) {
	return nil, nil
}

func (f *fakeLedger) CreateSplit(_ context.Context, transactionID string, parts []model.SplitPart) error {
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return &common.RetryableError{Err: common.ErrLedgerUnavailable, Retryable: true}
	}
	if f.splitErr != nil {
		return f.splitErr
	}
	f.splits[transactionID] = parts
	return nil
}

func (f *fakeLedger) AppendMemo(_ context.Context, transactionID, note string) error {
	f.memos[transactionID] = append(f.memos[transactionID], note)
	return nil
}

func (f *fakeLedger) DeleteTransaction(_ context.Context, transactionID string) error {
	f.deleted[transactionID] = true
	return nil
}

func (f *fakeLedger) CreateTransaction(_ context.Context, txn model.LedgerTransaction) (string, error) {
	f.created = append(f.created, txn)
	return "recreated-1", nil
}

func newTestWriter(t *testing.T) (*Writer, *fakeLedger, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	ledger := newFakeLedger()
	writer := NewWriter(ledger, store, nil)
	writer.retryOpts.InitialDelay = time.Millisecond
	writer.retryOpts.MaxDelay = time.Millisecond
	return writer, ledger, store
}

func groceriesSplit() []model.SplitPart {
	return []model.SplitPart{
		{Category: "Groceries", Memo: "Coffee beans", Amount: -1599},
		{Category: "Household", Memo: "Paper towels", Amount: -4798},
	}
}

func TestApplySplitRejectsSumMismatch(t *testing.T) {
	writer, ledger, _ := newTestWriter(t)
	ctx := context.Background()

	txn := model.LedgerTransaction{ID: "txn-1", Amount: -9999}
	err := writer.ApplySplit(ctx, txn, groceriesSplit())

	require.ErrorIs(t, err, common.ErrSplitSumMismatch)
	assert.Empty(t, ledger.splits, "no ledger call on invariant violation")
}

func TestApplySplitWritesAndSnapshots(t *testing.T) {
	writer, ledger, store := newTestWriter(t)
	ctx := context.Background()

	txn := model.LedgerTransaction{ID: "txn-1", Amount: -6397, Payee: "Amazon", Memo: "card charge"}
	require.NoError(t, writer.ApplySplit(ctx, txn, groceriesSplit()))

	assert.Len(t, ledger.splits["txn-1"], 2)

	snapshot, err := store.GetSnapshot(ctx, "txn-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, "card charge", snapshot.Transaction.Memo)
	assert.Equal(t, int64(-6397), snapshot.Transaction.Amount)
}

func TestApplySplitRetriesTransientFailure(t *testing.T) {
	writer, ledger, _ := newTestWriter(t)
	ctx := context.Background()

	ledger.failuresLeft = 2
	txn := model.LedgerTransaction{ID: "txn-1", Amount: -6397}
	require.NoError(t, writer.ApplySplit(ctx, txn, groceriesSplit()))
	assert.Len(t, ledger.splits["txn-1"], 2)
}

func TestUndoRoundTrip(t *testing.T) {
	writer, ledger, store := newTestWriter(t)
	ctx := context.Background()

	// Walk the sync record to applied the way the engine does.
	record := &model.SyncRecord{TransactionID: "txn-1", Status: model.SyncPending, UpdatedAt: time.Now()}
	require.NoError(t, store.SaveSyncRecord(ctx, record))
	for _, status := range []model.SyncStatus{model.SyncMatched, model.SyncClassified} {
		record.Status = status
		require.NoError(t, store.SaveSyncRecord(ctx, record))
	}

	txn := model.LedgerTransaction{ID: "txn-1", Amount: -6397, Payee: "Amazon", Category: "To Sort"}
	require.NoError(t, writer.ApplySplit(ctx, txn, groceriesSplit()))
	record.Status = model.SyncApplied
	require.NoError(t, store.SaveSyncRecord(ctx, record))

	require.NoError(t, writer.Undo(ctx, "txn-1"))

	assert.True(t, ledger.deleted["txn-1"], "split transaction deleted")
	require.Len(t, ledger.created, 1)
	restored := ledger.created[0]
	assert.Empty(t, restored.ID, "recreation lets the ledger assign a fresh ID")
	assert.Equal(t, int64(-6397), restored.Amount)
	assert.Equal(t, "To Sort", restored.Category)
	assert.False(t, restored.IsSplit)

	got, err := store.GetSyncRecord(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncReverted, got.Status)

	snapshot, err := store.GetSnapshot(ctx, "txn-1")
	require.NoError(t, err)
	assert.Nil(t, snapshot, "consumed snapshot removed")
}

func TestUndoOnRevertedIsNoOp(t *testing.T) {
	writer, ledger, store := newTestWriter(t)
	ctx := context.Background()

	record := &model.SyncRecord{TransactionID: "txn-1", Status: model.SyncPending, UpdatedAt: time.Now()}
	require.NoError(t, store.SaveSyncRecord(ctx, record))
	for _, status := range []model.SyncStatus{model.SyncMatched, model.SyncClassified} {
		record.Status = status
		require.NoError(t, store.SaveSyncRecord(ctx, record))
	}

	txn := model.LedgerTransaction{ID: "txn-1", Amount: -6397}
	require.NoError(t, writer.ApplySplit(ctx, txn, groceriesSplit()))
	record.Status = model.SyncApplied
	require.NoError(t, store.SaveSyncRecord(ctx, record))

	require.NoError(t, writer.Undo(ctx, "txn-1"))
	created := len(ledger.created)

	// Second undo succeeds without touching the ledger again.
	require.NoError(t, writer.Undo(ctx, "txn-1"))
	assert.Equal(t, created, len(ledger.created))
}

func TestUndoRequiresAppliedState(t *testing.T) {
	writer, _, store := newTestWriter(t)
	ctx := context.Background()

	record := &model.SyncRecord{TransactionID: "txn-1", Status: model.SyncPending, UpdatedAt: time.Now()}
	require.NoError(t, store.SaveSyncRecord(ctx, record))

	err := writer.Undo(ctx, "txn-1")
	assert.Error(t, err)
}

func TestUndoUnknownTransaction(t *testing.T) {
	writer, _, _ := newTestWriter(t)

	err := writer.Undo(context.Background(), "never-seen")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
