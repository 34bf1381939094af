package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/ledger"
	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/policy"
	"github.com/Veraticus/the-books-must-balance/internal/service"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

type fakeLedger struct {
	txns       []model.LedgerTransaction
	categories []model.Category
	splits     map[string][]model.SplitPart
	memos      map[string][]string
	deleted    map[string]bool
	created    []model.LedgerTransaction
	txnErr     error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		categories: []model.Category{
			{ID: "cat-1", Name: "Groceries", Group: "Everyday"},
			{ID: "cat-2", Name: "Household", Group: "Everyday"},
		},
		splits:  make(map[string][]model.SplitPart),
		memos:   make(map[string][]string),
		deleted: make(map[string]bool),
	}
}

func (f *fakeLedger) GetTransactions(_ context.Context, _ time.Time) ([]model.LedgerTransaction, error) {
	if f.txnErr != nil {
		return nil, f.txnErr
	}
	return f.txns, nil
}

func (f *fakeLedger) GetTransaction(_ context.Context, id string) (*model.LedgerTransaction, error) {
	for _, txn := range f.txns {
		if txn.ID == id {
			return &txn, nil
		}
	}
	return nil, common.ErrNotFound
}

func (f *fakeLedger) GetCategories(_ context.Context) ([]model.Category, error) {
	return f.categories, nil
}

func (f *fakeLedger) CreateSplit(_ context.Context, transactionID string, parts []model.SplitPart) error {
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

type fakeSource struct {
	records []model.ExternalRecord
	err     error
}

func (f *fakeSource) Fetch(_ context.Context, _ time.Time) ([]model.ExternalRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeMessenger struct {
	sent []string
}

func (f *fakeMessenger) Send(_ context.Context, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

type fakeLLM struct {
	calls    int
	response llm.ClassificationResponse
	err      error
}

func (f *fakeLLM) Classify(_ context.Context, _ string) (llm.ClassificationResponse, error) {
	f.calls++
	if f.err != nil {
		return llm.ClassificationResponse{}, f.err
	}
	return f.response, nil
}

type harness struct {
	engine    *Engine
	store     *storage.SQLiteStorage
	ledger    *fakeLedger
	source    *fakeSource
	messenger *fakeMessenger
	llm       *fakeLLM
	policies  *policy.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	fl := newFakeLedger()
	src := &fakeSource{}
	msg := &fakeMessenger{}
	client := &fakeLLM{response: llm.ClassificationResponse{
		Category:   "Groceries",
		Confidence: 0.95,
		Reasoning:  "looks edible",
	}}
	policies := policy.NewManager(store, nil)

	eng := New(
		store,
		store,
		fl,
		ledger.NewWriter(fl, store, nil),
		map[model.Provider]service.RecordSource{model.ProviderAmazon: src},
		classify.New(store, client, nil),
		policies,
		msg,
		Config{},
		nil,
	)

	return &harness{
		engine:    eng,
		store:     store,
		ledger:    fl,
		source:    src,
		messenger: msg,
		llm:       client,
		policies:  policies,
	}
}

func day(d int) time.Time {
	return time.Now().AddDate(0, 0, -d).Truncate(24 * time.Hour)
}

// groceryScenario seeds one unsplit charge and its matching order record.
func (h *harness) groceryScenario() {
	h.ledger.txns = []model.LedgerTransaction{
		{ID: "txn-1", Date: day(2), Payee: "Amazon", Amount: -8742, Category: "To Sort"},
	}
	h.source.records = []model.ExternalRecord{
		{
			Date:      day(2),
			Provider:  model.ProviderAmazon,
			SourceRef: "order-111",
			Kind:      model.KindPurchase,
			Total:     -8742,
			Items: []model.LineItem{
				{Description: "Coffee beans", UnitPrice: 1599, Quantity: 1},
				{Description: "Paper towels", UnitPrice: 2399, Quantity: 2},
				{Description: "Desk lamp", UnitPrice: 2345, Quantity: 1},
			},
		},
	}
}

func TestSyncSuggestsItemizedSplit(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	ctx := context.Background()

	stats, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Seen)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 1, stats.Suggested)
	assert.Zero(t, stats.AutoApplied)

	// Suggest-only mode never writes to the ledger.
	assert.Empty(t, h.ledger.splits)

	suggestion, err := h.store.GetPendingSuggestion(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, suggestion)
	assert.Equal(t, "txn-1", suggestion.TransactionID)
	require.Len(t, suggestion.Parts, 3)
	assert.Equal(t, int64(-8742), model.SumParts(suggestion.Parts), "parts sum to the charge")

	record, err := h.store.GetSyncRecord(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncClassified, record.Status)

	require.Len(t, h.messenger.sent, 1)
	assert.Contains(t, h.messenger.sent[0], "purchase matched")
}

func TestSyncSecondPassWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	ctx := context.Background()

	_, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)
	callsAfterFirst := h.llm.calls

	stats, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	assert.Empty(t, h.ledger.splits, "re-running the window never applies anything by itself")
	assert.Equal(t, callsAfterFirst, h.llm.calls, "classifications come from the cache on the second pass")
	assert.Equal(t, 1, stats.Suggested, "the open suggestion is re-issued, not duplicated")

	all, err := h.store.GetPendingSuggestions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSyncSkipsAlreadySplitTransactions(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	h.ledger.txns[0].IsSplit = true
	ctx := context.Background()

	stats, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Seen)
	assert.Empty(t, h.messenger.sent)
}

func TestSyncUnmatchedTransaction(t *testing.T) {
	h := newHarness(t)
	h.ledger.txns = []model.LedgerTransaction{
		{ID: "txn-lonely", Date: day(1), Payee: "Corner Store", Amount: -1234},
	}
	ctx := context.Background()

	stats, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Unmatched)

	record, err := h.store.GetSyncRecord(ctx, "txn-lonely")
	require.NoError(t, err)
	assert.Equal(t, model.SyncUnmatched, record.Status)
	assert.Empty(t, h.messenger.sent, "nothing to suggest, nothing sent")
}

func TestSyncAutoAppliesUnderPolicy(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	ctx := context.Background()

	require.NoError(t, h.policies.ConfirmAuto(ctx, "amazon"))

	stats, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.AutoApplied)
	assert.Zero(t, stats.Suggested)
	require.Len(t, h.ledger.splits["txn-1"], 3)

	record, err := h.store.GetSyncRecord(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncApplied, record.Status)

	// The notification lists the applied split with an undo hint.
	require.Len(t, h.messenger.sent, 1)
	assert.Contains(t, h.messenger.sent[0], "Auto-applied")
	assert.Contains(t, h.messenger.sent[0], "undo")

	// A later pass leaves the applied transaction alone.
	stats, err = h.engine.Sync(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Seen)
}

func TestSyncUncertainNeverAutoApplies(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	h.llm.response = llm.ClassificationResponse{Category: "Groceries", Confidence: 0.4}
	ctx := context.Background()

	require.NoError(t, h.policies.ConfirmAuto(ctx, "amazon"))

	stats, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	assert.Zero(t, stats.AutoApplied)
	assert.Equal(t, 1, stats.Suggested)
	assert.Empty(t, h.ledger.splits)
}

func TestSyncDefersOnBudgetExhaustion(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	h.llm.err = llm.ErrBudgetExhausted
	ctx := context.Background()

	stats, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Deferred)
	assert.Zero(t, stats.Suggested)

	// The record stays matched so the next pass resumes classification.
	record, err := h.store.GetSyncRecord(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncMatched, record.Status)
}

func TestSyncLedgerUnavailableSkipsPass(t *testing.T) {
	h := newHarness(t)
	h.ledger.txnErr = fmt.Errorf("connection refused")
	ctx := context.Background()

	_, err := h.engine.Sync(ctx, nil)
	require.ErrorIs(t, err, common.ErrLedgerUnavailable)
	assert.Empty(t, h.messenger.sent, "no user-visible message for a skipped pass")
}

func TestSyncSourceFailureDegradesToEmpty(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	h.source.err = fmt.Errorf("mailbox down")
	ctx := context.Background()

	stats, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err, "a dead record source does not fail the pass")
	assert.Equal(t, 1, stats.Unmatched)
}

func TestSyncSingleFlight(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.engine.tryAcquire())
	_, err := h.engine.Sync(context.Background(), nil)
	assert.ErrorIs(t, err, common.ErrSyncInProgress)
	h.engine.release(service.SyncStats{})
}

func TestHandleReplyAccept(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	ctx := context.Background()

	_, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	response, err := h.engine.HandleReply(ctx, "1")
	require.NoError(t, err)
	assert.Contains(t, response, "Applied 1")

	require.Len(t, h.ledger.splits["txn-1"], 3)

	record, err := h.store.GetSyncRecord(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncApplied, record.Status)

	// Accepting teaches the cache.
	mapping, err := h.store.GetMapping(ctx, "coffee beans")
	require.NoError(t, err)
	assert.Equal(t, model.SourceLearned, mapping.Source)

	// The suggestion is consumed.
	suggestion, err := h.store.GetPendingSuggestion(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, suggestion)

	// And the acceptance is counted toward graduation.
	pol, err := h.policies.Get(ctx, "amazon")
	require.NoError(t, err)
	assert.Equal(t, 1, pol.Window.AcceptedUnmodified)
}

func TestHandleReplyAcceptModified(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	ctx := context.Background()

	_, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	response, err := h.engine.HandleReply(ctx, "1 Household")
	require.NoError(t, err)
	assert.Contains(t, response, "Household")

	parts := h.ledger.splits["txn-1"]
	require.Len(t, parts, 1, "a modified accept collapses to one part")
	assert.Equal(t, "Household", parts[0].Category)
	assert.Equal(t, int64(-8742), parts[0].Amount)

	pol, err := h.policies.Get(ctx, "amazon")
	require.NoError(t, err)
	assert.Equal(t, 1, pol.Window.AcceptedModified)
	assert.Zero(t, pol.Window.AcceptedUnmodified)
}

func TestHandleReplyUnknownCategory(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	ctx := context.Background()

	_, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	response, err := h.engine.HandleReply(ctx, "1 Dragon Hoard")
	require.NoError(t, err)
	assert.Contains(t, response, "don't know a category")
	assert.Empty(t, h.ledger.splits, "nothing applied for an unknown category")
}

func TestHandleReplySkip(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	ctx := context.Background()

	_, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	response, err := h.engine.HandleReply(ctx, "skip 1")
	require.NoError(t, err)
	assert.Contains(t, response, "Skipped 1")

	record, err := h.store.GetSyncRecord(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncSkipped, record.Status)

	// Skipped transactions are settled; the next pass ignores them.
	stats, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Seen)
}

func TestHandleReplyUndoAutoApplied(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	ctx := context.Background()

	require.NoError(t, h.policies.ConfirmAuto(ctx, "amazon"))
	_, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	response, err := h.engine.HandleReply(ctx, "undo 1")
	require.NoError(t, err)
	assert.Contains(t, response, "Reverted 1")

	assert.True(t, h.ledger.deleted["txn-1"])
	require.Len(t, h.ledger.created, 1)
	assert.Equal(t, int64(-8742), h.ledger.created[0].Amount)

	record, err := h.store.GetSyncRecord(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, model.SyncReverted, record.Status)
}

func TestHandleReplyStaleIndex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	response, err := h.engine.HandleReply(ctx, "7")
	require.NoError(t, err)
	assert.Contains(t, response, "No pending suggestion 7")
}

func TestHandleReplyExpiredSuggestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale := model.PendingSuggestion{
		Index:         1,
		TransactionID: "txn-old",
		Total:         -1000,
		Parts:         []model.SplitPart{{Category: "Groceries", Memo: "bread", Amount: -1000}},
		IssuedAt:      time.Now().Add(-8 * 24 * time.Hour),
	}
	require.NoError(t, h.store.ReplacePendingSuggestions(ctx, 1, []model.PendingSuggestion{stale}))

	response, err := h.engine.HandleReply(ctx, "1")
	require.NoError(t, err)
	assert.Contains(t, response, "No pending suggestion 1")
	assert.Empty(t, h.ledger.splits)

	remaining, err := h.store.GetPendingSuggestions(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining, "expired suggestions are dropped on touch")
}

func TestHandleReplyPassThrough(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.HandleReply(context.Background(), "what's for dinner?")
	assert.ErrorIs(t, err, ErrNotOurs)
}

func TestHandleReplyAutoToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	response, err := h.engine.HandleReply(ctx, "auto on")
	require.NoError(t, err)
	assert.Contains(t, response, "Auto-apply is on")

	pol, err := h.policies.Get(ctx, "amazon")
	require.NoError(t, err)
	assert.True(t, pol.AutoApply())

	response, err = h.engine.HandleReply(ctx, "auto off")
	require.NoError(t, err)
	assert.Contains(t, response, "Auto-apply is off")

	pol, err = h.policies.Get(ctx, "amazon")
	require.NoError(t, err)
	assert.False(t, pol.AutoApply())
}

func TestRefundReversalFlow(t *testing.T) {
	h := newHarness(t)
	h.groceryScenario()
	ctx := context.Background()

	// Refund reversals have no source provider and fall under the
	// default policy group.
	require.NoError(t, h.policies.ConfirmAuto(ctx, "amazon"))
	require.NoError(t, h.policies.ConfirmAuto(ctx, policy.DefaultGroup))
	_, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)
	require.Len(t, h.ledger.splits["txn-1"], 3)

	// A refund for one line item arrives later.
	h.ledger.txns = append(h.ledger.txns, model.LedgerTransaction{
		ID: "txn-refund", Date: day(0), Payee: "Amazon", Amount: 1599,
	})

	stats, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RefundsFound)
	assert.Equal(t, 1, stats.AutoApplied)

	parts := h.ledger.splits["txn-refund"]
	require.Len(t, parts, 1)
	assert.Equal(t, int64(1599), parts[0].Amount, "credit mirrors the original part")
	assert.Equal(t, "Coffee beans", parts[0].Memo)
}

func TestRemainderFoldsIntoLargestPart(t *testing.T) {
	h := newHarness(t)
	// Charge includes $2.00 of tax the line items don't carry.
	h.ledger.txns = []model.LedgerTransaction{
		{ID: "txn-tax", Date: day(1), Payee: "Amazon", Amount: -5200},
	}
	h.source.records = []model.ExternalRecord{
		{
			Date:      day(1),
			Provider:  model.ProviderAmazon,
			SourceRef: "order-tax",
			Kind:      model.KindPurchase,
			Total:     -5200,
			Items: []model.LineItem{
				{Description: "Big thing", UnitPrice: 4000, Quantity: 1},
				{Description: "Small thing", UnitPrice: 1000, Quantity: 1},
			},
		},
	}
	ctx := context.Background()

	_, err := h.engine.Sync(ctx, nil)
	require.NoError(t, err)

	suggestion, err := h.store.GetPendingSuggestion(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, suggestion)
	require.Len(t, suggestion.Parts, 2)
	assert.Equal(t, int64(-5200), model.SumParts(suggestion.Parts))
	assert.Equal(t, int64(-4200), suggestion.Parts[0].Amount, "tax lands on the largest part")
	assert.Equal(t, int64(-1000), suggestion.Parts[1].Amount)
}
