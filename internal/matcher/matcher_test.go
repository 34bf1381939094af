package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

func txn(id string, date time.Time, amount int64) model.LedgerTransaction {
	return model.LedgerTransaction{ID: id, Date: date, Amount: amount, Payee: "Amazon"}
}

func TestExactTotalMatch(t *testing.T) {
	m := New(nil)

	record := model.ExternalRecord{
		Date:      day(10),
		Provider:  model.ProviderAmazon,
		SourceRef: "order-111",
		Kind:      model.KindPurchase,
		Total:     -8742,
		Items: []model.LineItem{
			{Description: "Coffee beans", UnitPrice: 1599, Quantity: 1},
			{Description: "Paper towels", UnitPrice: 2399, Quantity: 2},
			{Description: "Desk lamp", UnitPrice: 2345, Quantity: 1},
		},
	}

	matches := m.MatchAll(
		[]model.LedgerTransaction{txn("txn-1", day(11), -8742)},
		[]model.ExternalRecord{record},
		nil,
	)

	require.Len(t, matches, 1)
	assert.Equal(t, model.BasisExactTotal, matches[0].Basis)
	assert.Equal(t, 1.0, matches[0].Confidence)
	assert.Equal(t, []string{"order-111"}, matches[0].SourceRefs)
	assert.Len(t, matches[0].Items, 3)
}

func TestNoMatchOutsideDateWindow(t *testing.T) {
	m := New(nil)

	record := model.ExternalRecord{
		Date:      day(1),
		Provider:  model.ProviderAmazon,
		SourceRef: "order-old",
		Kind:      model.KindPurchase,
		Total:     -5000,
		Items:     []model.LineItem{{Description: "Widget", UnitPrice: 5000, Quantity: 1}},
	}

	// Five days apart exceeds the window.
	matches := m.MatchAll(
		[]model.LedgerTransaction{txn("txn-1", day(6), -5000)},
		[]model.ExternalRecord{record},
		nil,
	)

	require.Len(t, matches, 1)
	assert.Equal(t, model.BasisNone, matches[0].Basis)
	assert.False(t, matches[0].Matched())
}

func TestShipmentSubtotalMatch(t *testing.T) {
	m := New(nil)

	// One order shipped in two charges.
	record := model.ExternalRecord{
		Date:      day(10),
		Provider:  model.ProviderAmazon,
		SourceRef: "order-split",
		Kind:      model.KindPurchase,
		Total:     -10000,
		Items: []model.LineItem{
			{Description: "Monitor", UnitPrice: 7000, Quantity: 1},
			{Description: "Keyboard", UnitPrice: 3000, Quantity: 1},
		},
		Shipments: []model.Shipment{
			{ItemIndexes: []int{0}, Subtotal: 7000},
			{ItemIndexes: []int{1}, Subtotal: 3000},
		},
	}

	matches := m.MatchAll(
		[]model.LedgerTransaction{
			txn("txn-a", day(10), -7000),
			txn("txn-b", day(12), -3000),
		},
		[]model.ExternalRecord{record},
		nil,
	)

	require.Len(t, matches, 2)
	assert.Equal(t, model.BasisShipmentSubtotal, matches[0].Basis)
	assert.Equal(t, 0.9, matches[0].Confidence)
	require.Len(t, matches[0].Items, 1)
	assert.Equal(t, "Monitor", matches[0].Items[0].Description)

	assert.Equal(t, model.BasisShipmentSubtotal, matches[1].Basis)
	require.Len(t, matches[1].Items, 1)
	assert.Equal(t, "Keyboard", matches[1].Items[0].Description)
}

func TestPartialConsumptionBlocksWholeRecord(t *testing.T) {
	m := New(nil)

	// Record total includes shipping, so the first charge can only match
	// the shipment subtotal.
	record := model.ExternalRecord{
		Date:      day(10),
		Provider:  model.ProviderAmazon,
		SourceRef: "order-x",
		Kind:      model.KindPurchase,
		Total:     -7800,
		Items: []model.LineItem{
			{Description: "Thing A", UnitPrice: 7000, Quantity: 1},
		},
		Shipments: []model.Shipment{
			{ItemIndexes: []int{0}, Subtotal: 7000},
		},
	}

	// After the shipment charge consumed part of the record, a later
	// transaction carrying the whole-record total must not match it.
	matches := m.MatchAll(
		[]model.LedgerTransaction{
			txn("txn-first", day(10), -7000),
			txn("txn-second", day(11), -7800),
		},
		[]model.ExternalRecord{record},
		nil,
	)

	require.Len(t, matches, 2)
	assert.True(t, matches[0].Matched())
	assert.False(t, matches[1].Matched())
}

func TestTieBreakIsDeterministic(t *testing.T) {
	m := New(nil)

	// Two candidate orders with identical totals; the closer date wins.
	records := []model.ExternalRecord{
		{
			Date: day(8), Provider: model.ProviderAmazon, SourceRef: "order-far",
			Kind: model.KindPurchase, Total: -4200,
			Items: []model.LineItem{{Description: "Far", UnitPrice: 4200, Quantity: 1}},
		},
		{
			Date: day(10), Provider: model.ProviderAmazon, SourceRef: "order-near",
			Kind: model.KindPurchase, Total: -4200,
			Items: []model.LineItem{{Description: "Near", UnitPrice: 4200, Quantity: 1}},
		},
	}

	for i := 0; i < 5; i++ {
		matches := m.MatchAll(
			[]model.LedgerTransaction{txn("txn-1", day(10), -4200)},
			records,
			nil,
		)
		require.Len(t, matches, 1)
		assert.Equal(t, []string{"order-near"}, matches[0].SourceRefs)
	}
}

func TestTieBreakEqualDistanceUsesRecordOrder(t *testing.T) {
	m := New(nil)

	// Same date distance on both sides; the earlier record in normalized
	// order wins.
	records := []model.ExternalRecord{
		{
			Date: day(9), Provider: model.ProviderAmazon, SourceRef: "order-a",
			Kind: model.KindPurchase, Total: -3000,
			Items: []model.LineItem{{Description: "A", UnitPrice: 3000, Quantity: 1}},
		},
		{
			Date: day(11), Provider: model.ProviderAmazon, SourceRef: "order-b",
			Kind: model.KindPurchase, Total: -3000,
			Items: []model.LineItem{{Description: "B", UnitPrice: 3000, Quantity: 1}},
		},
	}

	matches := m.MatchAll(
		[]model.LedgerTransaction{txn("txn-1", day(10), -3000)},
		records,
		nil,
	)

	require.Len(t, matches, 1)
	assert.Equal(t, []string{"order-a"}, matches[0].SourceRefs)
}

func TestRecordConsumedOnlyOnce(t *testing.T) {
	m := New(nil)

	record := model.ExternalRecord{
		Date: day(10), Provider: model.ProviderAmazon, SourceRef: "order-once",
		Kind: model.KindPurchase, Total: -2500,
		Items: []model.LineItem{{Description: "Solo", UnitPrice: 2500, Quantity: 1}},
	}

	matches := m.MatchAll(
		[]model.LedgerTransaction{
			txn("txn-1", day(10), -2500),
			txn("txn-2", day(10), -2500),
		},
		[]model.ExternalRecord{record},
		nil,
	)

	require.Len(t, matches, 2)
	assert.True(t, matches[0].Matched())
	assert.False(t, matches[1].Matched())
}

func TestFullRefundMirrorsSplit(t *testing.T) {
	m := New(nil)

	applied := []AppliedPurchase{{
		TransactionID: "txn-orig",
		Amount:        -6000,
		Parts: []model.SplitPart{
			{Category: "Groceries", Memo: "Snacks", Amount: -2500},
			{Category: "Household", Memo: "Sponges", Amount: -3500},
		},
	}}

	matches := m.MatchAll(
		[]model.LedgerTransaction{txn("txn-refund", day(20), 6000)},
		nil,
		applied,
	)

	require.Len(t, matches, 1)
	match := matches[0]
	assert.Equal(t, model.BasisRefundReversal, match.Basis)
	assert.Equal(t, "txn-orig", match.RefundOfID)
	require.Len(t, match.RefundParts, 2)
	assert.Equal(t, int64(2500), match.RefundParts[0].Amount)
	assert.Equal(t, int64(3500), match.RefundParts[1].Amount)
	assert.Equal(t, "Groceries", match.RefundParts[0].Category)
}

func TestPartialRefundCreditsMatchingPart(t *testing.T) {
	m := New(nil)

	applied := []AppliedPurchase{{
		TransactionID: "txn-orig",
		Amount:        -6000,
		Parts: []model.SplitPart{
			{Category: "Groceries", Memo: "Snacks", Amount: -2500},
			{Category: "Household", Memo: "Sponges", Amount: -3500},
		},
	}}

	matches := m.MatchAll(
		[]model.LedgerTransaction{txn("txn-refund", day(40), 2500)},
		nil,
		applied,
	)

	require.Len(t, matches, 1)
	match := matches[0]
	assert.Equal(t, model.BasisRefundReversal, match.Basis)
	require.Len(t, match.RefundParts, 1)
	assert.Equal(t, "Groceries", match.RefundParts[0].Category)
	assert.Equal(t, int64(2500), match.RefundParts[0].Amount)
}

func TestPartConsumedByOnePartialRefundOnly(t *testing.T) {
	m := New(nil)

	applied := []AppliedPurchase{{
		TransactionID: "txn-orig",
		Amount:        -4000,
		Parts: []model.SplitPart{
			{Category: "Groceries", Memo: "Snacks", Amount: -2500},
			{Category: "Household", Memo: "Sponges", Amount: -1500},
		},
	}}

	matches := m.MatchAll(
		[]model.LedgerTransaction{
			txn("txn-refund-1", day(40), 2500),
			txn("txn-refund-2", day(39), 2500),
		},
		nil,
		applied,
	)

	require.Len(t, matches, 2)
	assert.Equal(t, model.BasisRefundReversal, matches[0].Basis)
	assert.Equal(t, model.BasisNone, matches[1].Basis,
		"a part already credited must not absorb a second refund")
}

func TestDuplicateRefundsCreditDistinctEqualParts(t *testing.T) {
	m := New(nil)

	applied := []AppliedPurchase{{
		TransactionID: "txn-orig",
		Amount:        -3000,
		Parts: []model.SplitPart{
			{Category: "Groceries", Memo: "Coffee", Amount: -1500},
			{Category: "Household", Memo: "Soap", Amount: -1500},
		},
	}}

	matches := m.MatchAll(
		[]model.LedgerTransaction{
			txn("txn-refund-1", day(40), 1500),
			txn("txn-refund-2", day(39), 1500),
		},
		nil,
		applied,
	)

	require.Len(t, matches, 2)
	require.Len(t, matches[0].RefundParts, 1)
	require.Len(t, matches[1].RefundParts, 1)
	assert.Equal(t, "Coffee", matches[0].RefundParts[0].Memo)
	assert.Equal(t, "Soap", matches[1].RefundParts[0].Memo)
}

func TestRefundWithoutPurchaseIsUnmatched(t *testing.T) {
	m := New(nil)

	matches := m.MatchAll(
		[]model.LedgerTransaction{txn("txn-refund", day(5), 1234)},
		nil,
		nil,
	)

	require.Len(t, matches, 1)
	assert.False(t, matches[0].Matched())
}

func TestMatchOrderIsDateThenID(t *testing.T) {
	m := New(nil)

	record := model.ExternalRecord{
		Date: day(10), Provider: model.ProviderAmazon, SourceRef: "order-z",
		Kind: model.KindPurchase, Total: -1500,
		Items: []model.LineItem{{Description: "Z", UnitPrice: 1500, Quantity: 1}},
	}

	// Input order reversed; the earlier-dated transaction must still be
	// offered the record first.
	matches := m.MatchAll(
		[]model.LedgerTransaction{
			txn("txn-late", day(12), -1500),
			txn("txn-early", day(10), -1500),
		},
		[]model.ExternalRecord{record},
		nil,
	)

	require.Len(t, matches, 2)
	assert.Equal(t, "txn-early", matches[0].TransactionID)
	assert.True(t, matches[0].Matched())
	assert.Equal(t, "txn-late", matches[1].TransactionID)
	assert.False(t, matches[1].Matched())
}
