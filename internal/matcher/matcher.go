// Package matcher pairs ledger transactions with external records using
// amount and date heuristics. It produces Match decisions only; no ledger
// writes happen here.
package matcher

import (
	"log/slog"
	"sort"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// DateWindow is how far apart a charge and its record may land. Card
// settlement lags the order by a couple of days in practice.
const DateWindow = 3 * 24 * time.Hour

// AppliedPurchase is a previously applied purchase available as a refund
// reversal target, together with the split that was written for it.
type AppliedPurchase struct {
	TransactionID string
	Parts         []model.SplitPart
	Amount        int64 // signed, negative
}

// Matcher implements the pairing heuristics.
type Matcher struct {
	logger *slog.Logger
}

// New creates a matcher.
func New(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{logger: logger}
}

// MatchAll produces one Match (possibly a declared non-match) per
// transaction. Transactions are processed in date-then-ID order and a
// record consumed by one match is not offered to later transactions, so
// repeated runs over the same inputs produce identical output.
func (m *Matcher) MatchAll(txns []model.LedgerTransaction, records []model.ExternalRecord, applied []AppliedPurchase) []model.Match {
	ordered := make([]model.LedgerTransaction, len(txns))
	copy(ordered, txns)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})

	state := &matchState{
		records:             records,
		consumedRecords:     make(map[string]bool),
		consumedPartials:    make(map[string]map[int]bool),
		consumedRefunds:     make(map[string]bool),
		consumedRefundParts: make(map[string]map[int]bool),
		applied:             applied,
	}

	matches := make([]model.Match, 0, len(ordered))
	for _, txn := range ordered {
		if txn.Amount >= 0 {
			matches = append(matches, m.matchRefund(txn, state))
			continue
		}
		matches = append(matches, m.matchPurchase(txn, state))
	}
	return matches
}

type matchState struct {
	consumedRecords     map[string]bool
	consumedPartials    map[string]map[int]bool
	consumedRefunds     map[string]bool
	consumedRefundParts map[string]map[int]bool
	records             []model.ExternalRecord
	applied             []AppliedPurchase
}

type candidate struct {
	record   *model.ExternalRecord
	items    []model.LineItem
	partial  int // index into PartialTotals, -1 for a whole-record match
	distance time.Duration
	order    int
}

// matchPurchase implements the exact-total then shipment-subtotal ladder.
func (m *Matcher) matchPurchase(txn model.LedgerTransaction, state *matchState) model.Match {
	candidates := m.exactCandidates(txn, state)
	basis := model.BasisExactTotal
	confidence := 1.0

	if len(candidates) == 0 {
		candidates = m.partialCandidates(txn, state)
		basis = model.BasisShipmentSubtotal
		confidence = 0.9
	}

	if len(candidates) == 0 {
		return model.Match{TransactionID: txn.ID, Basis: model.BasisNone}
	}

	chosen := pickCandidate(candidates)
	if len(candidates) > 1 {
		for _, c := range candidates {
			if c.record.SourceRef == chosen.record.SourceRef && c.partial == chosen.partial {
				continue
			}
			m.logger.Info("discarding tied match candidate",
				"transaction_id", txn.ID,
				"source_ref", c.record.SourceRef,
				"date_distance", c.distance)
		}
	}

	if chosen.partial < 0 {
		state.consumedRecords[chosen.record.SourceRef] = true
	} else {
		if state.consumedPartials[chosen.record.SourceRef] == nil {
			state.consumedPartials[chosen.record.SourceRef] = make(map[int]bool)
		}
		state.consumedPartials[chosen.record.SourceRef][chosen.partial] = true
	}

	return model.Match{
		TransactionID: txn.ID,
		Basis:         basis,
		Confidence:    confidence,
		SourceRefs:    []string{chosen.record.SourceRef},
		Items:         chosen.items,
	}
}

func (m *Matcher) exactCandidates(txn model.LedgerTransaction, state *matchState) []candidate {
	var candidates []candidate
	for i := range state.records {
		rec := &state.records[i]
		if rec.Kind != model.KindPurchase || state.consumedRecords[rec.SourceRef] {
			continue
		}
		if len(state.consumedPartials[rec.SourceRef]) > 0 {
			// A shipment of this record already covered another charge;
			// the whole-record total can no longer be right.
			continue
		}
		if rec.Total != txn.Amount {
			continue
		}
		dist := dateDistance(txn.Date, rec.Date)
		if dist > DateWindow {
			continue
		}
		candidates = append(candidates, candidate{
			record:   rec,
			items:    rec.Items,
			partial:  -1,
			distance: dist,
			order:    i,
		})
	}
	return candidates
}

func (m *Matcher) partialCandidates(txn model.LedgerTransaction, state *matchState) []candidate {
	want := -txn.Amount // partial totals are catalog-positive
	var candidates []candidate
	for i := range state.records {
		rec := &state.records[i]
		if rec.Kind != model.KindPurchase || state.consumedRecords[rec.SourceRef] {
			continue
		}
		dist := dateDistance(txn.Date, rec.Date)
		if dist > DateWindow {
			continue
		}
		for pi, partial := range rec.PartialTotals() {
			if partial.Amount != want || state.consumedPartials[rec.SourceRef][pi] {
				continue
			}
			candidates = append(candidates, candidate{
				record:   rec,
				items:    partial.Items,
				partial:  pi,
				distance: dist,
				order:    i,
			})
			break // one partial per record is enough to be a candidate
		}
	}
	return candidates
}

// matchRefund pairs a positive-amount transaction against a previously
// applied purchase with an equal-magnitude total or line-item part. The
// credit mirrors the matched portion of the original split. Unmatched
// refunds get no automatic guess.
func (m *Matcher) matchRefund(txn model.LedgerTransaction, state *matchState) model.Match {
	for _, ap := range state.applied {
		if state.consumedRefunds[ap.TransactionID] {
			continue
		}

		// Full reversal mirrors every part. Once a partial refund has
		// credited one of the parts, the full total is no longer owed.
		if -ap.Amount == txn.Amount && len(state.consumedRefundParts[ap.TransactionID]) == 0 {
			state.consumedRefunds[ap.TransactionID] = true
			parts := make([]model.SplitPart, len(ap.Parts))
			for i, p := range ap.Parts {
				parts[i] = model.SplitPart{
					Category:   p.Category,
					CategoryID: p.CategoryID,
					Memo:       p.Memo,
					Amount:     -p.Amount,
				}
			}
			return model.Match{
				TransactionID: txn.ID,
				Basis:         model.BasisRefundReversal,
				Confidence:    1.0,
				RefundOfID:    ap.TransactionID,
				RefundParts:   parts,
			}
		}

		// Partial reversal credits the single matching part's category.
		// Each part reverses at most once per pass.
		for i, p := range ap.Parts {
			if state.consumedRefundParts[ap.TransactionID][i] {
				continue
			}
			if -p.Amount == txn.Amount {
				if state.consumedRefundParts[ap.TransactionID] == nil {
					state.consumedRefundParts[ap.TransactionID] = make(map[int]bool)
				}
				state.consumedRefundParts[ap.TransactionID][i] = true
				return model.Match{
					TransactionID: txn.ID,
					Basis:         model.BasisRefundReversal,
					Confidence:    1.0,
					RefundOfID:    ap.TransactionID,
					RefundParts: []model.SplitPart{{
						Category:   p.Category,
						CategoryID: p.CategoryID,
						Memo:       p.Memo,
						Amount:     -p.Amount,
					}},
				}
			}
		}
	}

	m.logger.Info("refund has no applied purchase to reverse",
		"transaction_id", txn.ID,
		"amount", txn.Amount)
	return model.Match{TransactionID: txn.ID, Basis: model.BasisNone}
}

// pickCandidate breaks ties by smallest date distance, then by earliest
// record ordering. The ordering is the normalizer's deterministic sort, so
// repeated runs choose the same candidate.
func pickCandidate(candidates []candidate) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.distance < best.distance {
			best = c
			continue
		}
		if c.distance == best.distance && c.order < best.order {
			best = c
		}
	}
	return best
}

func dateDistance(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d
}
