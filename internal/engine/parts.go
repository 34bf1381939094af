package engine

import (
	"context"
	"fmt"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// buildParts produces the split for a matched transaction. Refund reversals
// reuse the mirrored parts the matcher built from the original split;
// purchases classify each line item. The second return reports whether any
// part is below the confidence threshold.
func (e *Engine) buildParts(ctx context.Context, txn model.LedgerTransaction, match model.Match, categories []model.Category) ([]model.SplitPart, bool, error) {
	if match.Basis == model.BasisRefundReversal {
		return match.RefundParts, false, nil
	}

	parts := make([]model.SplitPart, 0, len(match.Items))
	uncertain := false
	for _, item := range match.Items {
		decision, err := e.classifier.Classify(ctx, item, categories)
		if err != nil {
			return nil, false, fmt.Errorf("classification failed for %q: %w", item.Description, err)
		}
		if decision.Uncertain {
			uncertain = true
		}
		parts = append(parts, model.SplitPart{
			Category:   decision.Category,
			CategoryID: categoryID(categories, decision.Category),
			Memo:       item.Description,
			Amount:     -item.Total(),
		})
	}

	parts = foldRemainder(parts, txn.Amount)
	return parts, uncertain, nil
}

// foldRemainder absorbs the difference between the item sum and the actual
// transaction amount (tax, shipping, rounding) into the largest part, so
// the split always sums exactly to the transaction.
func foldRemainder(parts []model.SplitPart, total int64) []model.SplitPart {
	if len(parts) == 0 {
		return parts
	}

	var sum int64
	largest := 0
	for i, part := range parts {
		sum += part.Amount
		if abs64(part.Amount) > abs64(parts[largest].Amount) {
			largest = i
		}
	}

	if remainder := total - sum; remainder != 0 {
		parts[largest].Amount += remainder
	}
	return parts
}

func categoryID(categories []model.Category, name string) string {
	for _, cat := range categories {
		if cat.Name == name {
			return cat.ID
		}
	}
	return ""
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
