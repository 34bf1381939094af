package classify

import (
	"fmt"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// buildPrompt creates the classification prompt: the item, the family's
// category set, and a bounded sample of prior mappings as examples.
func buildPrompt(item model.LineItem, categories []model.Category, examples []model.ClassificationMapping) string {
	var categoryList strings.Builder
	for _, cat := range categories {
		if cat.Hidden {
			continue
		}
		if cat.Group != "" {
			fmt.Fprintf(&categoryList, "- %s (%s)\n", cat.Name, cat.Group)
		} else {
			fmt.Fprintf(&categoryList, "- %s\n", cat.Name)
		}
	}

	var exampleList strings.Builder
	for _, ex := range examples {
		fmt.Fprintf(&exampleList, "- %q -> %s\n", ex.Key, ex.Category)
	}
	exampleSection := ""
	if exampleList.Len() > 0 {
		exampleSection = fmt.Sprintf("Previously categorized items from this household:\n%s\n", exampleList.String())
	}

	return fmt.Sprintf(`Classify this purchased item into the most appropriate budget category.

Item: %s
Unit price: $%d.%02d
Quantity: %d

Available categories:
%s
%sGuidelines:
- Choose from the available categories only
- Classify by what the item IS, not why it might have been bought
- Confidence reflects how sure you are the household would file it there

Respond with ONLY this JSON shape:
{"category": "<category name>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`,
		item.Description,
		item.UnitPrice/100, item.UnitPrice%100,
		item.Quantity,
		categoryList.String(),
		exampleSection)
}
