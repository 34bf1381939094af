// Package delivery formats suggestion batches into one scannable outbound
// message and maps free-form replies back to pending suggestions.
package delivery

import (
	"fmt"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// FormatBatch renders all suggestions from one sync pass as a single
// message. Each suggestion carries its 1-based index so a short reply can
// name it.
func FormatBatch(suggestions []model.PendingSuggestion) string {
	if len(suggestions) == 0 {
		return ""
	}

	var pending, auto []model.PendingSuggestion
	for _, s := range suggestions {
		if s.AutoApplied {
			auto = append(auto, s)
		} else {
			pending = append(pending, s)
		}
	}

	var b strings.Builder

	if len(pending) > 0 {
		if len(pending) == 1 {
			b.WriteString("1 purchase matched:\n")
		} else {
			fmt.Fprintf(&b, "%d purchases matched:\n", len(pending))
		}
		for _, s := range pending {
			writeSuggestion(&b, s)
		}
		b.WriteString("\nReply with a number to accept, \"3 Groceries\" to change the category, \"skip 3\" to pass.")
	}

	if len(auto) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Auto-applied %d:\n", len(auto))
		for _, s := range auto {
			writeSuggestion(&b, s)
		}
		b.WriteString("\nReply \"undo N\" to reverse any of these.")
	}

	return b.String()
}

func writeSuggestion(b *strings.Builder, s model.PendingSuggestion) {
	flag := ""
	if s.Uncertain {
		flag = " (?)"
	}
	fmt.Fprintf(b, "\n%d. %s %s on %s%s\n",
		s.Index,
		FormatAmount(s.Total),
		providerName(s.Provider),
		s.Date.Format("Jan 2"),
		flag)
	for _, part := range s.Parts {
		category := part.Category
		if category == "" {
			category = "uncategorized (?)"
		}
		fmt.Fprintf(b, "   %s → %s (%s)\n",
			part.Memo,
			category,
			FormatAmount(part.Amount))
	}
}

// FormatAmount renders signed minor units as a currency string. Outflows
// come in negative; the reader sees the magnitude, refunds get a plus.
func FormatAmount(minor int64) string {
	sign := ""
	if minor > 0 {
		sign = "+"
	}
	if minor < 0 {
		minor = -minor
	}
	return fmt.Sprintf("%s$%d.%02d", sign, minor/100, minor%100)
}

func providerName(p model.Provider) string {
	switch p {
	case model.ProviderAmazon:
		return "Amazon"
	case model.ProviderPayPal:
		return "PayPal"
	default:
		return string(p)
	}
}
