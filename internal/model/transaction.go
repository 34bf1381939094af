package model

import "time"

// LedgerTransaction is an entry already present in the external ledger.
// Amounts are in signed minor currency units; outflows are negative,
// matching the ledger service's convention.
type LedgerTransaction struct {
	Date       time.Time
	ID         string
	Payee      string
	Memo       string
	Category   string
	CategoryID string
	Amount     int64
	IsSplit    bool
	Cleared    bool
	Approved   bool
}

// SplitPart is one category-tagged portion of a split transaction.
type SplitPart struct {
	Category   string
	CategoryID string
	Memo       string
	Amount     int64
}

// SumParts returns the total of the given part amounts in minor units.
func SumParts(parts []SplitPart) int64 {
	var sum int64
	for _, p := range parts {
		sum += p.Amount
	}
	return sum
}

// Category is a budget category available in the ledger.
type Category struct {
	ID     string
	Name   string
	Group  string
	Hidden bool
}

// TransactionSnapshot captures the pre-split state of a ledger transaction
// so a split can be undone by delete-and-recreate.
type TransactionSnapshot struct {
	TakenAt       time.Time
	TransactionID string
	Transaction   LedgerTransaction
	Parts         []SplitPart
}
