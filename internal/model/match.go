package model

// MatchBasis describes how a ledger transaction was paired with external
// records.
type MatchBasis string

// Match bases, from strongest to weakest.
const (
	BasisExactTotal       MatchBasis = "exact-total"
	BasisShipmentSubtotal MatchBasis = "shipment-subtotal"
	BasisRefundReversal   MatchBasis = "refund-reversal"
	BasisNone             MatchBasis = "none"
)

// Match is a decided pairing between one ledger transaction and one or more
// external records, or a declared non-match. A transaction has at most one
// active Match per sync pass.
type Match struct {
	TransactionID string
	Basis         MatchBasis
	SourceRefs    []string
	RefundOfID    string // purchase transaction a refund reverses, if any
	Items         []LineItem
	RefundParts   []SplitPart // mirrored credit portions of the original split
	Confidence    float64
}

// Matched reports whether the pairing found anything to act on.
func (m *Match) Matched() bool {
	return m.Basis != BasisNone
}
