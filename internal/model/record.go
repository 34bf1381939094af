// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Provider identifies the external source a record was ingested from.
type Provider string

// Known record providers.
const (
	ProviderAmazon Provider = "amazon"
	ProviderPayPal Provider = "paypal"
)

// RecordKind distinguishes purchases from refunds.
type RecordKind string

const (
	// KindPurchase is a normal outgoing purchase.
	KindPurchase RecordKind = "purchase"
	// KindRefund is money returned for a prior purchase.
	KindRefund RecordKind = "refund"
)

// LineItem is one purchased item within an external record.
// Prices are in signed minor currency units (cents).
type LineItem struct {
	Description string
	UnitPrice   int64
	Quantity    int64
}

// Total returns the extended price of the line item in minor units.
func (li LineItem) Total() int64 {
	return li.UnitPrice * li.Quantity
}

// Shipment groups a subset of a record's line items that billed together.
// Retailers often charge per shipment rather than per order, so a ledger
// transaction may equal a shipment subtotal instead of the order total.
type Shipment struct {
	ItemIndexes []int
	Subtotal    int64
}

// ExternalRecord is one purchase or refund event sourced from outside the
// ledger, already normalized from its provider-specific payload. Records are
// immutable once produced and are re-derived from the source on every sync
// pass; they are never persisted.
type ExternalRecord struct {
	Date      time.Time
	Provider  Provider
	SourceRef string
	Kind      RecordKind
	Items     []LineItem
	Shipments []Shipment
	Total     int64 // signed minor units; negative for purchases, positive for refunds
}

// Fingerprint creates a stable reference for records whose provider does not
// supply one. It is used for idempotency and debugging only.
func (r *ExternalRecord) Fingerprint() string {
	first := ""
	if len(r.Items) > 0 {
		first = r.Items[0].Description
	}
	data := fmt.Sprintf("%s:%s:%d:%s",
		r.Provider,
		r.Date.Format("2006-01-02"),
		r.Total,
		first)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// PartialTotals returns every sub-amount of the record that a ledger charge
// could legitimately equal: each shipment subtotal, then each individual
// line item total. Order is deterministic.
func (r *ExternalRecord) PartialTotals() []Partial {
	partials := make([]Partial, 0, len(r.Shipments)+len(r.Items))
	for _, s := range r.Shipments {
		items := make([]LineItem, 0, len(s.ItemIndexes))
		for _, idx := range s.ItemIndexes {
			if idx >= 0 && idx < len(r.Items) {
				items = append(items, r.Items[idx])
			}
		}
		partials = append(partials, Partial{Amount: s.Subtotal, Items: items})
	}
	for _, item := range r.Items {
		partials = append(partials, Partial{Amount: item.Total(), Items: []LineItem{item}})
	}
	return partials
}

// Partial is a sub-amount of a record together with the line items it covers.
type Partial struct {
	Items  []LineItem
	Amount int64
}
