package normalizer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// amazonOrder is the payload shape extracted from Amazon order confirmation
// and refund notification mail.
type amazonOrder struct {
	OrderID   string `json:"orderId"`
	OrderDate string `json:"orderDate"`
	Total     string `json:"total"`
	Refund    bool   `json:"refund"`
	Items     []struct {
		Title     string `json:"title"`
		UnitPrice string `json:"unitPrice"`
		Quantity  int64  `json:"quantity"`
	} `json:"items"`
	Shipments []struct {
		Items    []int  `json:"items"`
		Subtotal string `json:"subtotal"`
	} `json:"shipments"`
}

// Ledger convention: outflows are negative. Amazon reports positive order
// totals, so purchases are negated here and refunds kept positive.
func normalizeAmazon(body []byte) (model.ExternalRecord, error) {
	var order amazonOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return model.ExternalRecord{}, fmt.Errorf("failed to parse amazon payload: %w", err)
	}
	if order.OrderID == "" {
		return model.ExternalRecord{}, fmt.Errorf("amazon payload missing orderId")
	}

	date, err := time.Parse("2006-01-02", order.OrderDate)
	if err != nil {
		return model.ExternalRecord{}, fmt.Errorf("invalid amazon order date %q: %w", order.OrderDate, err)
	}

	total, err := ParseAmount(order.Total)
	if err != nil {
		return model.ExternalRecord{}, fmt.Errorf("invalid amazon order total: %w", err)
	}
	if total < 0 {
		total = -total
	}

	kind := model.KindPurchase
	if order.Refund {
		kind = model.KindRefund
	} else {
		total = -total
	}

	items := make([]model.LineItem, 0, len(order.Items))
	for i, item := range order.Items {
		price, priceErr := ParseAmount(item.UnitPrice)
		if priceErr != nil {
			return model.ExternalRecord{}, fmt.Errorf("invalid price on amazon item %d: %w", i, priceErr)
		}
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		items = append(items, model.LineItem{
			Description: item.Title,
			UnitPrice:   price,
			Quantity:    qty,
		})
	}

	shipments := make([]model.Shipment, 0, len(order.Shipments))
	for i, s := range order.Shipments {
		subtotal, subErr := ParseAmount(s.Subtotal)
		if subErr != nil {
			return model.ExternalRecord{}, fmt.Errorf("invalid subtotal on amazon shipment %d: %w", i, subErr)
		}
		shipments = append(shipments, model.Shipment{
			ItemIndexes: s.Items,
			Subtotal:    subtotal,
		})
	}

	return model.ExternalRecord{
		Provider:  model.ProviderAmazon,
		SourceRef: order.OrderID,
		Date:      date,
		Total:     total,
		Kind:      kind,
		Items:     items,
		Shipments: shipments,
	}, nil
}
