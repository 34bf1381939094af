package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// paypalReceipt is the payload shape extracted from PayPal receipt mail.
type paypalReceipt struct {
	TransactionID string `json:"txnId"`
	Date          string `json:"date"`
	EventType     string `json:"eventType"`
	Amount        struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Items []struct {
		Name  string `json:"name"`
		Price string `json:"price"`
		Qty   int64  `json:"qty"`
	} `json:"items"`
}

func normalizePayPal(body []byte) (model.ExternalRecord, error) {
	var receipt paypalReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return model.ExternalRecord{}, fmt.Errorf("failed to parse paypal payload: %w", err)
	}
	if receipt.TransactionID == "" {
		return model.ExternalRecord{}, fmt.Errorf("paypal payload missing txnId")
	}

	date, err := time.Parse(time.RFC3339, receipt.Date)
	if err != nil {
		// Receipt digests sometimes carry a bare date.
		date, err = time.Parse("2006-01-02", receipt.Date)
		if err != nil {
			return model.ExternalRecord{}, fmt.Errorf("invalid paypal date %q: %w", receipt.Date, err)
		}
	}

	total, err := ParseAmount(receipt.Amount.Value)
	if err != nil {
		return model.ExternalRecord{}, fmt.Errorf("invalid paypal amount: %w", err)
	}
	if total < 0 {
		total = -total
	}

	kind := model.KindPurchase
	if strings.Contains(strings.ToUpper(receipt.EventType), "REFUND") {
		kind = model.KindRefund
	} else {
		total = -total
	}

	items := make([]model.LineItem, 0, len(receipt.Items))
	for i, item := range receipt.Items {
		price, priceErr := ParseAmount(item.Price)
		if priceErr != nil {
			return model.ExternalRecord{}, fmt.Errorf("invalid price on paypal item %d: %w", i, priceErr)
		}
		qty := item.Qty
		if qty <= 0 {
			qty = 1
		}
		items = append(items, model.LineItem{
			Description: item.Name,
			UnitPrice:   price,
			Quantity:    qty,
		})
	}

	return model.ExternalRecord{
		Provider:  model.ProviderPayPal,
		SourceRef: receipt.TransactionID,
		Date:      date.UTC().Truncate(24 * time.Hour),
		Total:     total,
		Kind:      kind,
		Items:     items,
	}, nil
}
