// Package ledger is the boundary to the external envelope-budget service.
// The client speaks the service's REST API and converts between its
// milliunit amounts and the engine's minor currency units.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

const defaultBaseURL = "https://api.ynab.com/v1"

// Config holds connection settings for the ledger service.
type Config struct {
	BaseURL  string
	Token    string
	BudgetID string
}

// Client is an HTTP client for the ledger service.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
	budgetID   string
}

// NewClient creates a ledger client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: ledger token", common.ErrMissingConfig)
	}
	if cfg.BudgetID == "" {
		return nil, fmt.Errorf("%w: ledger budget id", common.ErrMissingConfig)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:  baseURL,
		token:    cfg.Token,
		budgetID: cfg.BudgetID,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// wireTransaction is the service's transaction shape. Amounts are
// milliunits: minor units times ten.
type wireTransaction struct {
	ID              string                `json:"id,omitempty"`
	AccountID       string                `json:"account_id,omitempty"`
	Date            string                `json:"date"`
	Amount          int64                 `json:"amount"`
	PayeeName       string                `json:"payee_name"`
	CategoryID      string                `json:"category_id,omitempty"`
	CategoryName    string                `json:"category_name,omitempty"`
	Memo            string                `json:"memo"`
	Cleared         string                `json:"cleared,omitempty"`
	Approved        bool                  `json:"approved"`
	SubTransactions []wireSubTransaction  `json:"subtransactions,omitempty"`
}

type wireSubTransaction struct {
	Amount     int64  `json:"amount"`
	CategoryID string `json:"category_id,omitempty"`
	Memo       string `json:"memo,omitempty"`
}

const milliPerMinor = 10

func toWire(txn model.LedgerTransaction) wireTransaction {
	return wireTransaction{
		ID:           txn.ID,
		Date:         txn.Date.Format("2006-01-02"),
		Amount:       txn.Amount * milliPerMinor,
		PayeeName:    txn.Payee,
		CategoryID:   txn.CategoryID,
		CategoryName: txn.Category,
		Memo:         txn.Memo,
		Approved:     txn.Approved,
	}
}

func fromWire(w wireTransaction) model.LedgerTransaction {
	date, _ := time.Parse("2006-01-02", w.Date)
	return model.LedgerTransaction{
		ID:         w.ID,
		Date:       date,
		Amount:     w.Amount / milliPerMinor,
		Payee:      w.PayeeName,
		Memo:       w.Memo,
		Category:   w.CategoryName,
		CategoryID: w.CategoryID,
		IsSplit:    len(w.SubTransactions) > 0,
		Cleared:    w.Cleared == "cleared" || w.Cleared == "reconciled",
		Approved:   w.Approved,
	}
}

// GetTransactions returns ledger transactions on or after the given date.
func (c *Client) GetTransactions(ctx context.Context, since time.Time) ([]model.LedgerTransaction, error) {
	path := fmt.Sprintf("/budgets/%s/transactions?since_date=%s", c.budgetID, since.Format("2006-01-02"))

	var payload struct {
		Data struct {
			Transactions []wireTransaction `json:"transactions"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	txns := make([]model.LedgerTransaction, len(payload.Data.Transactions))
	for i, w := range payload.Data.Transactions {
		txns[i] = fromWire(w)
	}
	return txns, nil
}

// GetTransaction returns a single transaction by id.
func (c *Client) GetTransaction(ctx context.Context, id string) (*model.LedgerTransaction, error) {
	path := fmt.Sprintf("/budgets/%s/transactions/%s", c.budgetID, id)

	var payload struct {
		Data struct {
			Transaction wireTransaction `json:"transaction"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	txn := fromWire(payload.Data.Transaction)
	return &txn, nil
}

// GetCategories returns the budget's category set, including hidden ones so
// reply resolution can still name them.
func (c *Client) GetCategories(ctx context.Context) ([]model.Category, error) {
	path := fmt.Sprintf("/budgets/%s/categories", c.budgetID)

	var payload struct {
		Data struct {
			CategoryGroups []struct {
				Name       string `json:"name"`
				Categories []struct {
					ID     string `json:"id"`
					Name   string `json:"name"`
					Hidden bool   `json:"hidden"`
				} `json:"categories"`
			} `json:"category_groups"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}

	var categories []model.Category
	for _, group := range payload.Data.CategoryGroups {
		for _, cat := range group.Categories {
			categories = append(categories, model.Category{
				ID:     cat.ID,
				Name:   cat.Name,
				Group:  group.Name,
				Hidden: cat.Hidden,
			})
		}
	}
	return categories, nil
}

// CreateSplit replaces a transaction's categorization with the given parts.
func (c *Client) CreateSplit(ctx context.Context, transactionID string, parts []model.SplitPart) error {
	path := fmt.Sprintf("/budgets/%s/transactions/%s", c.budgetID, transactionID)

	subs := make([]wireSubTransaction, len(parts))
	for i, p := range parts {
		subs[i] = wireSubTransaction{
			Amount:     p.Amount * milliPerMinor,
			CategoryID: p.CategoryID,
			Memo:       p.Memo,
		}
	}

	body := map[string]any{
		"transaction": map[string]any{
			"subtransactions": subs,
		},
	}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// AppendMemo appends descriptive text to a transaction's memo. The existing
// memo is never overwritten.
func (c *Client) AppendMemo(ctx context.Context, transactionID, note string) error {
	txn, err := c.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}

	memo := note
	if txn.Memo != "" {
		memo = txn.Memo + " | " + note
	}

	path := fmt.Sprintf("/budgets/%s/transactions/%s", c.budgetID, transactionID)
	body := map[string]any{
		"transaction": map[string]any{
			"memo": memo,
		},
	}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// DeleteTransaction removes a transaction from the ledger.
func (c *Client) DeleteTransaction(ctx context.Context, transactionID string) error {
	path := fmt.Sprintf("/budgets/%s/transactions/%s", c.budgetID, transactionID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// CreateTransaction creates a new, unsplit transaction and returns its id.
func (c *Client) CreateTransaction(ctx context.Context, txn model.LedgerTransaction) (string, error) {
	path := fmt.Sprintf("/budgets/%s/transactions", c.budgetID)

	body := map[string]any{
		"transaction": toWire(txn),
	}

	var payload struct {
		Data struct {
			Transaction wireTransaction `json:"transaction"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &payload); err != nil {
		return "", err
	}
	return payload.Data.Transaction.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrLedgerUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return common.ErrLedgerRateLimit
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrNotFound, path)
	case resp.StatusCode >= 400:
		return fmt.Errorf("ledger API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse ledger response: %w", err)
		}
	}
	return nil
}
