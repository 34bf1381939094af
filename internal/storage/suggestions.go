package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// ReplacePendingSuggestions atomically supersedes the previous suggestion
// batch with a new one. An empty batch simply clears the table.
func (s *SQLiteStorage) ReplacePendingSuggestions(ctx context.Context, batch int64, suggestions []model.PendingSuggestion) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_suggestions`); err != nil {
		return fmt.Errorf("failed to clear previous batch: %w", err)
	}

	for _, suggestion := range suggestions {
		parts, marshalErr := json.Marshal(suggestion.Parts)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal suggestion parts: %w", marshalErr)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pending_suggestions
				(idx, batch, transaction_id, provider, total, txn_date,
				 parts, uncertain, auto_applied, issued_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			suggestion.Index,
			batch,
			suggestion.TransactionID,
			string(suggestion.Provider),
			suggestion.Total,
			suggestion.Date,
			string(parts),
			suggestion.Uncertain,
			suggestion.AutoApplied,
			suggestion.IssuedAt); err != nil {
			return fmt.Errorf("failed to insert suggestion %d: %w", suggestion.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit suggestion batch: %w", err)
	}
	return nil
}

// GetPendingSuggestion returns the pending suggestion at a batch index, or
// nil when the index is unknown or already resolved.
func (s *SQLiteStorage) GetPendingSuggestion(ctx context.Context, index int) (*model.PendingSuggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT idx, batch, transaction_id, provider, total, txn_date,
		       parts, uncertain, auto_applied, issued_at
		FROM pending_suggestions WHERE idx = ?`, index)

	suggestion, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending suggestion: %w", err)
	}
	return suggestion, nil
}

// GetPendingSuggestions returns the current batch in index order.
func (s *SQLiteStorage) GetPendingSuggestions(ctx context.Context) ([]model.PendingSuggestion, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, batch, transaction_id, provider, total, txn_date,
		       parts, uncertain, auto_applied, issued_at
		FROM pending_suggestions ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var suggestions []model.PendingSuggestion
	for rows.Next() {
		suggestion, scanErr := scanSuggestion(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", scanErr)
		}
		suggestions = append(suggestions, *suggestion)
	}
	return suggestions, rows.Err()
}

// ClearPendingSuggestion removes one resolved suggestion from the batch.
func (s *SQLiteStorage) ClearPendingSuggestion(ctx context.Context, index int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_suggestions WHERE idx = ?`, index); err != nil {
		return fmt.Errorf("failed to clear pending suggestion: %w", err)
	}
	return nil
}

func scanSuggestion(row rowScanner) (*model.PendingSuggestion, error) {
	var suggestion model.PendingSuggestion
	var provider, parts string
	if err := row.Scan(&suggestion.Index, &suggestion.Batch, &suggestion.TransactionID,
		&provider, &suggestion.Total, &suggestion.Date,
		&parts, &suggestion.Uncertain, &suggestion.AutoApplied, &suggestion.IssuedAt); err != nil {
		return nil, err
	}
	suggestion.Provider = model.Provider(provider)
	if err := json.Unmarshal([]byte(parts), &suggestion.Parts); err != nil {
		return nil, fmt.Errorf("corrupt suggestion parts: %w", err)
	}
	return &suggestion, nil
}
