package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// GetPolicy returns the automation policy for a provider group, or nil if
// none has been created yet.
func (s *SQLiteStorage) GetPolicy(ctx context.Context, group string) (*model.AutomationPolicy, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(group, "group"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT provider_group, state, suggested, accepted_unmodified,
		       accepted_modified, skipped, window_start, updated_at
		FROM automation_policies WHERE provider_group = ?`, group)

	var policy model.AutomationPolicy
	var state string
	var windowStart sql.NullTime
	err := row.Scan(&policy.Group, &state,
		&policy.Window.Suggested, &policy.Window.AcceptedUnmodified,
		&policy.Window.AcceptedModified, &policy.Window.Skipped,
		&windowStart, &policy.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}

	policy.State = model.PolicyState(state)
	if windowStart.Valid {
		policy.Window.WindowStart = windowStart.Time
	}
	return &policy, nil
}

// SavePolicy inserts or updates an automation policy.
func (s *SQLiteStorage) SavePolicy(ctx context.Context, policy *model.AutomationPolicy) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePolicy(policy); err != nil {
		return err
	}

	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_policies
			(provider_group, state, suggested, accepted_unmodified,
			 accepted_modified, skipped, window_start, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_group) DO UPDATE SET
			state = excluded.state,
			suggested = excluded.suggested,
			accepted_unmodified = excluded.accepted_unmodified,
			accepted_modified = excluded.accepted_modified,
			skipped = excluded.skipped,
			window_start = excluded.window_start,
			updated_at = excluded.updated_at`,
		policy.Group,
		string(policy.State),
		policy.Window.Suggested,
		policy.Window.AcceptedUnmodified,
		policy.Window.AcceptedModified,
		policy.Window.Skipped,
		policy.Window.WindowStart,
		policy.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save policy: %w", err)
	}
	return nil
}

// RecordSuggestionOutcome appends one entry to the outcome journal. The
// journal is audit-only; the rolling window on the policy row is what
// graduation reads.
func (s *SQLiteStorage) RecordSuggestionOutcome(ctx context.Context, transactionID, group string, outcome model.SuggestionOutcome) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suggestion_outcomes (transaction_id, provider_group, outcome)
		VALUES (?, ?, ?)`,
		transactionID, group, string(outcome))
	if err != nil {
		return fmt.Errorf("failed to record suggestion outcome: %w", err)
	}
	return nil
}
