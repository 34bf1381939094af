package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/the-books-must-balance/internal/common"
	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// GetMapping returns the classification mapping for a normalized key.
func (s *SQLiteStorage) GetMapping(ctx context.Context, key string) (*model.ClassificationMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT key, category, confidence, source, updated_at
		FROM classification_mappings WHERE key = ?`, key)

	mapping, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return mapping, nil
}

// SaveMapping inserts or overwrites a classification mapping. A learned
// mapping is never downgraded by a later model-sourced write; user
// corrections always win.
func (s *SQLiteStorage) SaveMapping(ctx context.Context, mapping *model.ClassificationMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMapping(mapping); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classification_mappings (key, category, confidence, source, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			category = excluded.category,
			confidence = excluded.confidence,
			source = excluded.source,
			updated_at = excluded.updated_at
		WHERE NOT (classification_mappings.source = 'learned' AND excluded.source = 'model')`,
		mapping.Key,
		mapping.Category,
		mapping.Confidence,
		string(mapping.Source),
		mapping.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil
}

// GetLearnedMappings returns all mappings confirmed by a user action.
func (s *SQLiteStorage) GetLearnedMappings(ctx context.Context) ([]model.ClassificationMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryMappings(ctx, `
		SELECT key, category, confidence, source, updated_at
		FROM classification_mappings WHERE source = 'learned' ORDER BY key`)
}

// GetRecentMappings returns the most recently updated mappings, newest
// first, for use as in-context classification examples.
func (s *SQLiteStorage) GetRecentMappings(ctx context.Context, limit int) ([]model.ClassificationMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	return s.queryMappings(ctx, `
		SELECT key, category, confidence, source, updated_at
		FROM classification_mappings ORDER BY updated_at DESC LIMIT ?`, limit)
}

func (s *SQLiteStorage) queryMappings(ctx context.Context, query string, args ...any) ([]model.ClassificationMapping, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []model.ClassificationMapping
	for rows.Next() {
		mapping, scanErr := scanMapping(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", scanErr)
		}
		mappings = append(mappings, *mapping)
	}
	return mappings, rows.Err()
}

func scanMapping(row rowScanner) (*model.ClassificationMapping, error) {
	var mapping model.ClassificationMapping
	var source string
	if err := row.Scan(&mapping.Key, &mapping.Category, &mapping.Confidence, &source, &mapping.UpdatedAt); err != nil {
		return nil, err
	}
	mapping.Source = model.MappingSource(source)
	return &mapping, nil
}
