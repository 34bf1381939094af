package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrInvalidStatus    = errors.New("invalid sync status")
	ErrInvalidMapping   = errors.New("invalid classification mapping")
	ErrInvalidPolicy    = errors.New("invalid automation policy")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
	ErrInvalidBatchSize = errors.New("suggestion batch cannot be empty")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateSyncRecord validates a sync record before persistence.
func validateSyncRecord(record *model.SyncRecord) error {
	if record == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	if err := validateString(record.TransactionID, "transaction_id"); err != nil {
		return err
	}
	switch record.Status {
	case model.SyncPending, model.SyncMatched, model.SyncClassified,
		model.SyncApplied, model.SyncSkipped, model.SyncUnmatched, model.SyncReverted:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, record.Status)
	}
}

// validateMapping validates a classification mapping before persistence.
func validateMapping(mapping *model.ClassificationMapping) error {
	if mapping == nil {
		return fmt.Errorf("%w: mapping", ErrNilParameter)
	}
	if err := validateString(mapping.Key, "key"); err != nil {
		return err
	}
	if err := validateString(mapping.Category, "category"); err != nil {
		return err
	}
	if mapping.Confidence < 0 || mapping.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidMapping, mapping.Confidence)
	}
	if mapping.Source != model.SourceLearned && mapping.Source != model.SourceModel {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidMapping, mapping.Source)
	}
	return nil
}

// validatePolicy validates an automation policy before persistence.
func validatePolicy(policy *model.AutomationPolicy) error {
	if policy == nil {
		return fmt.Errorf("%w: policy", ErrNilParameter)
	}
	if err := validateString(policy.Group, "group"); err != nil {
		return err
	}
	switch policy.State {
	case model.PolicySuggestOnly, model.PolicyProposedForAuto, model.PolicyAutoApply:
		return nil
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidPolicy, policy.State)
	}
}

// validateSnapshot validates a pre-split snapshot before persistence.
func validateSnapshot(snapshot *model.TransactionSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("%w: snapshot", ErrNilParameter)
	}
	if err := validateString(snapshot.TransactionID, "transaction_id"); err != nil {
		return err
	}
	if snapshot.Transaction.ID == "" {
		return fmt.Errorf("%w: missing transaction", ErrInvalidSnapshot)
	}
	return nil
}
