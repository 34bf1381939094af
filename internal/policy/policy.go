// Package policy tracks suggestion acceptance statistics and decides when
// the engine has earned the right to apply splits without confirmation.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/service"
)

// Graduation thresholds. All three must hold before auto-apply is proposed.
const (
	MinSampleSize   = 10
	MinWindowSpan   = 14 * 24 * time.Hour
	GraduationRatio = 0.8
)

// DefaultGroup is the provider group used when no finer grouping is
// configured.
const DefaultGroup = "default"

// Manager loads, mutates, and persists automation policies. The policy is
// an explicit value passed through the orchestrator, never ambient global
// state.
type Manager struct {
	storage service.Storage
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates a policy manager.
func NewManager(storage service.Storage, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the policy for a provider group, creating the initial
// suggest-only policy on first use.
func (m *Manager) Get(ctx context.Context, group string) (*model.AutomationPolicy, error) {
	if group == "" {
		group = DefaultGroup
	}

	policy, err := m.storage.GetPolicy(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	if policy != nil {
		return policy, nil
	}

	policy = &model.AutomationPolicy{
		Group:     group,
		State:     model.PolicySuggestOnly,
		Window:    model.AcceptanceWindow{WindowStart: m.now()},
		UpdatedAt: m.now(),
	}
	if err := m.storage.SavePolicy(ctx, policy); err != nil {
		return nil, fmt.Errorf("failed to save initial policy: %w", err)
	}
	return policy, nil
}

// RecordSuggested counts newly issued suggestions into the rolling window.
func (m *Manager) RecordSuggested(ctx context.Context, group string, count int) error {
	policy, err := m.Get(ctx, group)
	if err != nil {
		return err
	}

	policy.Window.Suggested += count
	if policy.Window.WindowStart.IsZero() {
		policy.Window.WindowStart = m.now()
	}
	policy.UpdatedAt = m.now()
	return m.storage.SavePolicy(ctx, policy)
}

// RecordOutcome folds one user decision into the rolling window.
func (m *Manager) RecordOutcome(ctx context.Context, group string, outcome model.SuggestionOutcome) error {
	policy, err := m.Get(ctx, group)
	if err != nil {
		return err
	}

	switch outcome {
	case model.OutcomeAcceptedUnmodified:
		policy.Window.AcceptedUnmodified++
	case model.OutcomeAcceptedModified:
		policy.Window.AcceptedModified++
	case model.OutcomeSkipped:
		policy.Window.Skipped++
	default:
		return fmt.Errorf("unknown suggestion outcome: %s", outcome)
	}

	policy.UpdatedAt = m.now()
	return m.storage.SavePolicy(ctx, policy)
}

// MaybePropose checks the graduation thresholds and, when met, moves a
// suggest-only policy to proposed-for-auto. It returns true exactly once
// per window: a policy already proposed does not re-fire.
func (m *Manager) MaybePropose(ctx context.Context, group string) (bool, error) {
	policy, err := m.Get(ctx, group)
	if err != nil {
		return false, err
	}

	if policy.State != model.PolicySuggestOnly {
		return false, nil
	}
	if policy.Window.Suggested < MinSampleSize {
		return false, nil
	}
	if policy.Window.Span(m.now()) < MinWindowSpan {
		return false, nil
	}
	if policy.Window.AcceptanceRatio() < GraduationRatio {
		return false, nil
	}

	policy.State = model.PolicyProposedForAuto
	policy.UpdatedAt = m.now()
	if err := m.storage.SavePolicy(ctx, policy); err != nil {
		return false, err
	}

	m.logger.Info("automation graduation threshold met",
		"group", group,
		"suggested", policy.Window.Suggested,
		"accepted_unmodified", policy.Window.AcceptedUnmodified,
		"ratio", policy.Window.AcceptanceRatio())
	return true, nil
}

// ConfirmAuto enables auto-apply after the user accepts the proposal.
func (m *Manager) ConfirmAuto(ctx context.Context, group string) error {
	policy, err := m.Get(ctx, group)
	if err != nil {
		return err
	}

	if policy.State != model.PolicyProposedForAuto && policy.State != model.PolicySuggestOnly {
		return nil // already enabled
	}

	policy.State = model.PolicyAutoApply
	policy.UpdatedAt = m.now()
	if err := m.storage.SavePolicy(ctx, policy); err != nil {
		return err
	}

	m.logger.Info("auto-apply enabled", "group", group)
	return nil
}

// Disable drops back to suggest-only from any state and starts a fresh
// statistics window.
func (m *Manager) Disable(ctx context.Context, group string) error {
	policy, err := m.Get(ctx, group)
	if err != nil {
		return err
	}

	policy.State = model.PolicySuggestOnly
	policy.Window = model.AcceptanceWindow{WindowStart: m.now()}
	policy.UpdatedAt = m.now()
	if err := m.storage.SavePolicy(ctx, policy); err != nil {
		return err
	}

	m.logger.Info("auto-apply disabled", "group", group)
	return nil
}
