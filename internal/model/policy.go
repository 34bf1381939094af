package model

import "time"

// PolicyState is the automation stance for a provider group.
type PolicyState string

const (
	// PolicySuggestOnly requires human confirmation for every suggestion.
	PolicySuggestOnly PolicyState = "suggest-only"
	// PolicyProposedForAuto means the accuracy threshold was met and the
	// user has been asked, once, whether to enable auto-apply.
	PolicyProposedForAuto PolicyState = "proposed-for-auto"
	// PolicyAutoApply applies confident splits without confirmation.
	PolicyAutoApply PolicyState = "auto-apply"
)

// AcceptanceWindow is the rolling statistics window backing graduation
// decisions.
type AcceptanceWindow struct {
	WindowStart        time.Time
	Suggested          int
	AcceptedUnmodified int
	AcceptedModified   int
	Skipped            int
}

// AcceptanceRatio returns accepted_unmodified / suggested, or 0 when no
// suggestions have been issued.
func (w AcceptanceWindow) AcceptanceRatio() float64 {
	if w.Suggested == 0 {
		return 0
	}
	return float64(w.AcceptedUnmodified) / float64(w.Suggested)
}

// Span returns how long the window has been accumulating as of now.
func (w AcceptanceWindow) Span(now time.Time) time.Duration {
	if w.WindowStart.IsZero() {
		return 0
	}
	return now.Sub(w.WindowStart)
}

// AutomationPolicy is the per-provider-group decision of whether new
// suggestions require confirmation before being applied.
type AutomationPolicy struct {
	UpdatedAt time.Time
	Group     string
	State     PolicyState
	Window    AcceptanceWindow
}

// AutoApply reports whether confident suggestions may be applied without
// waiting for a reply.
func (p *AutomationPolicy) AutoApply() bool {
	return p.State == PolicyAutoApply
}
