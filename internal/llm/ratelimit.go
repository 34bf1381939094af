package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// budgetLimiter is a token bucket sized to an hourly call budget. Tokens
// refill lazily on acquire, spread evenly across the hour, so the limiter
// needs no background goroutine and no shutdown hook.
type budgetLimiter struct {
	lastRefill time.Time
	tokens     float64
	capacity   int
	mu         sync.Mutex
}

// newBudgetLimiter creates a limiter with the specified calls per hour.
func newBudgetLimiter(callsPerHour int) *budgetLimiter {
	if callsPerHour <= 0 {
		callsPerHour = 100
	}

	return &budgetLimiter{
		tokens:     float64(callsPerHour),
		capacity:   callsPerHour,
		lastRefill: time.Now(),
	}
}

// acquire takes one token, or reports that the budget is exhausted. It never
// blocks: budget exhaustion is a deferral signal, not a wait.
func (bl *budgetLimiter) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("budget limiter canceled: %w", err)
	}

	bl.mu.Lock()
	defer bl.mu.Unlock()

	bl.refillLocked()
	if bl.tokens < 1 {
		return ErrBudgetExhausted
	}
	bl.tokens--
	return nil
}

// refillLocked credits tokens for the time elapsed since the last refill.
// Callers must hold bl.mu.
func (bl *budgetLimiter) refillLocked() {
	now := time.Now()
	earned := now.Sub(bl.lastRefill).Hours() * float64(bl.capacity)
	bl.tokens += earned
	if bl.tokens > float64(bl.capacity) {
		bl.tokens = float64(bl.capacity)
	}
	bl.lastRefill = now
}
