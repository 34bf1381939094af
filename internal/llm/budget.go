package llm

import (
	"context"
	"errors"
)

// ErrBudgetExhausted signals that the hourly call budget is spent. Callers
// defer remaining work to the next scheduled run rather than failing.
var ErrBudgetExhausted = errors.New("llm call budget exhausted")

// budgetedClient enforces an hourly call budget in front of a Client.
type budgetedClient struct {
	client  Client
	limiter *budgetLimiter
}

// WithBudget wraps a client so it spends from an hourly call budget and
// returns ErrBudgetExhausted once the budget is gone.
func WithBudget(client Client, callsPerHour int) Client {
	return &budgetedClient{
		client:  client,
		limiter: newBudgetLimiter(callsPerHour),
	}
}

func (b *budgetedClient) Classify(ctx context.Context, prompt string) (ClassificationResponse, error) {
	if err := b.limiter.acquire(ctx); err != nil {
		return ClassificationResponse{}, err
	}
	return b.client.Classify(ctx, prompt)
}
