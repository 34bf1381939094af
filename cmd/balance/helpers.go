package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/config"
	"github.com/Veraticus/the-books-must-balance/internal/delivery"
	"github.com/Veraticus/the-books-must-balance/internal/engine"
	"github.com/Veraticus/the-books-must-balance/internal/ledger"
	"github.com/Veraticus/the-books-must-balance/internal/llm"
	"github.com/Veraticus/the-books-must-balance/internal/mailbox"
	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/policy"
	"github.com/Veraticus/the-books-must-balance/internal/service"
	"github.com/Veraticus/the-books-must-balance/internal/storage"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/balance/balance.db"
	}

	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func initLedger(logger *slog.Logger) (service.Ledger, error) {
	cfg := ledger.Config{
		BaseURL:  viper.GetString("ledger.base_url"),
		Token:    viper.GetString("ledger.token"),
		BudgetID: viper.GetString("ledger.budget_id"),
	}
	return ledger.NewClient(cfg, logger)
}

func initClassifier(store service.Storage, logger *slog.Logger) (*classify.Classifier, error) {
	cfg := llm.Config{
		Provider:       viper.GetString("llm.provider"),
		APIKey:         viper.GetString("llm.api_key"),
		Model:          viper.GetString("llm.model"),
		Temperature:    viper.GetFloat64("llm.temperature"),
		MaxTokens:      viper.GetInt("llm.max_tokens"),
		CallsPerHour:   viper.GetInt("llm.calls_per_hour"),
		RequestTimeout: viper.GetDuration("llm.request_timeout"),
	}
	if cfg.Provider == "" {
		cfg.Provider = "anthropic"
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	if cfg.CallsPerHour > 0 {
		client = llm.WithBudget(client, cfg.CallsPerHour)
	}

	return classify.New(store, client, logger), nil
}

func initSources(ctx context.Context, logger *slog.Logger) (map[model.Provider]service.RecordSource, error) {
	cfg := mailbox.DefaultConfig()
	cfg.ClientID = viper.GetString("mailbox.client_id")
	cfg.ClientSecret = viper.GetString("mailbox.client_secret")
	cfg.RefreshToken = viper.GetString("mailbox.refresh_token")
	cfg.TokenFile = config.ExpandPath(viper.GetString("mailbox.token_file"))

	if queries := viper.GetStringMapString("mailbox.queries"); len(queries) > 0 {
		cfg.Queries = make(map[model.Provider]string, len(queries))
		for provider, query := range queries {
			cfg.Queries[model.Provider(provider)] = query
		}
	}

	mailSources, err := mailbox.NewSources(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mailbox sources: %w", err)
	}

	sources := make(map[model.Provider]service.RecordSource, len(mailSources))
	for provider, source := range mailSources {
		sources[provider] = source
	}
	return sources, nil
}

func initMessenger(logger *slog.Logger) (service.Messenger, error) {
	if url := viper.GetString("messenger.webhook_url"); url != "" {
		return delivery.NewWebhookMessenger(url, logger)
	}
	return delivery.NewLogMessenger(logger), nil
}

// initEngine wires the full pipeline. Close the returned storage when done.
func initEngine(ctx context.Context, logger *slog.Logger) (*engine.Engine, *storage.SQLiteStorage, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	ledgerClient, err := initLedger(logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	classifier, err := initClassifier(store, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	sources, err := initSources(ctx, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	messenger, err := initMessenger(logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	cfg := engine.Config{
		Lookback:   viper.GetDuration("sync.lookback"),
		PassBudget: viper.GetDuration("sync.pass_budget"),
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = 30 * 24 * time.Hour
	}

	eng := engine.New(
		store,
		store,
		ledgerClient,
		ledger.NewWriter(ledgerClient, store, logger),
		sources,
		classifier,
		policy.NewManager(store, logger),
		messenger,
		cfg,
		logger,
	)
	return eng, store, nil
}
