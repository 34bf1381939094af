package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/Veraticus/the-books-must-balance/internal/model"
	"github.com/Veraticus/the-books-must-balance/internal/normalizer"
)

const gmailUser = "me"

// Source reads provider receipts from a Gmail mailbox and normalizes them
// into ExternalRecords. It implements service.RecordSource for a single
// provider; one mailbox backs one Source per provider.
type Source struct {
	svc        *gmail.Service
	normalizer *normalizer.Normalizer
	provider   model.Provider
	query      string
	logger     *slog.Logger
}

// NewSources builds one Source per configured provider, all sharing a
// single authenticated Gmail service.
func NewSources(ctx context.Context, cfg Config, logger *slog.Logger) (map[model.Provider]*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ts, err := tokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	sources := make(map[model.Provider]*Source, len(cfg.Queries))
	norm := normalizer.New(logger)
	for provider, query := range cfg.Queries {
		sources[provider] = &Source{
			svc:        svc,
			normalizer: norm,
			provider:   provider,
			query:      query,
			logger:     logger,
		}
	}
	return sources, nil
}

// Fetch pulls every receipt message since the given time and returns the
// normalized records. Messages that fail to download are logged and
// skipped; payloads the normalizer rejects are dropped by the normalizer
// itself.
func (s *Source) Fetch(ctx context.Context, since time.Time) ([]model.ExternalRecord, error) {
	query := fmt.Sprintf("%s after:%s", s.query, since.Format("2006/01/02"))

	ids, err := s.listMessageIDs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipt messages: %w", err)
	}

	raws := make([]normalizer.RawRecord, 0, len(ids))
	for _, id := range ids {
		body, fetchErr := s.messageBody(ctx, id)
		if fetchErr != nil {
			s.logger.Warn("skipping unreadable receipt message",
				"provider", s.provider,
				"message_id", id,
				"error", fetchErr)
			continue
		}
		raws = append(raws, normalizer.RawRecord{Provider: s.provider, Body: body})
	}

	return s.normalizer.Normalize(raws), nil
}

func (s *Source) listMessageIDs(ctx context.Context, query string) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		call := s.svc.Users.Messages.List(gmailUser).Q(query).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, err
		}
		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		if resp.NextPageToken == "" {
			return ids, nil
		}
		pageToken = resp.NextPageToken
	}
}

// messageBody extracts the structured receipt payload from a message,
// preferring a JSON attachment over the inline body.
func (s *Source) messageBody(ctx context.Context, id string) ([]byte, error) {
	msg, err := s.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("message has no payload")
	}

	if data := findPartData(msg.Payload, "application/json"); data != "" {
		return decodeBody(data)
	}
	if data := findPartData(msg.Payload, "text/plain"); data != "" {
		return decodeBody(data)
	}
	if msg.Payload.Body != nil && msg.Payload.Body.Data != "" {
		return decodeBody(msg.Payload.Body.Data)
	}
	return nil, fmt.Errorf("no readable body part")
}

func findPartData(part *gmail.MessagePart, mimeType string) string {
	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		return part.Body.Data
	}
	for _, child := range part.Parts {
		if data := findPartData(child, mimeType); data != "" {
			return data
		}
	}
	return ""
}

func decodeBody(data string) ([]byte, error) {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message body: %w", err)
	}
	return decoded, nil
}
