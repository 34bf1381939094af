// Package normalizer converts heterogeneous provider payloads into the one
// internal ExternalRecord shape. The rest of the pipeline never branches on
// provider-specific fields past this boundary.
package normalizer

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/Veraticus/the-books-must-balance/internal/model"
)

// RawRecord is an unparsed provider payload as pulled from the record source.
type RawRecord struct {
	Provider model.Provider
	Body     []byte
}

// Normalizer converts raw provider payloads into ExternalRecords.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a normalizer.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize converts a batch of raw payloads. Malformed payloads are logged
// and skipped; one bad record never fails the batch. Output ordering is
// deterministic: by date, then source reference.
func (n *Normalizer) Normalize(raws []RawRecord) []model.ExternalRecord {
	records := make([]model.ExternalRecord, 0, len(raws))

	for _, raw := range raws {
		record, err := n.normalizeOne(raw)
		if err != nil {
			n.logger.Warn("skipping malformed provider payload",
				"provider", raw.Provider,
				"error", err)
			continue
		}
		records = append(records, record)
	}

	return SortRecords(records)
}

// SortRecords orders records by date, then source reference. Matching
// relies on this ordering for deterministic tie-breaking, so callers that
// merge records from several sources must re-sort the combined set.
func SortRecords(records []model.ExternalRecord) []model.ExternalRecord {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.Before(records[j].Date)
		}
		return records[i].SourceRef < records[j].SourceRef
	})
	return records
}

func (n *Normalizer) normalizeOne(raw RawRecord) (model.ExternalRecord, error) {
	var record model.ExternalRecord
	var err error

	switch raw.Provider {
	case model.ProviderAmazon:
		record, err = normalizeAmazon(raw.Body)
	case model.ProviderPayPal:
		record, err = normalizePayPal(raw.Body)
	default:
		return model.ExternalRecord{}, fmt.Errorf("unknown provider: %s", raw.Provider)
	}

	if err != nil {
		return model.ExternalRecord{}, err
	}

	if record.SourceRef == "" {
		record.SourceRef = record.Fingerprint()
	}

	return record, nil
}
