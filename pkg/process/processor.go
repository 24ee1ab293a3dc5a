// Package process deduplicates extracted records against earlier runs.
package process

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/web-to-sheets/pkg/models"
	"github.com/Sriram-PR/web-to-sheets/pkg/storage"
	"github.com/Sriram-PR/web-to-sheets/pkg/utils"
)

// DataProcessor filters records whose dedupe key was already exported and
// enforces the site's minimum row count.
type DataProcessor struct {
	site       string
	dedupeKeys []string
	minRows    int
	store      storage.DedupeStore
	log        *logrus.Entry
}

// NewDataProcessor creates a processor for one site.
func NewDataProcessor(site string, dedupeKeys []string, minRows int, store storage.DedupeStore, log *logrus.Entry) *DataProcessor {
	return &DataProcessor{
		site:       site,
		dedupeKeys: dedupeKeys,
		minRows:    minRows,
		store:      store,
		log:        log,
	}
}

// Key returns the dedupe hash of rec. Missing fields contribute an empty string.
func (p *DataProcessor) Key(rec models.Record) string {
	return utils.DedupeKeyHash(rec.Values(p.dedupeKeys))
}

// Filter returns, in input order, the first occurrence of every record whose
// key is not in the store. Nothing is marked; call Commit once the records have
// been exported. Fewer than min_rows survivors yields utils.ErrInsufficientData
// together with the survivors.
func (p *DataProcessor) Filter(ctx context.Context, records []models.Record) ([]models.Record, error) {
	kept := make([]models.Record, 0, len(records))
	batch := make(map[string]struct{}, len(records))
	duplicates := 0

	for _, rec := range records {
		key := p.Key(rec)
		if _, dup := batch[key]; dup {
			duplicates++
			continue
		}
		batch[key] = struct{}{}

		seen, err := p.store.IsSeen(ctx, p.site, key)
		if err != nil {
			return nil, err
		}
		if seen {
			duplicates++
			continue
		}
		kept = append(kept, rec)
	}

	p.log.WithFields(logrus.Fields{
		"input":      len(records),
		"kept":       len(kept),
		"duplicates": duplicates,
	}).Info("Deduplicated records")

	if len(kept) < p.minRows {
		return kept, fmt.Errorf("%w: %d < %d", utils.ErrInsufficientData, len(kept), p.minRows)
	}
	return kept, nil
}

// Commit marks every record's key as seen.
func (p *DataProcessor) Commit(ctx context.Context, records []models.Record) error {
	for _, rec := range records {
		if err := p.store.MarkSeen(ctx, p.site, p.Key(rec)); err != nil {
			return err
		}
	}
	p.log.Debugf("Marked %d dedupe keys as seen", len(records))
	return nil
}

// Process is Filter followed by Commit for callers that export nothing.
func (p *DataProcessor) Process(ctx context.Context, records []models.Record) ([]models.Record, error) {
	kept, err := p.Filter(ctx, records)
	if err != nil {
		return kept, err
	}
	if err := p.Commit(ctx, kept); err != nil {
		return nil, err
	}
	return kept, nil
}
