// Package store persists one DedupRecord per catalog ExternalID in a bitcask
// database. It is the mechanism that makes re-running the same query set
// safe: an id already in status fetched is never re-resolved or
// re-downloaded, and records are updated but never deleted.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-libgen-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// recordKeyPrefix namespaces book records so future bookkeeping keys can
// share the database, mirroring the catalog id they came from.
const recordKeyPrefix = "b_"

// Store is the dedup store. All mutations are keyed by ExternalID and are
// atomic per id: the read-modify-write of every mark operation runs under a
// single mutex, so two writers for the same id can never interleave a
// partial update.
type Store struct {
	db *kv

	// opMu serializes record mutations. Bitcask's own lock only covers the
	// individual get/put, not the read-modify-write cycle.
	opMu sync.Mutex

	// now is swapped out in tests.
	now func() time.Time
}

// Open opens (creating if needed) the dedup store at path.
func Open(path string) (*Store, error) {
	db, err := openKV(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close safely closes the underlying database.
func (s *Store) Close() error {
	log.Info("Closing dedup store...")
	return s.db.close()
}

func recordKey(externalID string) []byte {
	return []byte(recordKeyPrefix + externalID)
}

// Get returns the record for externalID, or ErrNotFound.
func (s *Store) Get(externalID string) (models.DedupRecord, error) {
	raw, err := s.db.get(recordKey(externalID))
	if err != nil {
		return models.DedupRecord{}, err
	}
	var rec models.DedupRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.DedupRecord{}, fmt.Errorf("%w: unmarshalling record %s: %v", ErrStore, externalID, err)
	}
	return rec, nil
}

// Has reports whether a record exists for externalID.
func (s *Store) Has(externalID string) bool {
	return s.db.has(recordKey(externalID))
}

func (s *Store) putRecord(rec models.DedupRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshalling record %s: %v", ErrStore, rec.Entry.ExternalID, err)
	}
	return s.db.put(recordKey(rec.Entry.ExternalID), raw)
}

// UpsertDiscovered records every entry in entries. New ids get a record in
// status discovered; existing ids have their descriptive metadata refreshed
// but their status is never regressed. In particular an id already fetched
// stays fetched and will be skipped by the orchestrator.
func (s *Store) UpsertDiscovered(entries []models.CatalogEntry) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	for _, entry := range entries {
		if entry.ExternalID == "" {
			log.WithField("title", entry.Title).Warn("Skipping entry with empty external id")
			continue
		}

		existing, err := s.Get(entry.ExternalID)
		switch {
		case errors.Is(err, ErrNotFound):
			rec := models.DedupRecord{
				Entry:     entry,
				Status:    models.StatusDiscovered,
				UpdatedAt: s.now(),
			}
			if err := s.putRecord(rec); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			// Refresh metadata, keep status and progress fields.
			existing.Entry = mergeEntry(existing.Entry, entry)
			existing.UpdatedAt = s.now()
			if err := s.putRecord(existing); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeEntry overlays freshly extracted listing data onto a stored entry
// without losing enrichment fields the listing does not carry.
func mergeEntry(old, fresh models.CatalogEntry) models.CatalogEntry {
	merged := fresh
	if merged.Description == "" {
		merged.Description = old.Description
	}
	if merged.ISBN == "" {
		merged.ISBN = old.ISBN
	}
	if merged.CoverURL == "" {
		merged.CoverURL = old.CoverURL
	}
	if merged.Publisher == "" {
		merged.Publisher = old.Publisher
	}
	merged.Enriched = merged.Enriched || old.Enriched
	return merged
}

// update applies fn to the stored record for externalID under the mutation
// lock and persists the result, stamping UpdatedAt.
func (s *Store) update(externalID string, fn func(*models.DedupRecord)) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rec, err := s.Get(externalID)
	if err != nil {
		return err
	}
	fn(&rec)
	rec.UpdatedAt = s.now()
	return s.putRecord(rec)
}

// MarkResolved advances the record to resolved and stores the confirmed
// direct URL. Counts as an attempt for the retry cap.
func (s *Store) MarkResolved(externalID string, resolved models.ResolvedDownload) error {
	return s.update(externalID, func(rec *models.DedupRecord) {
		rec.Status = models.StatusResolved
		rec.Resolved = &resolved
		rec.LastError = ""
		rec.AttemptCount++
	})
}

// MarkFetched advances the record to fetched and stores the fetch result.
func (s *Store) MarkFetched(externalID string, result models.FetchResult) error {
	return s.update(externalID, func(rec *models.DedupRecord) {
		rec.Status = models.StatusFetched
		rec.Fetch = &result
		rec.LastError = ""
	})
}

// MarkFailed records a terminal per-entry failure. The record stays in the
// store and is eligible for a fresh attempt on the next run, up to the
// configured cap. A record that already reached fetched is never demoted.
func (s *Store) MarkFailed(externalID string, cause error) error {
	return s.update(externalID, func(rec *models.DedupRecord) {
		if models.StatusRank(rec.Status) >= models.StatusRank(models.StatusFetched) {
			log.WithField("id", externalID).Warn("Ignoring failure mark for already-fetched record")
			return
		}
		if rec.Status != models.StatusResolved {
			// Resolution failures have not been counted yet.
			rec.AttemptCount++
		}
		rec.Status = models.StatusFailed
		rec.LastError = cause.Error()
	})
}

// MarkPublished records the downstream publish identifier. Guarded against
// double publishes by the caller checking PublishID first; the store keeps
// the first successful id.
func (s *Store) MarkPublished(externalID string, publishID int) error {
	return s.update(externalID, func(rec *models.DedupRecord) {
		if rec.PublishID != 0 {
			log.WithField("id", externalID).Warnf("Record already published as %d, keeping it", rec.PublishID)
			return
		}
		now := s.now()
		rec.PublishID = publishID
		rec.PublishedAt = &now
	})
}

// ListByStatus returns all records currently in the given status, in
// unspecified order.
func (s *Store) ListByStatus(status string) ([]models.DedupRecord, error) {
	var out []models.DedupRecord
	err := s.ForEach(func(rec models.DedupRecord) error {
		if rec.Status == status {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// ForEach calls fn for every book record in the store.
func (s *Store) ForEach(fn func(rec models.DedupRecord) error) error {
	return s.db.fold(func(key []byte, value []byte) error {
		if !strings.HasPrefix(string(key), recordKeyPrefix) {
			return nil
		}
		var rec models.DedupRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			log.WithError(err).Warnf("Skipping undecodable record at key %s", string(key))
			return nil
		}
		return fn(rec)
	})
}
