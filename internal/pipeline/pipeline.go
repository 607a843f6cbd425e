// Package pipeline drives a batch run end to end: search the catalog,
// persist discoveries, then resolve and fetch each entry that still needs
// it. Entries are processed one at a time; parallel resolution against the
// same origin would defeat the throttle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go-libgen-download/index"
	"go-libgen-download/internal/catalog"
	"go-libgen-download/internal/fetcher"
	"go-libgen-download/internal/mirror"
	"go-libgen-download/internal/models"
	"go-libgen-download/internal/store"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

// Summary is what a batch run reports when it finishes, whatever happened
// along the way.
type Summary struct {
	Discovered int
	Fetched    int
	Failed     int
	Skipped    int
}

// Pipeline wires the components of one sequential run. Index is optional;
// when set, every freshly fetched record is indexed immediately.
type Pipeline struct {
	Client   *catalog.Client
	Resolver *mirror.Resolver
	Fetcher  *fetcher.Fetcher
	Store    *store.Store
	Index    bleve.Index

	// MaxResults caps entries taken per query; 0 means no cap.
	MaxResults int

	// MaxAttempts caps how many runs may retry a failing entry; 0 retries
	// forever.
	MaxAttempts int

	// QueryPause separates consecutive catalog searches. This is batch-level
	// pacing on top of the per-request throttle.
	QueryPause time.Duration

	// NoDownload stops after discovery and persistence.
	NoDownload bool

	// EnrichEntries adds a detail-page pass per newly discovered entry.
	EnrichEntries bool

	// Progress, when set, receives human-readable per-entry status lines.
	Progress io.Writer

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// New assembles a Pipeline from its components.
func New(client *catalog.Client, resolver *mirror.Resolver, f *fetcher.Fetcher, st *store.Store) *Pipeline {
	return &Pipeline{
		Client:   client,
		Resolver: resolver,
		Fetcher:  f,
		Store:    st,
		sleep:    time.Sleep,
	}
}

// Run processes a batch of searches sequentially and returns the summary.
// Per-entry failures are recorded and skipped over; a search that fails on
// the network aborts only that query; a store failure aborts the whole batch
// because continuing without durable dedup would break idempotence.
func (p *Pipeline) Run(ctx context.Context, requests []models.SearchRequest) (Summary, error) {
	var summary Summary

	for i, req := range requests {
		if i > 0 && p.QueryPause > 0 {
			log.Debugf("Pausing %v before next query", p.QueryPause)
			p.sleep(p.QueryPause)
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if err := p.runQuery(ctx, req, &summary); err != nil {
			if errors.Is(err, store.ErrStore) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return summary, err
			}
			log.WithError(err).Errorf("Query %q failed, moving to next query", req.Query)
		}
	}

	log.WithFields(log.Fields{
		"discovered": summary.Discovered,
		"fetched":    summary.Fetched,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
	}).Info("Batch run complete")
	return summary, nil
}

// runQuery handles one search: discover, persist, then walk the entries.
func (p *Pipeline) runQuery(ctx context.Context, req models.SearchRequest, summary *Summary) error {
	p.progressf("Searching for %q...", req.Query)

	doc, err := p.Client.Search(ctx, req)
	if err != nil {
		return fmt.Errorf("searching %q: %w", req.Query, err)
	}

	entries, err := catalog.Extract(doc, p.Client.BaseURL, p.MaxResults)
	if err != nil {
		if errors.Is(err, catalog.ErrNoResults) {
			log.Infof("No results for %q", req.Query)
			return nil
		}
		return fmt.Errorf("extracting results for %q: %w", req.Query, err)
	}

	if p.EnrichEntries {
		if err := p.enrichNew(ctx, entries); err != nil {
			return err
		}
	}

	if err := p.Store.UpsertDiscovered(entries); err != nil {
		return err
	}
	summary.Discovered += len(entries)
	p.progressf("Query %q: %d entries discovered", req.Query, len(entries))

	if p.NoDownload {
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processEntry(ctx, entry, summary); err != nil {
			return err
		}
	}
	return nil
}

// enrichNew runs the detail-page pass over entries the store has not seen
// enriched yet. Ids already fetched, or already enriched on a prior run, are
// left alone so a re-run issues no detail request for them.
func (p *Pipeline) enrichNew(ctx context.Context, entries []models.CatalogEntry) error {
	for i := range entries {
		rec, err := p.Store.Get(entries[i].ExternalID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// first sight, enrich below
		case err != nil:
			return err
		case rec.Status == models.StatusFetched || rec.Entry.Enriched:
			continue
		}
		entries[i] = catalog.Enrich(ctx, p.Client, entries[i])
	}
	return nil
}

// processEntry takes one entry through resolve and fetch. Entry-level
// failures are converted to a failed record and swallowed; only store
// failures and cancellation propagate.
func (p *Pipeline) processEntry(ctx context.Context, entry models.CatalogEntry, summary *Summary) error {
	rec, err := p.Store.Get(entry.ExternalID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if rec.Status == models.StatusFetched {
		log.WithField("id", entry.ExternalID).Debug("Already fetched, skipping")
		summary.Skipped++
		return nil
	}
	if p.MaxAttempts > 0 && rec.AttemptCount >= p.MaxAttempts {
		log.WithFields(log.Fields{"id": entry.ExternalID, "attempts": rec.AttemptCount}).
			Warn("Attempt cap reached, skipping")
		summary.Skipped++
		return nil
	}

	p.progressf("Resolving %s (%s)...", entry.Title, entry.ExternalID)

	resolved, err := p.Resolver.Resolve(ctx, entry)
	if err != nil {
		if isCancellation(err) {
			return err
		}
		summary.Failed++
		return p.Store.MarkFailed(entry.ExternalID, err)
	}
	if err := p.Store.MarkResolved(entry.ExternalID, *resolved); err != nil {
		return err
	}

	p.progressf("Fetching %s from %s...", entry.Title, resolved.DirectURL)

	result, err := p.Fetcher.Fetch(ctx, entry, resolved)
	if err != nil {
		if isCancellation(err) {
			return err
		}
		summary.Failed++
		return p.Store.MarkFailed(entry.ExternalID, err)
	}
	if err := p.Store.MarkFetched(entry.ExternalID, *result); err != nil {
		return err
	}
	summary.Fetched++
	p.progressf("Fetched %s -> %s", entry.Title, result.LocalPath)

	p.indexFetched(entry.ExternalID)
	return nil
}

// indexFetched mirrors the freshly fetched record into the search index.
// Index failures are logged, never fatal; the index can be rebuilt from the
// store at any time.
func (p *Pipeline) indexFetched(externalID string) {
	if p.Index == nil {
		return
	}
	rec, err := p.Store.Get(externalID)
	if err != nil {
		log.WithError(err).Warnf("Cannot load record %s for indexing", externalID)
		return
	}
	if err := index.IndexItem(p.Index, index.FromRecord(rec)); err != nil {
		log.WithError(err).Warnf("Indexing record %s failed", externalID)
	}
}

func (p *Pipeline) progressf(format string, args ...interface{}) {
	if p.Progress == nil {
		return
	}
	fmt.Fprintf(p.Progress, format+"\n", args...)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
