package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go-libgen-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "dedup_db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(id, title string) models.CatalogEntry {
	return models.CatalogEntry{
		ExternalID: id,
		Title:      title,
		Author:     "Test Author",
		Format:     "pdf",
		MirrorURLs: []string{"http://mirror-1.example/" + id},
	}
}

func TestUpsertDiscoveredCreatesRecords(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{entry("101", "First"), entry("102", "Second")}))

	rec, err := s.Get("101")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDiscovered, rec.Status)
	assert.Equal(t, "First", rec.Entry.Title)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestGetMissingRecord(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, s.Has("nope"))
}

func TestStatusLifecycle(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{entry("200", "Lifecycle")}))

	resolved := models.ResolvedDownload{
		SourceMirror: "http://mirror-1.example/200",
		DirectURL:    "http://download.library.lol/200.pdf",
		ResolvedAt:   time.Now(),
	}
	require.NoError(t, s.MarkResolved("200", resolved))

	rec, err := s.Get("200")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, rec.Status)
	require.NotNil(t, rec.Resolved)
	assert.Equal(t, resolved.DirectURL, rec.Resolved.DirectURL)
	assert.Equal(t, 1, rec.AttemptCount)

	require.NoError(t, s.MarkFetched("200", models.FetchResult{LocalPath: "/tmp/Lifecycle.pdf", BytesWritten: 42}))
	rec, err = s.Get("200")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFetched, rec.Status)
	require.NotNil(t, rec.Fetch)
	assert.EqualValues(t, 42, rec.Fetch.BytesWritten)
	assert.Empty(t, rec.LastError)
}

func TestUpsertDiscoveredNeverRegressesStatus(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{entry("300", "Original Title")}))
	require.NoError(t, s.MarkResolved("300", models.ResolvedDownload{DirectURL: "http://d.example/300"}))
	require.NoError(t, s.MarkFetched("300", models.FetchResult{LocalPath: "/tmp/x.pdf"}))

	// Second run rediscovers the same id with refreshed metadata.
	fresh := entry("300", "Updated Title")
	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{fresh}))

	rec, err := s.Get("300")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFetched, rec.Status, "status must not regress on rediscovery")
	assert.Equal(t, "Updated Title", rec.Entry.Title, "descriptive metadata may be refreshed")
	require.NotNil(t, rec.Fetch, "fetch result must survive rediscovery")
}

func TestUpsertDiscoveredKeepsEnrichmentFields(t *testing.T) {
	s := openTestStore(t)

	enriched := entry("310", "Enriched Book")
	enriched.Publisher = "Detail Press"
	enriched.Description = "From the detail page."
	enriched.ISBN = "978-0000000000"
	enriched.CoverURL = "http://catalog.example/covers/310.jpg"
	enriched.Enriched = true
	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{enriched}))

	// A later listing carries none of the detail-page fields.
	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{entry("310", "Enriched Book")}))

	rec, err := s.Get("310")
	require.NoError(t, err)
	assert.Equal(t, "Detail Press", rec.Entry.Publisher)
	assert.Equal(t, "From the detail page.", rec.Entry.Description)
	assert.Equal(t, "978-0000000000", rec.Entry.ISBN)
	assert.Equal(t, "http://catalog.example/covers/310.jpg", rec.Entry.CoverURL)
	assert.True(t, rec.Entry.Enriched)
}

func TestMarkFailedRecordsErrorAndCountsAttempt(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{entry("400", "Doomed")}))

	require.NoError(t, s.MarkFailed("400", errors.New("no mirror produced a direct url")))

	rec, err := s.Get("400")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, rec.Status)
	assert.Equal(t, "no mirror produced a direct url", rec.LastError)
	assert.Equal(t, 1, rec.AttemptCount)

	// A failure after resolution must not double-count the attempt.
	require.NoError(t, s.MarkResolved("400", models.ResolvedDownload{DirectURL: "http://d.example/400"}))
	require.NoError(t, s.MarkFailed("400", errors.New("stream ended early")))
	rec, err = s.Get("400")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.AttemptCount)
}

func TestMarkFailedDoesNotDemoteFetched(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{entry("500", "Done")}))
	require.NoError(t, s.MarkFetched("500", models.FetchResult{LocalPath: "/tmp/done.pdf"}))

	require.NoError(t, s.MarkFailed("500", errors.New("late failure")))

	rec, err := s.Get("500")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFetched, rec.Status)
}

func TestListByStatus(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{
		entry("601", "A"), entry("602", "B"), entry("603", "C"),
	}))
	require.NoError(t, s.MarkFetched("602", models.FetchResult{LocalPath: "/tmp/b.pdf"}))
	require.NoError(t, s.MarkFailed("603", errors.New("boom")))

	discovered, err := s.ListByStatus(models.StatusDiscovered)
	require.NoError(t, err)
	fetched, err := s.ListByStatus(models.StatusFetched)
	require.NoError(t, err)
	failed, err := s.ListByStatus(models.StatusFailed)
	require.NoError(t, err)

	assert.Len(t, discovered, 1)
	assert.Len(t, fetched, 1)
	assert.Len(t, failed, 1)
	assert.Equal(t, "602", fetched[0].Entry.ExternalID)
}

func TestMarkPublishedIsWriteOnce(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{entry("700", "Published")}))
	require.NoError(t, s.MarkFetched("700", models.FetchResult{LocalPath: "/tmp/p.pdf"}))

	require.NoError(t, s.MarkPublished("700", 9001))
	require.NoError(t, s.MarkPublished("700", 9002))

	rec, err := s.Get("700")
	require.NoError(t, err)
	assert.Equal(t, 9001, rec.PublishID, "first publish id must be kept")
	require.NotNil(t, rec.PublishedAt)
}

func TestRecordsSurviveReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dedup_db")

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.UpsertDiscovered([]models.CatalogEntry{entry("800", "Durable")}))
	require.NoError(t, s.MarkFetched("800", models.FetchResult{LocalPath: "/tmp/d.pdf"}))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	rec, err := s2.Get("800")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFetched, rec.Status)
}
