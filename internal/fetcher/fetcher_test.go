package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go-libgen-download/internal/catalog"
	"go-libgen-download/internal/models"
	"go-libgen-download/internal/throttle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, srv *httptest.Server, sizeLimit int64) *Fetcher {
	t.Helper()
	client := catalog.NewClient(srv.URL, srv.Client(), throttle.New(0, 0))
	return NewFetcher(client, t.TempDir(), sizeLimit)
}

func testEntry() models.CatalogEntry {
	return models.CatalogEntry{
		ExternalID: "1234",
		Title:      "The Go Programming Language",
		Format:     "pdf",
	}
}

func resolvedFor(srv *httptest.Server, path string) *models.ResolvedDownload {
	return &models.ResolvedDownload{
		SourceMirror: srv.URL + "/mirror",
		DirectURL:    srv.URL + path,
		ResolvedAt:   time.Now(),
	}
}

func TestFetchWritesFileAndChecksums(t *testing.T) {
	body := "hello world"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 0)
	got, err := f.Fetch(context.Background(), testEntry(), resolvedFor(srv, "/book.pdf"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.DestDir, "1234-The-Go-Programming-Language.pdf"), got.LocalPath)
	assert.Equal(t, int64(len(body)), got.BytesWritten)
	assert.False(t, got.Truncated)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got.SHA256)
	assert.NotEmpty(t, got.BLAKE3)

	data, err := os.ReadFile(got.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	// No temp files left behind.
	matches, err := filepath.Glob(filepath.Join(f.DestDir, "*"+tempSuffix))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFetchRejectsDeclaredOversizeBeforeAnyWrite(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 1024)
	entry := testEntry()
	declared := int64(10 * 1024 * 1024)
	entry.SizeBytes = &declared

	_, err := f.Fetch(context.Background(), entry, resolvedFor(srv, "/big.pdf"))
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.False(t, hit, "oversize entry must be rejected without touching the network")
	assertDirEmpty(t, f.DestDir)
}

func TestFetchRejectsOversizeContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 1024)
	_, err := f.Fetch(context.Background(), testEntry(), resolvedFor(srv, "/big.pdf"))
	require.ErrorIs(t, err, ErrFileTooLarge)
	assertDirEmpty(t, f.DestDir)
}

func TestFetchDroppedConnectionLeavesNoPartialFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write(make([]byte, 100))
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		// Kill the connection mid-body.
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 0)
	_, err := f.Fetch(context.Background(), testEntry(), resolvedFor(srv, "/book.pdf"))
	require.ErrorIs(t, err, ErrIncompleteTransfer)
	assertDirEmpty(t, f.DestDir)
}

func TestFetchFlagsTruncatedAgainstListingSize(t *testing.T) {
	body := "short"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 0)
	entry := testEntry()
	declared := int64(4096)
	entry.SizeBytes = &declared

	got, err := f.Fetch(context.Background(), entry, resolvedFor(srv, "/book.pdf"))
	require.NoError(t, err)
	assert.True(t, got.Truncated)
	assert.Equal(t, int64(len(body)), got.BytesWritten)
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv, 0)
	_, err := f.Fetch(context.Background(), testEntry(), resolvedFor(srv, "/book.pdf"))
	require.ErrorIs(t, err, ErrIncompleteTransfer)
	assertDirEmpty(t, f.DestDir)
}

func TestFilename(t *testing.T) {
	f := &Fetcher{}
	tests := []struct {
		entry models.CatalogEntry
		want  string
	}{
		{models.CatalogEntry{ExternalID: "1", Title: "Clean Code", Format: "epub"}, "1-Clean-Code.epub"},
		{models.CatalogEntry{ExternalID: "2", Title: "C++ / STL (2nd ed.)", Format: "PDF"}, "2-C-STL-2nd-ed.pdf"},
		{models.CatalogEntry{ExternalID: "3", Title: "???", Format: ""}, "3-untitled.bin"},
	}
	for _, tc := range tests {
		if got := f.filename(tc.entry); got != tc.want {
			t.Errorf("filename(%q) = %q, want %q", tc.entry.Title, got, tc.want)
		}
	}
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Empty(t, names, "destination dir should be empty, found: %s", strings.Join(names, ", "))
}
