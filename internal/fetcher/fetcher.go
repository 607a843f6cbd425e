// Package fetcher downloads a resolved file to local disk. Writes go to a
// temp file in the destination directory and only a fully transferred file
// is renamed into place, so a crash or dropped connection never leaves a
// half-written file under the final name.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-libgen-download/internal/catalog"
	"go-libgen-download/internal/helpers"
	"go-libgen-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom error types.
var (
	// ErrFileTooLarge means the declared size exceeded the configured limit.
	// It is raised before any byte is written.
	ErrFileTooLarge = errors.New("file exceeds size limit")

	// ErrIncompleteTransfer means the connection dropped or the body came up
	// short mid-download. The partial temp file has already been removed.
	ErrIncompleteTransfer = errors.New("incomplete transfer")
)

// tempSuffix marks in-progress downloads; the clean command sweeps strays.
const tempSuffix = ".tmp"

// Fetcher streams resolved downloads to disk.
type Fetcher struct {
	Client    *catalog.Client
	DestDir   string
	SizeLimit int64 // bytes, 0 disables the limit

	// Progress, when set, receives single-line progress updates during the
	// transfer. Wired to a uilive writer by the CLI.
	Progress io.Writer
}

// NewFetcher creates a Fetcher writing into destDir.
func NewFetcher(client *catalog.Client, destDir string, sizeLimit int64) *Fetcher {
	return &Fetcher{Client: client, DestDir: destDir, SizeLimit: sizeLimit}
}

// Fetch downloads resolved.DirectURL for entry into the destination
// directory and returns where it landed along with byte count and checksums.
// The size limit is enforced against the declared size (listing metadata or
// Content-Length) before the first write, and again against actual bytes
// streamed for servers that lie about length.
func (f *Fetcher) Fetch(ctx context.Context, entry models.CatalogEntry, resolved *models.ResolvedDownload) (*models.FetchResult, error) {
	if entry.SizeBytes != nil && f.overLimit(*entry.SizeBytes) {
		return nil, fmt.Errorf("%w: listing declares %s for entry %s",
			ErrFileTooLarge, helpers.BytesToSize(uint64(*entry.SizeBytes)), entry.ExternalID)
	}

	if f.Client.Throttle != nil {
		f.Client.Throttle.Wait(catalog.Origin(resolved.DirectURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.DirectURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating download request: %w", err)
	}
	req.Header.Set("User-Agent", f.Client.UserAgent)

	resp, err := f.Client.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteTransfer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d from %s", ErrIncompleteTransfer, resp.StatusCode, resolved.DirectURL)
	}

	var declaredSize *int64
	if resp.ContentLength > 0 {
		cl := resp.ContentLength
		declaredSize = &cl
		if f.overLimit(cl) {
			return nil, fmt.Errorf("%w: server declares %s for entry %s",
				ErrFileTooLarge, helpers.BytesToSize(uint64(cl)), entry.ExternalID)
		}
	} else if entry.SizeBytes != nil {
		declaredSize = entry.SizeBytes
	}

	if !helpers.CheckAndMakeDir(f.DestDir) {
		return nil, fmt.Errorf("creating destination directory %s", f.DestDir)
	}

	finalPath := filepath.Join(f.DestDir, f.filename(entry))
	tempPath := finalPath + tempSuffix

	result, err := f.stream(resp.Body, tempPath, finalPath, declaredSize)
	if err != nil {
		return nil, err
	}
	result.DeclaredSize = declaredSize

	log.WithFields(log.Fields{
		"id":    entry.ExternalID,
		"bytes": result.BytesWritten,
		"path":  result.LocalPath,
	}).Info("Download complete")
	return result, nil
}

// stream copies the body into tempPath and renames on success. Any failure
// removes the temp file before returning.
func (f *Fetcher) stream(body io.Reader, tempPath, finalPath string, declaredSize *int64) (*models.FetchResult, error) {
	out, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp file %s: %w", tempPath, err)
	}

	counter := &helpers.CounterWriter{Writer: out}
	_, copyErr := io.Copy(counter, f.withProgress(body, finalPath, declaredSize))
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(tempPath)
		if copyErr == nil {
			copyErr = closeErr
		}
		return nil, fmt.Errorf("%w: after %d bytes: %v", ErrIncompleteTransfer, counter.Total, copyErr)
	}

	// A dropped connection shows up as a copy error (the transport checks
	// Content-Length itself), so a clean EOF short of the declared size can
	// only mean the listing's size metadata was off. Flag it, keep the file.
	written := int64(counter.Total)
	truncated := declaredSize != nil && written < *declaredSize
	if truncated {
		log.Warnf("Stream for %s ended at %d of %d declared bytes", finalPath, written, *declaredSize)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("renaming %s into place: %w", tempPath, err)
	}

	sha, b3, err := helpers.FileChecksums(finalPath)
	if err != nil {
		return nil, err
	}

	return &models.FetchResult{
		LocalPath:    finalPath,
		BytesWritten: written,
		Truncated:    truncated,
		SHA256:       sha,
		BLAKE3:       b3,
	}, nil
}

// withProgress interposes progress reporting on the body stream when a
// Progress writer is configured.
func (f *Fetcher) withProgress(body io.Reader, finalPath string, declaredSize *int64) io.Reader {
	if f.Progress == nil {
		return body
	}
	pr := &progressReader{
		reader:   body,
		progress: f.Progress,
		name:     filepath.Base(finalPath),
	}
	if declaredSize != nil {
		pr.total = *declaredSize
	}
	return pr
}

func (f *Fetcher) overLimit(size int64) bool {
	return f.SizeLimit > 0 && size > f.SizeLimit
}

// filename derives the on-disk name from sanitized title plus format, with
// the external id as a tie-breaker prefix so distinct entries sharing a
// title never collide.
func (f *Fetcher) filename(entry models.CatalogEntry) string {
	name := fmt.Sprintf("%s-%s", entry.ExternalID, helpers.SafeFilename(entry.Title))
	format := strings.TrimPrefix(strings.ToLower(entry.Format), ".")
	if format == "" {
		format = "bin"
	}
	return name + "." + format
}

// progressReader emits a single rewritable status line as bytes flow, at
// most a few times per second to keep terminal chatter down.
type progressReader struct {
	reader   io.Reader
	progress io.Writer
	name     string
	total    int64
	read     int64
	lastTick time.Time
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	p.read += int64(n)
	if now := time.Now(); now.Sub(p.lastTick) > 250*time.Millisecond || err == io.EOF {
		p.lastTick = now
		if p.total > 0 {
			fmt.Fprintf(p.progress, "Downloading %s: %s / %s\n", p.name,
				helpers.BytesToSize(uint64(p.read)), helpers.BytesToSize(uint64(p.total)))
		} else {
			fmt.Fprintf(p.progress, "Downloading %s: %s\n", p.name, helpers.BytesToSize(uint64(p.read)))
		}
	}
	return n, err
}
