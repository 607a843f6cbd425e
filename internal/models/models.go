package models

import (
	"strings"
	"time"
)

type (
	Config struct {
		// Catalog connection
		CatalogBaseURL string `toml:"CatalogBaseURL"`
		UserAgent      string `toml:"UserAgent"`

		// Paths
		DownloadDir    string `toml:"DownloadDir"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`

		// Request pacing
		DelayMs        int `toml:"DelayMs"`        // minimum spacing between requests to one origin
		JitterMs       int `toml:"JitterMs"`       // random extra spacing, drawn per request
		QueryPauseSec  int `toml:"QueryPauseSec"`  // pause between batch queries, on top of per-request pacing
		HttpTimeoutSec int `toml:"HttpTimeoutSec"` // timeout applied to every catalog/mirror/file request

		// Fetch behavior
		MaxResults    int  `toml:"MaxResults"`    // entries taken per query
		SizeLimitMB   int  `toml:"SizeLimitMB"`   // declared-size cap; oversize transfers never begin
		MaxAttempts   int  `toml:"MaxAttempts"`   // failed entries are retried up to this many runs
		EnrichEntries bool `toml:"EnrichEntries"` // fetch detail pages for description/ISBN/cover

		// Mirror resolution
		DirectHosts []string `toml:"DirectHosts"` // hosts known to serve file bytes directly

		// Publishing (external collaborator)
		PublishURL      string `toml:"PublishURL"`
		PublishUser     string `toml:"PublishUser"`
		PublishPassword string `toml:"PublishPassword"`

		// Other
		LogHttpRequests bool `toml:"LogHttpRequests"`
	}

	// CatalogEntry is one record extracted from a catalog listing page.
	// ExternalID is the catalog's own identifier and the only valid dedup
	// key; titles are free text and collide.
	CatalogEntry struct {
		ExternalID string `json:"externalId"`
		Title      string `json:"title"`
		Author     string `json:"author"`
		Publisher  string `json:"publisher"`
		Language   string `json:"language"`
		Format     string `json:"format"`
		Year       *int   `json:"year,omitempty"`
		Pages      *int   `json:"pages,omitempty"`
		SizeBytes  *int64 `json:"sizeBytes,omitempty"`

		// Candidate download locations, tried in listed order.
		MirrorURLs []string `json:"mirrorUrls"`

		// Detail-page enrichment. DetailURL comes from the listing's title
		// link; the rest is filled by Enrich.
		DetailURL   string `json:"detailUrl,omitempty"`
		Description string `json:"description,omitempty"`
		ISBN        string `json:"isbn,omitempty"`
		CoverURL    string `json:"coverUrl,omitempty"`
		Enriched    bool   `json:"enriched"`
	}

	// ResolvedDownload is a direct URL the resolver has itself probed and
	// confirmed to serve bytes.
	ResolvedDownload struct {
		SourceMirror string    `json:"sourceMirror"`
		DirectURL    string    `json:"directUrl"`
		ResolvedAt   time.Time `json:"resolvedAt"`
	}

	FetchResult struct {
		LocalPath    string `json:"localPath"`
		BytesWritten int64  `json:"bytesWritten"`
		DeclaredSize *int64 `json:"declaredSize,omitempty"`
		Truncated    bool   `json:"truncated"`
		SHA256       string `json:"sha256,omitempty"`
		BLAKE3       string `json:"blake3,omitempty"`
	}

	// DedupRecord is the persisted row for one ExternalID. Records are
	// created on first sight and never deleted.
	DedupRecord struct {
		Entry        CatalogEntry      `json:"entry"`
		Status       string            `json:"status"`
		LastError    string            `json:"lastError,omitempty"`
		AttemptCount int               `json:"attemptCount"`
		Resolved     *ResolvedDownload `json:"resolved,omitempty"`
		Fetch        *FetchResult      `json:"fetch,omitempty"`
		PublishID    int               `json:"publishId,omitempty"`
		PublishedAt  *time.Time        `json:"publishedAt,omitempty"`
		UpdatedAt    time.Time         `json:"updatedAt"`
	}

	// SearchRequest is one catalog search: free text plus the column the
	// catalog should match it against.
	SearchRequest struct {
		Query  string
		Column string
	}
)

// Record status constants. An entry moves discovered -> resolved -> fetched,
// or to failed from either of the first two.
const (
	StatusDiscovered = "discovered"
	StatusResolved   = "resolved"
	StatusFetched    = "fetched"
	StatusFailed     = "failed"
)

// Search columns accepted by the catalog.
const (
	SearchByTitle     = "title"
	SearchByAuthor    = "author"
	SearchByISBN      = "isbn"
	SearchByPublisher = "publisher"
)

var statusRank = map[string]int{
	StatusDiscovered: 0,
	StatusFailed:     1,
	StatusResolved:   2,
	StatusFetched:    3,
}

// StatusRank orders statuses for the store's no-regression rule. Unknown
// statuses rank lowest so a corrupt value never blocks progress.
func StatusRank(status string) int {
	return statusRank[status]
}

// ValidSearchColumn reports whether column is one the catalog understands.
func ValidSearchColumn(column string) bool {
	switch strings.ToLower(column) {
	case SearchByTitle, SearchByAuthor, SearchByISBN, SearchByPublisher:
		return true
	}
	return false
}
