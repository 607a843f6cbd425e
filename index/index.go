package index

import (
	"log"
	"os"
	"time"

	"go-libgen-download/internal/models"

	"github.com/blevesearch/bleve/v2"
)

const defaultIndexPath = "libgen.bleve"

// Item is the indexed view of a fetched book record. All fields are indexed
// and searchable by their lowercase JSON tag names (e.g., query
// '+author:donovan' or '+format:epub').
type Item struct {
	ID          string `json:"id"` // catalog external id
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	Language    string `json:"language,omitempty"`
	Format      string `json:"format,omitempty"`
	Year        int    `json:"year,omitempty"`
	ISBN        string `json:"isbn,omitempty"`
	Description string `json:"description,omitempty"`
	FilePath    string `json:"filePath,omitempty"` // where the file landed on disk
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
	SHA256      string `json:"sha256,omitempty"`

	FetchedAt time.Time `json:"fetchedAt,omitempty"`

	// Torrent information (populated by the 'torrent' command)
	TorrentPath string `json:"torrentPath,omitempty"`
	MagnetLink  string `json:"magnetLink,omitempty"`
}

// FromRecord maps a fetched dedup record onto an indexable Item.
func FromRecord(record models.DedupRecord) Item {
	item := Item{
		ID:          record.Entry.ExternalID,
		Title:       record.Entry.Title,
		Author:      record.Entry.Author,
		Publisher:   record.Entry.Publisher,
		Language:    record.Entry.Language,
		Format:      record.Entry.Format,
		ISBN:        record.Entry.ISBN,
		Description: record.Entry.Description,
		FetchedAt:   record.UpdatedAt,
	}
	if record.Entry.Year != nil {
		item.Year = *record.Entry.Year
	}
	if record.Fetch != nil {
		item.FilePath = record.Fetch.LocalPath
		item.SizeBytes = record.Fetch.BytesWritten
		item.SHA256 = record.Fetch.SHA256
	}
	return item
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Printf("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		index, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return index, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// SearchIndex performs a query-string search against the index.
func SearchIndex(index bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"}
	return index.Search(searchRequest)
}

// DeleteIndex removes the index directory. Used by 'index rebuild'.
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	return os.RemoveAll(indexPath)
}
