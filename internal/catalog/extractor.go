package catalog

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"go-libgen-download/internal/helpers"
	"go-libgen-download/internal/models"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

// The listing table has a fixed column order: id, author, title, publisher,
// year, pages, language, size, format, then one or more mirror columns.
const (
	colID = iota
	colAuthor
	colTitle
	colPublisher
	colYear
	colPages
	colLanguage
	colSize
	colFormat
	colMirrors

	// minListingColumns is the smallest cell count a row can have and still
	// be a complete entry (through at least one mirror column).
	minListingColumns = 10
)

// Extract parses a raw listing document into at most maxResults catalog
// entries, preserving document order. Rows with fewer than the minimum
// column count are skipped with a warning, not treated as errors: the
// catalog's markup drifts and a partial row is simply absent from the
// output. A document with no results table at all yields ErrNoResults.
func Extract(doc []byte, baseURL string, maxResults int) ([]models.CatalogEntry, error) {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return nil, ErrNoResults
	}

	table := root.Find(`table[rules="cols"]`).First()
	if table.Length() == 0 {
		return nil, ErrNoResults
	}

	base, _ := url.Parse(baseURL)

	var entries []models.CatalogEntry
	table.Find("tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		if i == 0 {
			return true // header row
		}
		if maxResults > 0 && len(entries) >= maxResults {
			return false
		}

		cells := row.Find("td")
		if cells.Length() < minListingColumns {
			log.Warnf("Skipping malformed listing row %d with %d columns", i, cells.Length())
			return true
		}

		entry, ok := extractEntry(cells, base)
		if !ok {
			log.Warnf("Skipping listing row %d with empty external id", i)
			return true
		}
		entries = append(entries, entry)
		return true
	})

	return entries, nil
}

func extractEntry(cells *goquery.Selection, base *url.URL) (models.CatalogEntry, bool) {
	cellText := func(idx int) string {
		return strings.TrimSpace(cells.Eq(idx).Text())
	}

	entry := models.CatalogEntry{
		ExternalID: cellText(colID),
		Author:     cellText(colAuthor),
		Publisher:  cellText(colPublisher),
		Language:   cellText(colLanguage),
		Format:     strings.ToLower(cellText(colFormat)),
	}
	if entry.ExternalID == "" {
		return models.CatalogEntry{}, false
	}

	// The title cell may wrap the text in a link pointing at the detail page.
	titleCell := cells.Eq(colTitle)
	titleLink := titleCell.Find("a").First()
	if titleLink.Length() > 0 {
		entry.Title = strings.TrimSpace(titleLink.Text())
		if href, exists := titleLink.Attr("href"); exists {
			entry.DetailURL = absoluteURL(base, href)
		}
	} else {
		entry.Title = strings.TrimSpace(titleCell.Text())
	}

	if year, err := strconv.Atoi(cellText(colYear)); err == nil {
		entry.Year = &year
	}
	if pages, err := strconv.Atoi(cellText(colPages)); err == nil {
		entry.Pages = &pages
	}
	if size, ok := helpers.ParseSize(cellText(colSize)); ok {
		entry.SizeBytes = &size
	}

	// Every cell past the format column holds mirror links. Order matters:
	// mirrors are tried in listed order. Duplicates dropped, order kept.
	seen := make(map[string]struct{})
	for idx := colMirrors; idx < cells.Length(); idx++ {
		cells.Eq(idx).Find("a").Each(func(_ int, link *goquery.Selection) {
			href, exists := link.Attr("href")
			if !exists || href == "" {
				return
			}
			abs := absoluteURL(base, href)
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			entry.MirrorURLs = append(entry.MirrorURLs, abs)
		})
	}

	return entry, true
}

func urlBase(raw string) (*url.URL, error) {
	return url.Parse(raw)
}

// absoluteURL resolves href against base; unparseable hrefs pass through
// unchanged.
func absoluteURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
