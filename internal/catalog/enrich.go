package catalog

import (
	"bytes"
	"context"
	"strings"

	"go-libgen-download/internal/models"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

// Enrich fetches the entry's detail page (one extra throttled request) and
// fills description, ISBN, and cover URL when present. The listing's
// publisher is overwritten only if it was empty. Absence of any enrichable
// field is not an error; Enrich always returns a usable entry, unchanged at
// worst. Network failure on the detail page is logged and swallowed for the
// same reason: enrichment is best-effort.
func Enrich(ctx context.Context, client *Client, entry models.CatalogEntry) models.CatalogEntry {
	entry.Enriched = true
	if entry.DetailURL == "" {
		return entry
	}

	doc, err := client.GetPage(ctx, entry.DetailURL)
	if err != nil {
		log.WithError(err).Warnf("Detail page fetch failed for %s, keeping listing metadata", entry.ExternalID)
		return entry
	}

	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		log.WithError(err).Warnf("Detail page parse failed for %s", entry.ExternalID)
		return entry
	}

	if desc := labeledField(root, "description"); desc != "" {
		entry.Description = desc
	}
	if isbn := labeledField(root, "isbn"); isbn != "" {
		entry.ISBN = isbn
	}
	if publisher := labeledField(root, "publisher"); publisher != "" && entry.Publisher == "" {
		entry.Publisher = publisher
	}

	// Cover images sit under a covers/ path on the catalog host.
	root.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, exists := img.Attr("src")
		if !exists || !strings.Contains(src, "covers") {
			return true
		}
		entry.CoverURL = absoluteURL(nil, src)
		if entry.DetailURL != "" {
			if base, err := urlBase(entry.DetailURL); err == nil {
				entry.CoverURL = absoluteURL(base, src)
			}
		}
		return false
	})

	return entry
}

// labeledField finds a "Label: value" pair laid out as adjacent table cells,
// matching the label case-insensitively with or without a trailing colon.
func labeledField(root *goquery.Document, label string) string {
	var value string
	root.Find("td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(cell.Text()))
		if text != label && text != label+":" {
			return true
		}
		value = strings.TrimSpace(cell.Next().Text())
		return false
	})
	return value
}
