// Package mirror turns a catalog entry's ordered mirror list into a single
// confirmed direct download URL. Mirrors are tried strictly in listed order
// and each candidate is probed before being handed to the fetcher, so a dead
// mirror costs one cheap request instead of a failed download.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-libgen-download/internal/catalog"
	"go-libgen-download/internal/models"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"
)

// ErrNoMirrorAvailable is returned when every mirror for an entry failed to
// yield a confirmed direct URL.
var ErrNoMirrorAvailable = errors.New("no mirror available")

// Resolver resolves mirror pages to direct file URLs. DirectHosts is the
// allow-list of hosts whose links already point at the file itself and need
// no page scrape, only a probe.
type Resolver struct {
	Client      *catalog.Client
	DirectHosts []string
}

// NewResolver creates a Resolver sharing the catalog client's HTTP client
// and throttle.
func NewResolver(client *catalog.Client, directHosts []string) *Resolver {
	return &Resolver{Client: client, DirectHosts: directHosts}
}

// Resolve walks entry.MirrorURLs in order. For each mirror it derives a
// candidate direct URL, either the mirror link itself when its host is on
// the direct allow-list, or the download link scraped from the mirror page,
// and probes it. The first candidate that answers the probe wins. Failures
// along the way are logged and the next mirror is tried; only when the whole
// list is exhausted does Resolve return ErrNoMirrorAvailable.
func (r *Resolver) Resolve(ctx context.Context, entry models.CatalogEntry) (*models.ResolvedDownload, error) {
	if len(entry.MirrorURLs) == 0 {
		return nil, fmt.Errorf("%w: entry %s lists no mirrors", ErrNoMirrorAvailable, entry.ExternalID)
	}

	for _, mirrorURL := range entry.MirrorURLs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		directURL, err := r.directURL(ctx, mirrorURL)
		if err != nil {
			log.WithError(err).Warnf("Mirror %s yielded no download link", mirrorURL)
			continue
		}

		if err := r.probe(ctx, directURL); err != nil {
			log.WithError(err).Warnf("Probe failed for %s", directURL)
			continue
		}

		return &models.ResolvedDownload{
			SourceMirror: mirrorURL,
			DirectURL:    directURL,
			ResolvedAt:   time.Now(),
		}, nil
	}

	return nil, fmt.Errorf("%w: all %d mirrors exhausted for entry %s",
		ErrNoMirrorAvailable, len(entry.MirrorURLs), entry.ExternalID)
}

// directURL maps a mirror link to a candidate direct URL, scraping the
// mirror page when the link does not already point at a direct host.
func (r *Resolver) directURL(ctx context.Context, mirrorURL string) (string, error) {
	if r.isDirectHost(mirrorURL) {
		return mirrorURL, nil
	}

	page, err := r.Client.GetPage(ctx, mirrorURL)
	if err != nil {
		return "", err
	}
	return r.extractDownloadLink(page, mirrorURL)
}

func (r *Resolver) isDirectHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, direct := range r.DirectHosts {
		direct = strings.ToLower(direct)
		if host == direct || strings.HasSuffix(host, "."+direct) {
			return true
		}
	}
	return false
}

// extractDownloadLink scrapes the mirror page for the download anchor. A
// link onto one of the direct hosts is preferred; failing that, the page's
// conventional "GET" link is taken.
func (r *Resolver) extractDownloadLink(page []byte, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(page)))
	if err != nil {
		return "", fmt.Errorf("parsing mirror page %s: %w", pageURL, err)
	}
	base, _ := url.Parse(pageURL)

	var directLink, getLink string
	doc.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, exists := link.Attr("href")
		if !exists || href == "" {
			return true
		}
		abs := resolveRef(base, href)
		if r.isDirectHost(abs) {
			directLink = abs
			return false
		}
		if getLink == "" && strings.EqualFold(strings.TrimSpace(link.Text()), "get") {
			getLink = abs
		}
		return true
	})

	if directLink != "" {
		return directLink, nil
	}
	if getLink != "" {
		return getLink, nil
	}
	return "", fmt.Errorf("no download link on mirror page %s", pageURL)
}

// probe confirms a candidate URL actually serves the file, via HEAD first
// and a one-byte ranged GET for servers that reject HEAD. Both go through
// the shared throttle.
func (r *Resolver) probe(ctx context.Context, directURL string) error {
	resp, err := r.doProbe(ctx, http.MethodHead, directURL, false)
	if err == nil && probeOK(resp.StatusCode) {
		resp.Body.Close()
		return nil
	}
	if resp != nil {
		resp.Body.Close()
	}

	resp, err = r.doProbe(ctx, http.MethodGet, directURL, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if !probeOK(resp.StatusCode) {
		return fmt.Errorf("probe of %s got status %d", directURL, resp.StatusCode)
	}
	return nil
}

func (r *Resolver) doProbe(ctx context.Context, method, directURL string, ranged bool) (*http.Response, error) {
	if r.Client.Throttle != nil {
		r.Client.Throttle.Wait(catalog.Origin(directURL))
	}

	req, err := http.NewRequestWithContext(ctx, method, directURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", r.Client.UserAgent)
	if ranged {
		req.Header.Set("Range", "bytes=0-0")
	}
	return r.Client.HttpClient.Do(req)
}

func probeOK(status int) bool {
	return (status >= 200 && status <= 299) || status == http.StatusPartialContent
}

func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
