// Package catalog talks to the book catalog site: issuing search requests,
// fetching detail and mirror pages, and extracting structured metadata from
// the semi-structured HTML it returns.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go-libgen-download/internal/models"
	"go-libgen-download/internal/throttle"

	log "github.com/sirupsen/logrus"
)

// Custom error types.
var (
	// ErrNetwork covers transport failures, timeouts, and non-success
	// statuses. It is retryable by caller policy; the client itself makes
	// exactly one attempt per call.
	ErrNetwork = errors.New("catalog network error")

	// ErrNoResults is returned when a listing document carries no results
	// table at all.
	ErrNoResults = errors.New("no search results table found")
)

const defaultUserAgent = "go-libgen-download/1.0"

// Client issues throttled HTTP requests against the catalog origin.
type Client struct {
	BaseURL    string
	UserAgent  string
	HttpClient *http.Client
	Throttle   *throttle.Throttle
}

// NewClient creates a catalog client. A nil httpClient gets a default with a
// 60s timeout; every request the client makes carries a fixed timeout and
// surfaces ErrNetwork on expiry rather than hanging.
func NewClient(baseURL string, httpClient *http.Client, th *throttle.Throttle) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		BaseURL:    baseURL,
		UserAgent:  defaultUserAgent,
		HttpClient: httpClient,
		Throttle:   th,
	}
}

// Origin returns the throttle key for a raw URL: its host, falling back to
// the full string for unparseable input so pacing still applies.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// Search issues one search request against the catalog and returns the raw
// listing document. req.Column selects the field filter (title, author,
// isbn, publisher); an empty column defaults to title. Exactly one attempt;
// the caller owns retry policy.
func (c *Client) Search(ctx context.Context, req models.SearchRequest) ([]byte, error) {
	column := req.Column
	if column == "" {
		column = models.SearchByTitle
	}

	values := url.Values{}
	values.Set("req", req.Query)
	values.Set("column", column)
	values.Set("lg_topic", "libgen")
	values.Set("open", "0")
	values.Set("view", "simple")
	values.Set("res", "25")
	values.Set("phrase", "1")

	searchURL := fmt.Sprintf("%s/search.php?%s", c.BaseURL, values.Encode())
	log.WithField("query", req.Query).Debugf("Catalog search: %s", searchURL)
	return c.GetPage(ctx, searchURL)
}

// GetPage fetches an arbitrary catalog, detail, or mirror page. It waits on
// the throttle for the page's origin before touching the network.
func (c *Client) GetPage(ctx context.Context, pageURL string) ([]byte, error) {
	if c.Throttle != nil {
		c.Throttle.Wait(Origin(pageURL))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request for %s: %v", ErrNetwork, pageURL, err)
	}
	httpReq.Header.Set("User-Agent", c.userAgent())

	resp, err := c.HttpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d from %s", ErrNetwork, resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body from %s: %v", ErrNetwork, pageURL, err)
	}
	return body, nil
}

func (c *Client) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return defaultUserAgent
}
