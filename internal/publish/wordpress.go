// Package publish pushes fetched book records to a WordPress site through
// its REST API, one post per record. Authentication uses an application
// password over basic auth.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"go-libgen-download/internal/helpers"
	"go-libgen-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// ErrPublish covers every failure talking to the WordPress API.
var ErrPublish = errors.New("wordpress publish error")

const postsEndpoint = "/wp-json/wp/v2/posts"

// Client publishes posts to one WordPress site.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	HttpClient *http.Client
}

// NewClient creates a publish client for the site at baseURL.
func NewClient(baseURL, username, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Username:   username,
		Password:   password,
		HttpClient: httpClient,
	}
}

type postRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

type postResponse struct {
	ID int `json:"id"`
}

// CreateBookPost publishes one fetched record as a draft post and returns
// the new post's id. The caller guards against double-publishing; this
// method always creates.
func (c *Client) CreateBookPost(ctx context.Context, record models.DedupRecord) (int, error) {
	body, err := json.Marshal(postRequest{
		Title:   postTitle(record.Entry),
		Content: postContent(record),
		Status:  "draft",
	})
	if err != nil {
		return 0, fmt.Errorf("%w: encoding post: %v", ErrPublish, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+postsEndpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	req.SetBasicAuth(c.Username, c.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: status %d: %s", ErrPublish, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var created postResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return 0, fmt.Errorf("%w: decoding response: %v", ErrPublish, err)
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("%w: response carried no post id", ErrPublish)
	}

	log.WithFields(log.Fields{"id": record.Entry.ExternalID, "post": created.ID}).Info("Published record")
	return created.ID, nil
}

// TestConnection verifies the credentials by listing posts. Useful before a
// long publish run.
func (c *Client) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+postsEndpoint+"?per_page=1", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	req.SetBasicAuth(c.Username, c.Password)

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d from %s", ErrPublish, resp.StatusCode, c.BaseURL)
	}
	return nil
}

func postTitle(entry models.CatalogEntry) string {
	if entry.Author != "" {
		return fmt.Sprintf("%s - %s", entry.Author, entry.Title)
	}
	return entry.Title
}

// postContent renders a small HTML block from the record's metadata. Values
// are escaped; titles and descriptions are untrusted catalog text.
func postContent(record models.DedupRecord) string {
	var b strings.Builder
	e := record.Entry

	writeRow := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "<p><strong>%s:</strong> %s</p>\n", label, html.EscapeString(value))
	}

	if e.CoverURL != "" {
		fmt.Fprintf(&b, "<img src=%q alt=%q>\n", e.CoverURL, e.Title)
	}
	writeRow("Author", e.Author)
	writeRow("Publisher", e.Publisher)
	if e.Year != nil {
		writeRow("Year", fmt.Sprintf("%d", *e.Year))
	}
	if e.Pages != nil {
		writeRow("Pages", fmt.Sprintf("%d", *e.Pages))
	}
	writeRow("Language", e.Language)
	writeRow("Format", strings.ToUpper(e.Format))
	writeRow("ISBN", e.ISBN)
	if record.Fetch != nil {
		writeRow("Size", helpers.BytesToSize(uint64(record.Fetch.BytesWritten)))
	}
	if e.Description != "" {
		fmt.Fprintf(&b, "<p>%s</p>\n", html.EscapeString(e.Description))
	}
	return b.String()
}
