package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go-libgen-download/internal/models"
	"go-libgen-download/internal/throttle"
)

const detailPage = `<html><body>
<img src="/covers/12/abc123.jpg">
<table>
<tr><td>Publisher:</td><td>No Starch Press</td></tr>
<tr><td>ISBN:</td><td>978-1593278281</td></tr>
<tr><td>Description</td><td>A hands-on introduction.</td></tr>
</table>
</body></html>`

func TestEnrichFillsDetailFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailPage))
	}))
	defer srv.Close()

	entry := models.CatalogEntry{
		ExternalID: "42",
		Publisher:  "Listing Press",
		DetailURL:  srv.URL + "/book/index.php?md5=abc123",
	}
	got := Enrich(context.Background(), newTestClient(srv), entry)

	if !got.Enriched {
		t.Error("Enriched not set")
	}
	if got.Description != "A hands-on introduction." {
		t.Errorf("Description = %q", got.Description)
	}
	if got.ISBN != "978-1593278281" {
		t.Errorf("ISBN = %q", got.ISBN)
	}
	if got.Publisher != "Listing Press" {
		t.Errorf("Publisher = %q, listing value must win", got.Publisher)
	}
	if got.CoverURL != srv.URL+"/covers/12/abc123.jpg" {
		t.Errorf("CoverURL = %q", got.CoverURL)
	}
}

func TestEnrichFillsPublisherOnlyWhenMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(detailPage))
	}))
	defer srv.Close()

	entry := models.CatalogEntry{ExternalID: "42", DetailURL: srv.URL + "/book"}
	got := Enrich(context.Background(), newTestClient(srv), entry)
	if got.Publisher != "No Starch Press" {
		t.Errorf("Publisher = %q, want detail page value", got.Publisher)
	}
}

func TestEnrichSwallowsFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	entry := models.CatalogEntry{ExternalID: "42", Title: "Kept", DetailURL: srv.URL + "/gone"}
	got := Enrich(context.Background(), newTestClient(srv), entry)
	if !got.Enriched {
		t.Error("Enriched not set on failed fetch")
	}
	if got.Title != "Kept" || got.Description != "" {
		t.Errorf("entry mutated on failed fetch: %+v", got)
	}
}

func TestEnrichNoDetailURL(t *testing.T) {
	c := NewClient("http://unused.test", nil, throttle.New(0, 0))
	got := Enrich(context.Background(), c, models.CatalogEntry{ExternalID: "7"})
	if !got.Enriched {
		t.Error("Enriched not set")
	}
}
