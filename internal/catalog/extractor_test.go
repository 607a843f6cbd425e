package catalog

import (
	"strings"
	"testing"
)

const listingHeader = `<tr>
<td>ID</td><td>Author(s)</td><td>Title</td><td>Publisher</td><td>Year</td>
<td>Pages</td><td>Language</td><td>Size</td><td>Extension</td><td>Mirrors</td><td></td>
</tr>`

func listingDoc(rows ...string) []byte {
	var b strings.Builder
	b.WriteString(`<html><body><table rules="cols">`)
	b.WriteString(listingHeader)
	for _, r := range rows {
		b.WriteString(r)
	}
	b.WriteString(`</table></body></html>`)
	return []byte(b.String())
}

const goodRow = `<tr>
<td>1234</td>
<td>Alan A. A. Donovan</td>
<td><a href="book/index.php?md5=abc123">The Go Programming Language</a></td>
<td>Addison-Wesley</td>
<td>2015</td>
<td>380</td>
<td>English</td>
<td>1.5 MB</td>
<td>pdf</td>
<td><a href="http://mirror-1.example/main/1234">[1]</a></td>
<td><a href="http://mirror-2.example/get?id=1234">[2]</a></td>
</tr>`

func TestExtractParsesListingRow(t *testing.T) {
	entries, err := Extract(listingDoc(goodRow), "http://libgen.test", 0)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	e := entries[0]
	if e.ExternalID != "1234" {
		t.Errorf("ExternalID = %q, want 1234", e.ExternalID)
	}
	if e.Title != "The Go Programming Language" {
		t.Errorf("Title = %q", e.Title)
	}
	if e.Author != "Alan A. A. Donovan" {
		t.Errorf("Author = %q", e.Author)
	}
	if e.Publisher != "Addison-Wesley" {
		t.Errorf("Publisher = %q", e.Publisher)
	}
	if e.Language != "English" {
		t.Errorf("Language = %q", e.Language)
	}
	if e.Format != "pdf" {
		t.Errorf("Format = %q, want pdf", e.Format)
	}
	if e.Year == nil || *e.Year != 2015 {
		t.Errorf("Year = %v, want 2015", e.Year)
	}
	if e.Pages == nil || *e.Pages != 380 {
		t.Errorf("Pages = %v, want 380", e.Pages)
	}
	if e.SizeBytes == nil || *e.SizeBytes != 1572864 {
		t.Errorf("SizeBytes = %v, want 1572864", e.SizeBytes)
	}
	if e.DetailURL != "http://libgen.test/book/index.php?md5=abc123" {
		t.Errorf("DetailURL = %q", e.DetailURL)
	}
	wantMirrors := []string{
		"http://mirror-1.example/main/1234",
		"http://mirror-2.example/get?id=1234",
	}
	if len(e.MirrorURLs) != len(wantMirrors) {
		t.Fatalf("MirrorURLs = %v, want %v", e.MirrorURLs, wantMirrors)
	}
	for i := range wantMirrors {
		if e.MirrorURLs[i] != wantMirrors[i] {
			t.Errorf("MirrorURLs[%d] = %q, want %q", i, e.MirrorURLs[i], wantMirrors[i])
		}
	}
}

func TestExtractSkipsMalformedRows(t *testing.T) {
	shortRow := `<tr><td>99</td><td>Nobody</td><td>Partial Row</td></tr>`
	entries, err := Extract(listingDoc(shortRow, goodRow), "http://libgen.test", 0)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (malformed row skipped)", len(entries))
	}
	if entries[0].ExternalID != "1234" {
		t.Errorf("surviving entry id = %q, want 1234", entries[0].ExternalID)
	}
}

func TestExtractHonorsMaxResults(t *testing.T) {
	row2 := strings.ReplaceAll(goodRow, "1234", "5678")
	row3 := strings.ReplaceAll(goodRow, "1234", "9012")
	entries, err := Extract(listingDoc(goodRow, row2, row3), "http://libgen.test", 2)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ExternalID != "1234" || entries[1].ExternalID != "5678" {
		t.Errorf("document order not preserved: %q, %q", entries[0].ExternalID, entries[1].ExternalID)
	}
}

func TestExtractDeduplicatesMirrorsPreservingOrder(t *testing.T) {
	dupRow := strings.ReplaceAll(goodRow,
		`<a href="http://mirror-2.example/get?id=1234">[2]</a>`,
		`<a href="http://mirror-1.example/main/1234">[dup]</a>`)
	entries, err := Extract(listingDoc(dupRow), "http://libgen.test", 0)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(entries[0].MirrorURLs) != 1 {
		t.Errorf("MirrorURLs = %v, want single deduplicated mirror", entries[0].MirrorURLs)
	}
}

func TestExtractUnparseableOptionalFields(t *testing.T) {
	fuzzyRow := strings.NewReplacer(
		"<td>2015</td>", "<td>c. 2015?</td>",
		"<td>380</td>", "<td>[380]</td>",
		"<td>1.5 MB</td>", "<td>garbage</td>",
	).Replace(goodRow)
	entries, err := Extract(listingDoc(fuzzyRow), "http://libgen.test", 0)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	e := entries[0]
	if e.Year != nil || e.Pages != nil || e.SizeBytes != nil {
		t.Errorf("unparseable optional fields should be nil, got year=%v pages=%v size=%v", e.Year, e.Pages, e.SizeBytes)
	}
}

func TestExtractNoResultsTable(t *testing.T) {
	_, err := Extract([]byte(`<html><body><p>Nothing here</p></body></html>`), "http://libgen.test", 0)
	if err != ErrNoResults {
		t.Errorf("err = %v, want ErrNoResults", err)
	}
}
