package epub

import (
	"bytes"
	"testing"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/epub/epubtest"
)

func openSample(t *testing.T, files map[string][]byte) *Book {
	t.Helper()
	data := epubtest.Build(t, files)
	b, err := NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return b
}

func TestMetadata(t *testing.T) {
	b := openSample(t, epubtest.Files())
	md := b.Metadata
	if md.Title != "The Test Voyage" || md.Author != "Ada Writer" {
		t.Fatalf("metadata = %+v", md)
	}
	if md.Language != "en" || md.Publisher != "Harbor Press" || md.ISBN != "978-0-00-000000-1" {
		t.Fatalf("metadata = %+v", md)
	}
	if md.PublishedYear == nil || *md.PublishedYear != 2019 {
		t.Fatalf("PublishedYear = %v", md.PublishedYear)
	}
}

func TestMetadataDefaults(t *testing.T) {
	files := epubtest.Files()
	files["OEBPS/content.opf"] = []byte(`<package xmlns="http://www.idpf.org/2007/opf"><metadata/><manifest/><spine/></package>`)
	b := openSample(t, files)
	if b.Metadata.Title != "Unknown Title" || b.Metadata.Author != "Unknown Author" {
		t.Fatalf("defaults = %+v", b.Metadata)
	}
	if b.Cover() != nil {
		t.Fatalf("no images, expected no cover")
	}
}

func TestParseYear(t *testing.T) {
	cases := map[string]int{"2019-04-01": 2019, "1999/12/31": 1999, "20010101": 2001, "1850": 1850}
	for in, want := range cases {
		got := ParseYear(in)
		if got == nil || *got != want {
			t.Errorf("ParseYear(%q) = %v, want %d", in, got, want)
		}
	}
	if ParseYear("unknown") != nil {
		t.Errorf("expected nil for unparsable date")
	}
}

func TestTOCPrefersNav(t *testing.T) {
	b := openSample(t, epubtest.Files())
	if len(b.TOC) != 2 {
		t.Fatalf("TOC = %+v", b.TOC)
	}
	if b.TOC[0].Title != "The Harbor" || b.TOC[0].Href != "text/chapter1.xhtml" {
		t.Fatalf("first entry = %+v", b.TOC[0])
	}
	if len(b.TOC[1].Children) != 1 || b.TOC[1].Children[0].Title != "The Storm" {
		t.Fatalf("nested entries = %+v", b.TOC[1])
	}
	if it := b.ItemByHref(b.TOC[1].Href); it == nil || it.ID != "ch2" {
		t.Fatalf("ItemByHref(%q) = %v", b.TOC[1].Href, it)
	}
}

func TestTOCFallsBackToNCX(t *testing.T) {
	files := epubtest.Files()
	delete(files, "OEBPS/nav.xhtml")
	b := openSample(t, files)
	if len(b.TOC) != 2 || b.TOC[1].Title != "Open Water" {
		t.Fatalf("TOC = %+v", b.TOC)
	}
}

func TestCoverAndImages(t *testing.T) {
	b := openSample(t, epubtest.Files())
	c := b.Cover()
	if c == nil || c.ID != "cover-img" {
		t.Fatalf("Cover = %v", c)
	}
	data, err := c.Content()
	if err != nil || !bytes.Equal(data, epubtest.PNG) {
		t.Fatalf("cover content err=%v len=%d", err, len(data))
	}
	if len(b.Images()) != 2 {
		t.Fatalf("Images = %d", len(b.Images()))
	}
	if it := b.ItemByHref("images/fig%201.png"); it == nil || it.ID != "fig1" {
		t.Fatalf("escaped href not resolved")
	}
}

func TestDocumentsSkipNav(t *testing.T) {
	b := openSample(t, epubtest.Files())
	docs := b.Documents()
	if _, ok := docs[0]; ok {
		t.Fatalf("nav document included in documents")
	}
	if docs[1].ID != "ch1" || docs[2].ID != "ch2" {
		t.Fatalf("documents = %v", docs)
	}
	if b.SpineIndex("ch2") != 2 || b.SpineIndex("missing") != -1 {
		t.Fatalf("SpineIndex mismatch")
	}
}

func TestMalformedContainer(t *testing.T) {
	files := epubtest.Files()
	delete(files, "META-INF/container.xml")
	data := epubtest.Build(t, files)
	_, err := NewReader(bytes.NewReader(data), int64(len(data)))
	if !apperr.Is(err, apperr.KindInvalid) {
		t.Fatalf("err = %v, want invalid", err)
	}

	_, err = NewReader(bytes.NewReader([]byte("not a zip")), 9)
	if !apperr.Is(err, apperr.KindInvalid) {
		t.Fatalf("err = %v, want invalid", err)
	}
}
