package library

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/config"
	"github.com/WhiteHades/mereader/internal/epub"
	"github.com/WhiteHades/mereader/internal/epub/epubtest"
	"github.com/WhiteHades/mereader/internal/events"
	"github.com/WhiteHades/mereader/internal/store"
)

type fakeIndexer struct {
	mu       sync.Mutex
	queued   []string
	forgotten []string
}

func (f *fakeIndexer) Enqueue(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, id)
	return nil
}

func (f *fakeIndexer) Forget(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
	return nil
}

func newLibrary(t *testing.T) (*Library, *fakeIndexer, string) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open(filepath.Join(root, "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	paths := config.StorageConfig{
		UploadDir:  filepath.Join(root, "uploads"),
		ContentDir: filepath.Join(root, "contents"),
		CoverDir:   filepath.Join(root, "covers"),
	}
	for _, d := range []string{paths.UploadDir, paths.ContentDir, paths.CoverDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	ix := &fakeIndexer{}
	return New(Options{Store: st, Paths: paths, LocationChunkSize: 50, Indexer: ix}), ix, root
}

func TestImportSample(t *testing.T) {
	l, ix, root := newLibrary(t)
	sub := l.events.Subscribe()
	p := epubtest.WriteSample(t, l.paths.UploadDir, "voyage.epub")

	b, err := l.Import(context.Background(), p)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if b.Title != "The Test Voyage" || b.Author != "Ada Writer" || *b.PublishedYear != 2019 || b.TotalChapters != 2 {
		t.Fatalf("book = %+v", b)
	}
	if len(ix.queued) != 1 || ix.queued[0] != b.ID {
		t.Fatalf("queued = %v", ix.queued)
	}
	if e := <-sub; e.Type != events.BookImported || e.BookID != b.ID {
		t.Fatalf("event = %+v", e)
	}

	d, err := l.Detail(context.Background(), b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Chapters) != 2 || d.Chapters[0].Title != "The Harbor" || d.Chapters[1].Title != "Open Water" {
		t.Fatalf("chapters = %+v", d.Chapters)
	}
	if d.Chapters[0].StartLocation != 1 || d.Chapters[1].StartLocation != d.Chapters[0].EndLocation+1 {
		t.Fatalf("locations not contiguous: %+v", d.Chapters)
	}
	if d.Chapters[1].EndLocation != b.TotalLocations || b.TotalLocations < 3 {
		t.Fatalf("total locations = %d, chapters %+v", b.TotalLocations, d.Chapters)
	}
	if d.CurrentLocation != 1 || d.CompletionPercentage != 0 {
		t.Fatalf("initial progress = %d, %v", d.CurrentLocation, d.CompletionPercentage)
	}

	for _, name := range []string{"chapter_1.html", "chapter_2.html", "index.html", "metadata.json", "cover.png", "fig_1.png"} {
		if _, err := os.Stat(filepath.Join(b.ContentPath, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if b.CoverPath != filepath.Join(root, "covers", b.ID+"_cover.png") {
		t.Fatalf("cover path = %q", b.CoverPath)
	}
	ch1, _ := os.ReadFile(filepath.Join(b.ContentPath, "chapter_1.html"))
	if !strings.Contains(string(ch1), `data-epub-src="../images/cover.png"`) || !strings.Contains(string(ch1), `src="cover.png"`) {
		t.Fatalf("chapter image not rewritten:\n%s", ch1)
	}
}

func TestImportRejectsNonEPUB(t *testing.T) {
	l, ix, _ := newLibrary(t)
	p := filepath.Join(l.paths.UploadDir, "notes.txt")
	if err := os.WriteFile(p, []byte("just some notes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Import(context.Background(), p); !apperr.Is(err, apperr.KindInvalid) {
		t.Fatalf("err = %v", err)
	}

	broken := filepath.Join(l.paths.UploadDir, "broken.epub")
	if err := os.WriteFile(broken, []byte("PK not really"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Import(context.Background(), broken); !apperr.Is(err, apperr.KindInvalid) {
		t.Fatalf("broken err = %v", err)
	}
	if len(ix.queued) != 0 {
		t.Fatalf("failed import queued: %v", ix.queued)
	}
}

func TestImportFailureRemovesContent(t *testing.T) {
	l, _, _ := newLibrary(t)
	p := epubtest.WriteSample(t, l.paths.UploadDir, "voyage.epub")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Import(ctx, p); err == nil {
		t.Fatalf("expected error on cancelled import")
	}
	for _, dir := range []string{l.paths.ContentDir, l.paths.CoverDir} {
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Fatalf("%s not cleaned up: %v", dir, entries)
		}
	}
	books, _ := l.List(context.Background(), 0, 0, "")
	if len(books) != 0 {
		t.Fatalf("book stored despite failure")
	}
}

func TestSpineFallback(t *testing.T) {
	files := epubtest.Files()
	opf := strings.NewReplacer(
		`<item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>`, "",
		`<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>`, "",
		`<itemref idref="nav"/>`, "",
		` toc="ncx"`, "",
	).Replace(epubtest.OPF)
	files["OEBPS/content.opf"] = []byte(opf)
	delete(files, "OEBPS/nav.xhtml")
	delete(files, "OEBPS/toc.ncx")
	data := epubtest.Build(t, files)

	eb, err := epub.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	drafts, err := chapterDrafts(eb)
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 2 {
		t.Fatalf("drafts = %+v", drafts)
	}
	if drafts[0].id != "sp1" || drafts[0].title != "The Harbor" || drafts[1].id != "sp2" || drafts[1].order != 2 {
		t.Fatalf("drafts = %+v", drafts)
	}
}

func TestTOCDraftsSkipRepeatedDocument(t *testing.T) {
	data := epubtest.Sample(t)
	eb, err := epub.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	drafts, err := tocDrafts(eb)
	if err != nil {
		t.Fatal(err)
	}
	if len(drafts) != 2 || drafts[0].id != "ch1" || drafts[1].id != "ch2" || drafts[1].order != 2 {
		t.Fatalf("drafts = %+v", drafts)
	}
}

func TestSaveUpload(t *testing.T) {
	l, _, _ := newLibrary(t)
	want := []string{"My_Book.epub", "My_Book_1.epub", "My_Book_2.epub"}
	for i, name := range []string{"My Book.pdf", "My Book.epub", "My_Book_1.epub"} {
		p, err := l.SaveUpload(strings.NewReader("data"), name)
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Base(p) != want[i] {
			t.Errorf("SaveUpload(%q) = %s, want %s", name, filepath.Base(p), want[i])
		}
	}
}

func TestDelete(t *testing.T) {
	l, ix, _ := newLibrary(t)
	p := epubtest.WriteSample(t, l.paths.UploadDir, "voyage.epub")
	b, err := l.Import(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Delete(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{b.FilePath, b.CoverPath, b.ContentPath} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("%s survived delete", path)
		}
	}
	if len(ix.forgotten) != 1 || ix.forgotten[0] != b.ID {
		t.Fatalf("forgotten = %v", ix.forgotten)
	}
	if _, err := l.Detail(context.Background(), b.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("detail after delete: %v", err)
	}
	if err := l.Delete(context.Background(), b.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestListSearch(t *testing.T) {
	l, _, _ := newLibrary(t)
	ctx := context.Background()
	for _, b := range []*store.Book{
		{Title: "The Test Voyage", Author: "Ada Writer"},
		{Title: "Moby Dick", Author: "Herman Melville"},
	} {
		if err := l.store.CreateBook(ctx, b, nil); err != nil {
			t.Fatal(err)
		}
	}
	cases := []struct {
		query string
		want  []string
	}{
		{"", []string{"The Test Voyage", "Moby Dick"}},
		{"voyge", []string{"The Test Voyage"}},
		{"melvile", []string{"Moby Dick"}},
		{"moby ada", nil},
		{"dick", []string{"Moby Dick"}},
	}
	for _, c := range cases {
		got, err := l.List(ctx, 0, 0, c.query)
		if err != nil {
			t.Fatal(err)
		}
		var titles []string
		for _, b := range got {
			titles = append(titles, b.Title)
		}
		if strings.Join(titles, "|") != strings.Join(c.want, "|") {
			t.Errorf("List(%q) = %v, want %v", c.query, titles, c.want)
		}
	}
	if got, _ := l.List(ctx, 5, 0, "voyage"); len(got) != 0 {
		t.Fatalf("skip past end = %v", got)
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		query string
		ok    bool
	}{
		{"harbor", true},
		{"harbr", true},
		{"HARBOR press", true},
		{"hbr", false},
		{"ship", false},
	}
	for _, c := range cases {
		if got := Matches(c.query, "Harbor Press"); got != c.ok {
			t.Errorf("Matches(%q) = %v", c.query, got)
		}
	}
}
