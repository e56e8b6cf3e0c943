package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/WhiteHades/mereader/internal/config"
	"github.com/WhiteHades/mereader/internal/epub/epubtest"
	"github.com/WhiteHades/mereader/internal/events"
	"github.com/WhiteHades/mereader/internal/library"
	"github.com/WhiteHades/mereader/internal/monitor"
	"github.com/WhiteHades/mereader/internal/store"
)

type busy bool

func (b busy) Busy() bool { return bool(b) }

type recorder struct {
	mu    sync.Mutex
	names []string
	quit  chan struct{}
}

func (r *recorder) emit(_ context.Context, name string, _ ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
}

func (r *recorder) emitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newApp(t *testing.T, work Background) (*App, *recorder) {
	t.Helper()
	root := t.TempDir()
	st, err := store.Open(filepath.Join(root, "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	hub := events.NewHub()
	lib := library.New(library.Options{
		Store: st,
		Paths: config.StorageConfig{
			UploadDir:  filepath.Join(root, "uploads"),
			ContentDir: filepath.Join(root, "contents"),
			CoverDir:   filepath.Join(root, "covers"),
		},
		LocationChunkSize: 100,
		Events:            hub,
	})
	rec := &recorder{quit: make(chan struct{})}
	a := New(lib, work, nil, hub, nil)
	a.emit = rec.emit
	a.quit = func(context.Context) { close(rec.quit) }
	return a, rec
}

func TestImportAndForwardEvents(t *testing.T) {
	a, rec := newApp(t, busy(false))
	a.Startup(context.Background())

	b, err := a.ImportBook(epubtest.WriteSample(t, t.TempDir(), "voyage.epub"))
	if err != nil {
		t.Fatal(err)
	}
	books, err := a.ListBooks("voyage")
	if err != nil || len(books) != 1 || books[0].ID != b.ID {
		t.Fatalf("ListBooks = %+v, %v", books, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.emitted()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("book_imported not forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := rec.emitted()[0]; got != EventPrefix+string(events.BookImported) {
		t.Fatalf("forwarded %q", got)
	}
	a.Shutdown(context.Background())
	a.Shutdown(context.Background())
}

func TestBeforeCloseIdle(t *testing.T) {
	a, rec := newApp(t, busy(false))
	if a.BeforeClose(context.Background()) {
		t.Fatal("idle app prevented close")
	}
	if len(rec.emitted()) != 0 {
		t.Fatalf("emitted %v", rec.emitted())
	}
}

func TestBeforeCloseWaitsForWork(t *testing.T) {
	a, rec := newApp(t, busy(true))
	stopped := make(chan struct{})
	a.Cleanup = func() { close(stopped) }

	if !a.BeforeClose(context.Background()) {
		t.Fatal("busy app allowed close")
	}
	if got := rec.emitted(); len(got) != 1 || got[0] != "shutdown-initiated" {
		t.Fatalf("emitted %v", got)
	}
	select {
	case <-rec.quit:
	case <-time.After(3 * time.Second):
		t.Fatal("quit not called")
	}
	select {
	case <-stopped:
	default:
		t.Fatal("quit before cleanup")
	}
}

func TestQuitAfterCleanupIsNotPrevented(t *testing.T) {
	a, rec := newApp(t, busy(true))
	a.Cleanup = func() {}
	// Wails asks BeforeClose again from inside Quit.
	again := make(chan bool, 1)
	a.quit = func(ctx context.Context) { again <- a.BeforeClose(ctx) }

	if !a.BeforeClose(context.Background()) {
		t.Fatal("busy app allowed close")
	}
	if !a.BeforeClose(context.Background()) {
		t.Fatal("second close request during shutdown allowed close")
	}
	select {
	case prevent := <-again:
		if prevent {
			t.Fatal("close prevented after cleanup")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("quit not called")
	}
	if got := rec.emitted(); len(got) != 1 {
		t.Fatalf("emitted %v", got)
	}
}

func TestPickBookFileFilter(t *testing.T) {
	a, _ := newApp(t, nil)
	var pattern string
	a.openFile = func(_ context.Context, opts runtime.OpenDialogOptions) (string, error) {
		pattern = opts.Filters[0].Pattern
		return "/books/x.epub", nil
	}
	p, err := a.PickBookFile()
	if err != nil || p != "/books/x.epub" || pattern != "*.epub" {
		t.Fatalf("PickBookFile = %q, %v, pattern %q", p, err, pattern)
	}
	if st := a.OllamaStatus(); st != (monitor.Status{}) {
		t.Fatalf("status without monitor = %+v", st)
	}
}
