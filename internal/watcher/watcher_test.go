package watcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/WhiteHades/mereader/internal/store"
)

type fakeImporter struct {
	dir      string
	imported chan string
	fail     bool
}

func (f *fakeImporter) SaveUpload(r io.Reader, name string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	p := filepath.Join(f.dir, name)
	return p, os.WriteFile(p, data, 0o644)
}

func (f *fakeImporter) Import(_ context.Context, p string) (*store.Book, error) {
	f.imported <- filepath.Base(p)
	if f.fail {
		return nil, errors.New("bad book")
	}
	return &store.Book{ID: "b1", Title: "Dropped"}, nil
}

func start(t *testing.T, imp *fakeImporter, root string) *Service {
	t.Helper()
	s, err := New(root, imp, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Settle = 20 * time.Millisecond
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s
}

func waitImport(t *testing.T, imp *fakeImporter) string {
	t.Helper()
	select {
	case name := <-imp.imported:
		return name
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for import")
	}
	return ""
}

func TestWatcherImportsDroppedEPUB(t *testing.T) {
	root := t.TempDir()
	imp := &fakeImporter{dir: t.TempDir(), imported: make(chan string, 4)}
	start(t, imp, root)

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	drop := filepath.Join(root, "drop.epub")
	if err := os.WriteFile(drop, []byte("epub bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if name := waitImport(t, imp); name != "drop.epub" {
		t.Fatalf("imported %q", name)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(drop); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dropped file not removed after import")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(filepath.Join(root, "notes.txt")); err != nil {
		t.Fatalf("non-EPUB file touched: %v", err)
	}
	select {
	case name := <-imp.imported:
		t.Fatalf("unexpected import of %q", name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcherImportsExistingFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "waiting.epub"), []byte("epub"), 0o644); err != nil {
		t.Fatal(err)
	}
	imp := &fakeImporter{dir: t.TempDir(), imported: make(chan string, 4)}
	start(t, imp, root)
	if name := waitImport(t, imp); name != "waiting.epub" {
		t.Fatalf("imported %q", name)
	}
}

func TestWatcherKeepsFailedFile(t *testing.T) {
	root := t.TempDir()
	imp := &fakeImporter{dir: t.TempDir(), imported: make(chan string, 4), fail: true}
	start(t, imp, root)
	drop := filepath.Join(root, "broken.epub")
	if err := os.WriteFile(drop, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitImport(t, imp)
	time.Sleep(50 * time.Millisecond)
	if _, err := os.Stat(drop); err != nil {
		t.Fatalf("failed import removed the original: %v", err)
	}
	if _, err := os.Stat(filepath.Join(imp.dir, "broken.epub")); !os.IsNotExist(err) {
		t.Fatalf("failed upload copy not cleaned up")
	}
}

// slowImporter blocks in Import until its context is cancelled.
type slowImporter struct {
	fakeImporter
	started  chan struct{}
	finished chan struct{}
}

func (f *slowImporter) Import(ctx context.Context, p string) (*store.Book, error) {
	close(f.started)
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	close(f.finished)
	return nil, ctx.Err()
}

func TestStopWaitsForRunningImport(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "long.epub"), []byte("epub"), 0o644); err != nil {
		t.Fatal(err)
	}
	imp := &slowImporter{
		fakeImporter: fakeImporter{dir: t.TempDir()},
		started:      make(chan struct{}),
		finished:     make(chan struct{}),
	}
	s, err := New(root, imp, nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Settle = 20 * time.Millisecond
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-imp.started:
	case <-time.After(5 * time.Second):
		t.Fatal("import never started")
	}
	s.Stop()
	select {
	case <-imp.finished:
	default:
		t.Fatal("Stop returned while an import was running")
	}
	if _, err := os.Stat(filepath.Join(root, "long.epub")); err != nil {
		t.Fatalf("cancelled import removed the original: %v", err)
	}
}

func TestIsCandidate(t *testing.T) {
	for p, want := range map[string]bool{
		"/a/book.epub": true,
		"/a/BOOK.EPUB": true,
		"/a/.hidden.epub": false,
		"/a/book.pdf":  false,
	} {
		if got := isCandidate(p); got != want {
			t.Errorf("isCandidate(%q) = %v", p, got)
		}
	}
}
