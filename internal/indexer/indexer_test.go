package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/bm25"
	"github.com/WhiteHades/mereader/internal/events"
	"github.com/WhiteHades/mereader/internal/ollama"
	"github.com/WhiteHades/mereader/internal/store"
	"github.com/WhiteHades/mereader/internal/vector"
)

type fakeLLM struct {
	mu       sync.Mutex
	embedErr error
	prompts  []string
}

func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 1}, nil
}

func (f *fakeLLM) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(i + 1)}
	}
	return out, nil
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ollama.GenerateOptions) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return "A keeper climbs.", nil
}

type fakeBooks struct {
	book     *store.Book
	chapters []store.Chapter
}

func (f *fakeBooks) GetBook(ctx context.Context, id string) (*store.Book, error) {
	if f.book == nil || f.book.ID != id {
		return nil, apperr.NotFound("Book with ID %s not found", id)
	}
	return f.book, nil
}

func (f *fakeBooks) Chapters(ctx context.Context, bookID string) ([]store.Chapter, error) {
	return f.chapters, nil
}

func fixture(t *testing.T) (*fakeBooks, string) {
	t.Helper()
	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&sb, "The keeper climbed stair %d. ", i)
	}
	prose := "<html><body><p>" + sb.String() + "</p></body></html>"
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return p
	}
	b := &fakeBooks{
		book: &store.Book{ID: "b1", Title: "Lamp", ContentPath: dir, TotalLocations: 30},
		chapters: []store.Chapter{
			{ID: "c1", Title: "One", Order: 1, ContentPath: write("chapter_1.html", prose), StartLocation: 1, EndLocation: 20},
			{ID: "c2", Title: "Two", Order: 2, ContentPath: write("chapter_2.html", "<p>x</p>"), StartLocation: 21, EndLocation: 21},
			{ID: "c3", Title: "Three", Order: 3, ContentPath: filepath.Join(dir, "missing.html"), StartLocation: 22, EndLocation: 30},
		},
	}
	return b, dir
}

func newIndexer(t *testing.T, books Books, llm LLM) *Indexer {
	t.Helper()
	vs, err := vector.OpenMemory(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vs.Close() })
	return New(Deps{
		Books:   books,
		LLM:     llm,
		Vectors: vs,
		BM25:    bm25.NewCache(t.TempDir(), nil),
		Events:  events.NewHub(),
	}, Options{ChunkSize: 200, ChunkOverlap: 50, MinChunkSize: 20, BatchSize: 3, SummaryInterval: 5})
}

func TestIndexBook(t *testing.T) {
	books, _ := fixture(t)
	llm := &fakeLLM{}
	ix := newIndexer(t, books, llm)
	sub := ix.Events.Subscribe()

	n, err := ix.IndexBook(context.Background(), "b1")
	if err != nil {
		t.Fatalf("IndexBook: %v", err)
	}
	if n < 3 {
		t.Fatalf("embedded %d chunks", n)
	}

	count, _ := ix.Vectors.Count("b1")
	if count != n+3 {
		t.Fatalf("vectors = %d, want %d chunks + 3 summaries", count, n)
	}
	sums, _ := ix.Vectors.Search([]float32{1, 1}, vector.Filter{BookID: "b1", ContentType: vector.TypeSummary})
	if len(sums) != 3 {
		t.Fatalf("summaries = %+v", sums)
	}
	for _, s := range sums {
		if s.Location != 5 && s.Location != 10 && s.Location != 15 {
			t.Fatalf("summary at unexpected location %d", s.Location)
		}
	}
	if !strings.Contains(llm.prompts[0], "(location 5)") {
		t.Fatalf("prompt = %q", llm.prompts[0])
	}

	res, err := ix.BM25.Search("keeper", "b1", 30, 5)
	if err != nil || len(res) == 0 {
		t.Fatalf("keyword search = %v, %v", res, err)
	}
	for _, r := range res {
		if r.ChapterID != "c1" || r.Location < 1 || r.Location > 20 {
			t.Fatalf("keyword entry = %+v", r)
		}
	}

	if first := <-sub; first.Type != events.IndexStarted {
		t.Fatalf("first event = %s", first.Type)
	}
	var last events.Event
	for len(sub) > 0 {
		last = <-sub
	}
	if last.Type != events.IndexCompleted {
		t.Fatalf("last event = %s", last.Type)
	}

	st := ix.Status("b1")
	if st.State != StateCompleted || st.Chunks != n || !st.Keyword || st.Vectors != count {
		t.Fatalf("status = %+v", st)
	}

	again, err := ix.IndexBook(context.Background(), "b1")
	if err != nil || again != 0 {
		t.Fatalf("second run = %d, %v", again, err)
	}
}

func TestIndexBookFailureCleansUp(t *testing.T) {
	books, _ := fixture(t)
	ix := newIndexer(t, books, &fakeLLM{embedErr: apperr.Unavailable(errors.New("refused"), "Request to Ollama API failed")})
	sub := ix.Events.Subscribe()

	_, err := ix.IndexBook(context.Background(), "b1")
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if ix.Vectors.HasBook("b1") {
		t.Fatalf("partial vectors left behind")
	}
	if ix.BM25.Exists("b1") {
		t.Fatalf("keyword index left behind")
	}
	var types []events.Type
	for len(sub) > 0 {
		types = append(types, (<-sub).Type)
	}
	if types[len(types)-1] != events.IndexFailed {
		t.Fatalf("events = %v", types)
	}
}

func TestIndexBookMissing(t *testing.T) {
	ix := newIndexer(t, &fakeBooks{}, &fakeLLM{})
	if _, err := ix.IndexBook(context.Background(), "nope"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v", err)
	}
	if st := ix.Status("nope"); st.State != StateFailed {
		t.Fatalf("status = %+v", st)
	}
}

func TestWorker(t *testing.T) {
	books, _ := fixture(t)
	ix := newIndexer(t, books, &fakeLLM{})
	sub := ix.Events.Subscribe()
	ix.Start(context.Background())
	defer ix.Stop()

	if err := ix.Enqueue("b1"); err != nil {
		t.Fatal(err)
	}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-sub:
			if e.Type == events.IndexCompleted {
				if ix.Busy() {
					t.Fatalf("indexer still busy after completion")
				}
				return
			}
			if e.Type == events.IndexFailed {
				t.Fatalf("indexing failed: %v", e.Data)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for indexing")
		}
	}
}

func TestReindex(t *testing.T) {
	books, _ := fixture(t)
	ix := newIndexer(t, books, &fakeLLM{})
	if _, err := ix.IndexBook(context.Background(), "b1"); err != nil {
		t.Fatal(err)
	}
	if err := ix.Reindex("b1"); err != nil {
		t.Fatal(err)
	}
	if ix.Vectors.HasBook("b1") || ix.BM25.Exists("b1") {
		t.Fatalf("reindex kept old index")
	}
	if st := ix.Status("b1"); st.State != StateQueued {
		t.Fatalf("status = %+v", st)
	}
}

func TestChunkLocation(t *testing.T) {
	ch := store.Chapter{StartLocation: 1, EndLocation: 20}
	for i, want := range []int{5, 10, 15} {
		if got := chunkLocation(ch, i, 3); got != want {
			t.Errorf("chunkLocation(%d) = %d, want %d", i, got, want)
		}
	}
	flat := store.Chapter{StartLocation: 7, EndLocation: 7}
	if got := chunkLocation(flat, 0, 4); got != 7 {
		t.Errorf("flat chapter location = %d", got)
	}
}

func TestSummaryID(t *testing.T) {
	if summaryID("b1", 11) != summaryID("b1", 11) {
		t.Fatalf("summary id not deterministic")
	}
	if summaryID("b1", 11) == summaryID("b1", 22) {
		t.Fatalf("summary ids collide")
	}
}

// stallingLLM blocks every batch until the context ends.
type stallingLLM struct {
	fakeLLM
	started chan struct{}
	once    sync.Once
}

func (s *stallingLLM) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStopClearsQueuedBooks(t *testing.T) {
	books, _ := fixture(t)
	llm := &stallingLLM{started: make(chan struct{})}
	ix := newIndexer(t, books, llm)
	ix.Start(context.Background())

	if err := ix.Enqueue("b1"); err != nil {
		t.Fatal(err)
	}
	if err := ix.Enqueue("b2"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-llm.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker never started embedding")
	}
	if !ix.Busy() {
		t.Fatalf("indexer idle while embedding")
	}

	ix.Stop()
	if ix.Busy() {
		t.Fatalf("indexer still busy after Stop")
	}
	for _, id := range []string{"b1", "b2"} {
		if st := ix.Status(id); st.State != StateNone {
			t.Fatalf("%s status = %+v", id, st)
		}
	}
	if ix.Vectors.HasBook("b1") {
		t.Fatalf("cancelled book kept partial vectors")
	}
}
