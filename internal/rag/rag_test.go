package rag

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/WhiteHades/mereader/internal/apperr"
	"github.com/WhiteHades/mereader/internal/bm25"
	"github.com/WhiteHades/mereader/internal/config"
	"github.com/WhiteHades/mereader/internal/ollama"
	"github.com/WhiteHades/mereader/internal/store"
	"github.com/WhiteHades/mereader/internal/vector"
)

type fakeLLM struct {
	mu       sync.Mutex
	prompt   string
	opts     ollama.GenerateOptions
	rankResp string
}

// Embed points the expanded query away from every stored passage.
func (f *fakeLLM) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "harbor light") {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ollama.GenerateOptions) (string, error) {
	switch {
	case strings.Contains(prompt, "Generate 2 alternative queries"):
		return "Here you go:\n1. Who keeps the harbor light\n2. short\n3. ignored third", nil
	case strings.Contains(prompt, "Rate each passage"):
		return f.rankResp, nil
	}
	f.mu.Lock()
	f.prompt, f.opts = prompt, opts
	f.mu.Unlock()
	return "The keeper lit the lamp.", nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts ollama.GenerateOptions, onToken func(string) error) (string, error) {
	f.mu.Lock()
	f.prompt, f.opts = prompt, opts
	f.mu.Unlock()
	for _, tok := range []string{"The keeper ", "lit the lamp."} {
		if err := onToken(tok); err != nil {
			return "", err
		}
	}
	return "The keeper lit the lamp.", nil
}

type fakeLibrary struct {
	book     *store.Book
	progress *store.Progress
}

func (f *fakeLibrary) GetBook(ctx context.Context, id string) (*store.Book, error) {
	if f.book == nil || f.book.ID != id {
		return nil, apperr.NotFound("Book with ID %s not found", id)
	}
	return f.book, nil
}

func (f *fakeLibrary) GetProgress(ctx context.Context, bookID string) (*store.Progress, error) {
	if f.progress == nil {
		return nil, apperr.NotFound("Reading progress for book %s not found", bookID)
	}
	return f.progress, nil
}

type fakeKeywords struct{ boundary int }

func (f *fakeKeywords) Search(query, bookID string, boundary, limit int) ([]bm25.Result, error) {
	f.boundary = boundary
	return []bm25.Result{{Score: 0.95, Entry: bm25.Entry{Text: "The harbor bell rang twice.", ChapterTitle: "One", Location: 3}}}, nil
}

func retrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		BM25Limit: 10, BM25Weight: 0.4,
		VectorLimit: 15, VectorThreshold: 0.6,
		SummaryLimit: 5, SummaryThreshold: 0.65, SummaryWeight: 0.4,
		ExpandedLimit: 5, ExpandedThreshold: 0.5, ExpandedWeight: 0.7,
		RerankTrigger: 8, RerankWindow: 15, FinalContextLimit: 25, DefaultLimit: 10,
	}
}

func newService(t *testing.T, withVectors bool) (*Service, *fakeLLM, *fakeKeywords, *fakeLibrary) {
	t.Helper()
	vs, err := vector.OpenMemory(nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vs.Close() })
	if withVectors {
		pt := func(id string, loc int, typ, text string, v ...float32) vector.Point {
			return vector.Point{ID: id, Vector: v, Payload: vector.Payload{BookID: "b1", ChapterTitle: "One",
				Location: loc, ContentType: typ, Text: text}}
		}
		err := vs.Upsert([]vector.Point{
			pt("p1", 5, vector.TypeContent, "The keeper climbed the tower.", 1, 0),
			pt("p2", 8, vector.TypeContent, "A storm gathered over the bay.", 0.9, 0.1),
			pt("p3", 20, vector.TypeContent, "SPOILER the keeper was a ghost.", 1, 0),
			pt("s1", 6, vector.TypeSummary, "The keeper tends the light alone.", 1, 0),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	lib := &fakeLibrary{
		book:     &store.Book{ID: "b1", Title: "Lamp", TotalLocations: 30},
		progress: &store.Progress{BookID: "b1", CurrentLocation: 10, CompletionPercentage: 33.33},
	}
	llm := &fakeLLM{}
	kw := &fakeKeywords{}
	return New(llm, lib, vs, kw, retrievalConfig(), nil, nil), llm, kw, lib
}

func TestAskStaysBeforeReader(t *testing.T) {
	s, llm, kw, _ := newService(t, true)
	a, err := s.Ask(context.Background(), "b1", "Who is the keeper?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if a.Response != "The keeper lit the lamp." || a.BookTitle != "Lamp" || a.LocationBoundary != 10 {
		t.Fatalf("answer = %+v", a)
	}
	if kw.boundary != 10 {
		t.Fatalf("keyword boundary = %d", kw.boundary)
	}
	methods := map[Method]bool{}
	for _, sn := range a.ContextUsed {
		if strings.Contains(sn.Text, "SPOILER") {
			t.Fatalf("passage past the reader leaked: %+v", sn)
		}
		methods[sn.SearchMethod] = true
	}
	for _, m := range []Method{MethodVector, MethodBM25, MethodSummary} {
		if !methods[m] {
			t.Errorf("no %s passage in %+v", m, a.ContextUsed)
		}
	}
	if llm.opts.System != SystemPrompt || llm.opts.Temperature != 0.7 {
		t.Fatalf("generate options = %+v", llm.opts)
	}
	if !strings.HasPrefix(llm.prompt, "BOOK CONTEXT INFORMATION:\n--- SECTION SUMMARIES ---") {
		t.Fatalf("prompt does not lead with summaries:\n%s", llm.prompt)
	}
	for _, want := range []string{"approximately 33.3% of the book", "[KW] (Chapter: One, Loc: 3)", "USER QUESTION: Who is the keeper?\n\nANSWER:"} {
		if !strings.Contains(llm.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestAskWithoutContext(t *testing.T) {
	s, llm, _, _ := newService(t, false)
	s.keywords = nil
	a, err := s.Ask(context.Background(), "b1", "Who is the keeper?")
	if err != nil {
		t.Fatal(err)
	}
	if a.Response != NoContextAnswer || a.ContextUsed == nil || len(a.ContextUsed) != 0 {
		t.Fatalf("answer = %+v", a)
	}
	if llm.prompt != "" {
		t.Fatalf("answer generated without context")
	}
}

func TestAskErrors(t *testing.T) {
	s, _, _, lib := newService(t, true)
	if _, err := s.Ask(context.Background(), "b1", "  "); !apperr.Is(err, apperr.KindInvalid) {
		t.Fatalf("empty query err = %v", err)
	}
	if _, err := s.Ask(context.Background(), "nope", "Who?"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("missing book err = %v", err)
	}
	lib.progress = nil
	if _, err := s.Ask(context.Background(), "b1", "Who?"); !apperr.Is(err, apperr.KindInvalid) {
		t.Fatalf("missing progress err = %v", err)
	}
}

func TestChat(t *testing.T) {
	s, llm, _, _ := newService(t, true)
	msgs := []Message{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "Where are we?"},
		{Role: "assistant", Content: "On the island."},
		{Role: "user", Content: "Who is the keeper?"},
	}
	a, err := s.Chat(context.Background(), "b1", msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Messages) != 5 || a.Messages[4].Role != "assistant" || a.Messages[4].Content != a.Response {
		t.Fatalf("messages = %+v", a.Messages)
	}
	if !strings.Contains(llm.prompt, "CONVERSATION SO FAR:\nUSER: Where are we?\nASSISTANT: On the island.\n") {
		t.Fatalf("history missing:\n%s", llm.prompt)
	}
	if strings.Contains(llm.prompt, "ignored") {
		t.Fatalf("system message leaked into history")
	}
	if _, err := s.Chat(context.Background(), "b1", []Message{{Role: "assistant", Content: "hi"}}); !apperr.Is(err, apperr.KindInvalid) {
		t.Fatalf("chat without user message err = %v", err)
	}
}

func TestStream(t *testing.T) {
	s, _, _, _ := newService(t, true)
	var toks []string
	a, err := s.Stream(context.Background(), "b1", "Who is the keeper?", func(tok string) error {
		toks = append(toks, tok)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(toks, "") != a.Response {
		t.Fatalf("tokens %q do not add up to %q", toks, a.Response)
	}
}

func TestParseExpansions(t *testing.T) {
	got := parseExpansions("1. Who keeps the light\n 2. Keeper's name \n3. third\n2. tiny")
	want := []string{"Who keeps the light", "Keeper's name"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseExpansions = %q", got)
	}
}

func TestParseRankings(t *testing.T) {
	got := parseRankings("[1]: 12\n[2]: 0\n[3]:7\n[9]: 5\nnoise", 3)
	want := map[int]int{0: 10, 1: 1, 2: 7}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseRankings = %v", got)
	}
}

func TestNormalizeAndDedupe(t *testing.T) {
	ps := []Passage{{Text: "a", Score: 2}, {Text: "b", Score: 1}}
	normalize(ps, 0.5)
	if ps[0].Score != 0.5 || ps[1].Score != 0.25 {
		t.Fatalf("normalize = %+v", ps)
	}
	zero := []Passage{{Score: 0}}
	normalize(zero, 0.5)
	if zero[0].Score != 0 {
		t.Fatalf("zero group = %+v", zero)
	}

	long := strings.Repeat("x", 100)
	out := dedupe([]Passage{{Text: long + "1", Score: 0.2}, {Text: long + "2", Score: 0.9}, {Text: "c", Score: 0.5}})
	if len(out) != 2 || out[0].Text != long+"2" || out[1].Text != "c" {
		t.Fatalf("dedupe = %+v", out)
	}
}

func TestRerank(t *testing.T) {
	s, llm, _, _ := newService(t, false)
	llm.rankResp = "[2]: 9\n[1]: 3\n[7]: 10"
	ps := []Passage{
		{Text: "p0", Score: 0.9}, {Text: "p1", Score: 0.8}, {Text: "p2", Score: 0.7},
		{Text: "p3", Score: 0.6}, {Text: "p4", Score: 0.5}, {Text: "p5", Score: 0.4},
	}
	s.cfg.RerankWindow = 5
	out := s.rerank(context.Background(), "who lit the lamp", "Lamp", ps)
	var got []string
	for _, p := range out {
		got = append(got, p.Text)
	}
	want := []string{"p1", "p0", "p2", "p3", "p4", "p5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rerank order = %v", got)
	}

	few := ps[:4]
	if out := s.rerank(context.Background(), "q", "Lamp", few); len(out) != 4 || out[0].Text != "p0" {
		t.Fatalf("short list reranked: %+v", out)
	}
}
