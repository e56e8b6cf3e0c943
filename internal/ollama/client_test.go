package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/WhiteHades/mereader/internal/apperr"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL + "/", LLMModel: "llm", EmbeddingModel: "embed", Concurrency: 2}, nil)
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	var calls atomic.Int32
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "embed" {
			t.Errorf("model = %q", req["model"])
		}
		fmt.Fprintf(w, `{"embedding":[%d, 1]}`, len(req["prompt"]))
	})

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
	for i, want := range []float32{1, 3, 2} {
		if vecs[i][0] != want {
			t.Errorf("vecs[%d] = %v, want %v", i, vecs[i], want)
		}
	}
}

func TestErrorsAreUnavailable(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})
	_, err := c.Embed(context.Background(), "x")
	if !apperr.Is(err, apperr.KindUnavailable) || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
	if c.Available(context.Background()) {
		t.Fatalf("Available on failing server")
	}

	down := New(Options{BaseURL: "http://127.0.0.1:1"}, nil)
	if err := down.Ping(context.Background()); !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("transport err = %v", err)
	}
}

func TestEmptyEmbedding(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	if _, err := c.Embed(context.Background(), "x"); !apperr.Is(err, apperr.KindUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerate(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream || req.System != "sys" || req.Options["num_predict"] != float64(50) || req.Options["temperature"] != 0.3 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"response":"hello","done":true}`))
	})
	out, err := c.Generate(context.Background(), "hi", GenerateOptions{System: "sys", Temperature: 0.3, MaxTokens: 50})
	if err != nil || out != "hello" {
		t.Fatalf("Generate = %q, %v", out, err)
	}
}

func TestGenerateStream(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Errorf("stream not requested")
		}
		w.Write([]byte("{\"response\":\"The \"}\n\nnot json\n{\"response\":\"end\"}\n{\"response\":\"\",\"done\":true}\n"))
	})
	var tokens []string
	out, err := c.GenerateStream(context.Background(), "hi", GenerateOptions{}, func(s string) error {
		tokens = append(tokens, s)
		return nil
	})
	if err != nil || out != "The end" || len(tokens) != 2 {
		t.Fatalf("GenerateStream = %q %v %v", out, tokens, err)
	}
}

func TestPing(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/version" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"version":"0.6.0"}`))
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
