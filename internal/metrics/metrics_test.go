package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.ObserveRequest("GET", "/api/books", 200, 10*time.Millisecond)
	m.Imported(true)
	m.Imported(false)
	m.Embedded(7)
	m.SetOllamaUp(true)

	if got := testutil.ToFloat64(m.RequestCount.WithLabelValues("GET", "/api/books", "200")); got != 1 {
		t.Fatalf("requests = %v", got)
	}
	if got := testutil.ToFloat64(m.ChunksEmbedded); got != 7 {
		t.Fatalf("chunks = %v", got)
	}
	if got := testutil.ToFloat64(m.ImportFailures); got != 1 {
		t.Fatalf("import failures = %v", got)
	}
	if got := testutil.ToFloat64(m.OllamaUp); got != 1 {
		t.Fatalf("ollama up = %v", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.Embedded(3)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "mereader_chunks_embedded_total 3") {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("GET", "/", 200, time.Second)
	m.ObserveQuery("ask", time.Second)
	m.Imported(true)
	m.Embedded(1)
	m.Indexed(time.Second, nil)
	m.SetOllamaUp(false)
}
